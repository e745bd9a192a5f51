package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterFile   = "file"
)

// TracingConfig selects how IQ round-trip spans are exported.
type TracingConfig struct {
	Enabled     bool
	Exporter    string
	FilePath    string
	ServiceName string
	SampleRate  float64
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		Exporter:    ExporterStdout,
		ServiceName: "regctl",
		SampleRate:  1.0,
	}
}

// Provider wraps the tracer provider so callers get a usable Tracer even
// when tracing is disabled.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	closer   io.Closer
}

func NewTracerProvider(cfg TracingConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer("noop")}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		closer   io.Closer
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case ExporterStdout, "":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case ExporterFile:
		if strings.TrimSpace(cfg.FilePath) == "" {
			return nil, fmt.Errorf("observability: file_path required for file exporter")
		}
		var f *os.File
		f, err = os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("observability: open trace file: %w", err)
		}
		closer = f
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(f))
	case ExporterNone:
	default:
		return nil, fmt.Errorf("observability: unsupported trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: create trace exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "regctl"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}
	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		closer:   closer,
	}, nil
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	err := p.provider.Shutdown(ctx)
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
