package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"

	"github.com/danmuck/regctl/internal/observability"
	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/protocol/session"
)

const DefaultProvidersLink = "https://providers.xmpp.net/"

var ErrInvalidConfig = errors.New("config: invalid config")

// Config is the regctl application configuration.
type Config struct {
	// AllowRegistration gates every registration attempt.
	AllowRegistration bool
	// RegistrationDomain pre-seeds attempts and skips the provider choice.
	RegistrationDomain string
	// ProvidersLink is shown when the user has to pick a provider.
	ProvidersLink string
	MetricsAddr   string
	Transport     session.Config
	Tracing       observability.TracingConfig
}

func Default() Config {
	return Config{
		AllowRegistration: true,
		ProvidersLink:     DefaultProvidersLink,
		Transport:         session.DefaultConfig(),
		Tracing:           observability.DefaultTracingConfig(),
	}
}

type fileConfig struct {
	AllowRegistration  bool          `toml:"allow_registration"`
	RegistrationDomain string        `toml:"registration_domain"`
	ProvidersLink      string        `toml:"providers_link"`
	MetricsAddr        string        `toml:"metrics_addr"`
	Transport          transportFile `toml:"transport"`
	Tracing            tracingFile   `toml:"tracing"`
}

type transportFile struct {
	Address            string `toml:"address"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	ResponseTimeout    string `toml:"response_timeout"`
	SecurityMode       string `toml:"security_mode"`
	TLSMode            string `toml:"tls_mode"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
}

type tracingFile struct {
	Enabled     bool    `toml:"enabled"`
	Exporter    string  `toml:"exporter"`
	FilePath    string  `toml:"file_path"`
	ServiceName string  `toml:"service_name"`
	SampleRate  float64 `toml:"sample_rate"`
}

// Load reads path and overlays every key it defines on Default, then
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("allow_registration") {
		cfg.AllowRegistration = raw.AllowRegistration
	}
	if meta.IsDefined("registration_domain") {
		cfg.RegistrationDomain = strings.TrimSpace(raw.RegistrationDomain)
	}
	if meta.IsDefined("providers_link") {
		cfg.ProvidersLink = strings.TrimSpace(raw.ProvidersLink)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if err := overlayTransport(meta, raw.Transport, &cfg.Transport); err != nil {
		return Config{}, err
	}
	overlayTracing(meta, raw.Tracing, &cfg.Tracing)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayTransport(meta toml.MetaData, raw transportFile, out *session.Config) error {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &out.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &out.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &out.WriteTimeout},
		{"response_timeout", raw.ResponseTimeout, &out.ResponseTimeout},
		{"backoff_initial", raw.BackoffInitial, &out.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &out.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("transport", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("parse transport.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("transport", "address") {
		out.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("transport", "security_mode") {
		out.SecurityMode = session.SecurityMode(raw.SecurityMode)
	}
	if meta.IsDefined("transport", "tls_mode") {
		out.TLS.Mode = session.TLSMode(raw.TLSMode)
	}
	if meta.IsDefined("transport", "ca_file") {
		out.TLS.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("transport", "server_name") {
		out.TLS.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("transport", "insecure_skip_verify") {
		out.TLS.InsecureSkipVerify = raw.InsecureSkipVerify
	}
	if meta.IsDefined("transport", "max_connect_attempts") {
		out.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	return nil
}

func overlayTracing(meta toml.MetaData, raw tracingFile, out *observability.TracingConfig) {
	if meta.IsDefined("tracing", "enabled") {
		out.Enabled = raw.Enabled
	}
	if meta.IsDefined("tracing", "exporter") {
		out.Exporter = strings.ToLower(strings.TrimSpace(raw.Exporter))
	}
	if meta.IsDefined("tracing", "file_path") {
		out.FilePath = strings.TrimSpace(raw.FilePath)
	}
	if meta.IsDefined("tracing", "service_name") {
		out.ServiceName = strings.TrimSpace(raw.ServiceName)
	}
	if meta.IsDefined("tracing", "sample_rate") {
		out.SampleRate = raw.SampleRate
	}
}

func (c Config) Validate() error {
	if c.RegistrationDomain != "" {
		if _, err := protocol.DomainFromJID(c.RegistrationDomain); err != nil {
			return fmt.Errorf("%w: registration_domain: %w", ErrInvalidConfig, err)
		}
	}
	if c.ProvidersLink != "" {
		u, err := url.Parse(c.ProvidersLink)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: providers_link must be an http(s) url: %q", ErrInvalidConfig, c.ProvidersLink)
		}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("%w: metrics_addr: %w", ErrInvalidConfig, err)
		}
	}
	if err := c.Transport.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: transport: %w", ErrInvalidConfig, err)
	}
	switch c.Tracing.Exporter {
	case observability.ExporterStdout, observability.ExporterFile, observability.ExporterNone, "":
	default:
		return fmt.Errorf("%w: tracing.exporter %q", ErrInvalidConfig, c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == observability.ExporterFile && c.Tracing.FilePath == "" {
		return fmt.Errorf("%w: tracing.file_path required for file exporter", ErrInvalidConfig)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Encode writes c as TOML in the same layout Load reads.
func Encode(w io.Writer, c Config) error {
	t := c.Transport
	out := fileConfig{
		AllowRegistration:  c.AllowRegistration,
		RegistrationDomain: c.RegistrationDomain,
		ProvidersLink:      c.ProvidersLink,
		MetricsAddr:        c.MetricsAddr,
		Transport: transportFile{
			Address:            t.Address,
			ConnectTimeout:     t.ConnectTimeout.String(),
			HandshakeTimeout:   t.HandshakeTimeout.String(),
			WriteTimeout:       t.WriteTimeout.String(),
			ResponseTimeout:    t.ResponseTimeout.String(),
			SecurityMode:       string(t.SecurityMode),
			TLSMode:            string(t.TLS.Mode),
			CAFile:             t.TLS.CAFile,
			ServerName:         t.TLS.ServerName,
			InsecureSkipVerify: t.TLS.InsecureSkipVerify,
			MaxConnectAttempts: t.MaxConnectAttempts,
			BackoffInitial:     t.Backoff.InitialDelay.String(),
			BackoffMax:         t.Backoff.MaxDelay.String(),
		},
		Tracing: tracingFile{
			Enabled:     c.Tracing.Enabled,
			Exporter:    c.Tracing.Exporter,
			FilePath:    c.Tracing.FilePath,
			ServiceName: c.Tracing.ServiceName,
			SampleRate:  c.Tracing.SampleRate,
		},
	}
	return gotoml.NewEncoder(w).Encode(out)
}
