package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/danmuck/regctl/internal/observability"
	"github.com/danmuck/regctl/internal/protocol"
)

var ErrDial = errors.New("session: dial failed")

const defaultClientPort = 5222

// Resolver looks up SRV records; *net.Resolver satisfies it.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

type ClientOption func(*Client)

func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = logger
	}
}

func WithResolver(r Resolver) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.resolver = r
		}
	}
}

// Client dials and negotiates registration streams.
type Client struct {
	cfg      Config
	rng      *rand.Rand
	tracer   trace.Tracer
	log      zerolog.Logger
	resolver Resolver
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		tracer:   noop.NewTracerProvider().Tracer("noop"),
		log:      observability.NewLogger("session"),
		resolver: net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials domain (which may be a full JID) and negotiates the stream
// up to, but not including, authentication. Dial failures are retried with
// backoff; negotiation failures are not.
func (c *Client) Connect(ctx context.Context, domain string) (*Conn, error) {
	domain, err := protocol.DomainFromJID(domain)
	if err != nil {
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, "xmpp.connect", trace.WithAttributes(attribute.String("xmpp.domain", domain)))
	defer span.End()

	var attempt int
	for {
		attempt++
		conn, err := c.connectOnce(ctx, domain)
		observability.RecordConnectAttempt(err == nil)
		if err == nil {
			span.SetAttributes(
				attribute.Bool("xmpp.feature.register", conn.features.Register),
				attribute.Bool("xmpp.tls", conn.features.TLSActive),
			)
			c.log.Debug().Str("domain", domain).Bool("register", conn.features.Register).
				Bool("tls", conn.features.TLSActive).Strs("mechanisms", conn.features.Mechanisms).
				Msg("stream negotiated")
			return conn, nil
		}
		c.log.Warn().Str("domain", domain).Int("attempt", attempt).Err(err).Msg("connect failed")
		if !retryable(err) || !c.shouldRetry(attempt) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if err := sleepBackoff(ctx, c.cfg.Backoff, attempt, c.rng); err != nil {
			return nil, err
		}
	}
}

func (c *Client) connectOnce(ctx context.Context, domain string) (*Conn, error) {
	nc, err := c.dial(ctx, domain)
	if err != nil {
		return nil, err
	}
	secured := false
	if c.cfg.TLS.Mode == TLSModeDirect {
		upgraded, err := handshakeTLS(ctx, nc, domain, c.cfg)
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		nc = upgraded
		secured = true
	}
	n, err := negotiate(ctx, nc, domain, c.cfg, secured)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return newConn(domain, c.cfg, n, c.tracer, c.log), nil
}

func (c *Client) dial(ctx context.Context, domain string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	var lastErr error
	for _, addr := range c.addresses(ctx, domain) {
		nc, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return nc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrDial, lastErr)
}

// addresses lists dial targets: the configured address, else the client SRV
// targets in priority order, else domain:5222.
func (c *Client) addresses(ctx context.Context, domain string) []string {
	if c.cfg.Address != "" {
		return []string{c.cfg.Address}
	}
	fallback := []string{net.JoinHostPort(domain, strconv.Itoa(defaultClientPort))}
	_, records, err := c.resolver.LookupSRV(ctx, "xmpp-client", "tcp", domain)
	if err != nil || len(records) == 0 {
		return fallback
	}
	var out []string
	for _, r := range records {
		target := strings.TrimSuffix(r.Target, ".")
		if target == "" {
			// A "." target means the service is explicitly unavailable.
			return fallback
		}
		out = append(out, net.JoinHostPort(target, strconv.Itoa(int(r.Port))))
	}
	return out
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrDial) || errors.Is(err, ErrStreamClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
