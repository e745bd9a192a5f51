package session

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danmuck/regctl/internal/observability"
	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Conn is a negotiated, unauthenticated client stream. Responses are routed
// to handlers registered with OnResponse; a request with no response within
// the configured timeout receives a synthesized remote-server-timeout error.
type Conn struct {
	domain   string
	cfg      Config
	nc       net.Conn
	dec      *xml.Decoder
	features protocol.Features
	pending  *PendingRequests
	tracer   trace.Tracer
	log      zerolog.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newConn(domain string, cfg Config, n *negotiated, tracer trace.Tracer, logger zerolog.Logger) *Conn {
	c := &Conn{
		domain:   domain,
		cfg:      cfg,
		nc:       n.conn,
		dec:      n.dec,
		features: n.features,
		pending:  NewPendingRequests(),
		tracer:   tracer,
		log:      logger,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) Domain() string {
	return c.domain
}

// StreamFeatures returns the features advertised on the final stream.
func (c *Conn) StreamFeatures() protocol.Features {
	return c.features
}

// OnResponse registers a one-shot handler for the response carrying id.
func (c *Conn) OnResponse(id string, handler func(*stanza.Element)) {
	c.pending.Register(id, handler)
}

// AbortPending drops every registered handler without invoking it.
func (c *Conn) AbortPending() {
	if ids := c.pending.AbortAll(); len(ids) > 0 {
		c.log.Debug().Strs("iq_ids", ids).Msg("aborted pending requests")
	}
}

// Pending returns a snapshot of outstanding requests.
func (c *Conn) Pending() []PendingRequest {
	return c.pending.List()
}

// Done is closed when the stream ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the stream ended, or nil while it is open.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes st. For get and set IQs with a registered handler it also
// starts the response timer and a round-trip span.
func (c *Conn) Send(ctx context.Context, st *stanza.Element) error {
	if stanza.IsIQ(st) {
		if err := stanza.ValidateIQ(st); err != nil {
			return err
		}
	}
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	payload, err := xml.Marshal(st)
	if err != nil {
		return err
	}

	id, typ := stanza.ID(st), stanza.Type(st)
	tracked := false
	if stanza.IsIQ(st) && (typ == stanza.IQGet || typ == stanza.IQSet) {
		tracked = c.track(ctx, id, typ, st)
	}
	if err := c.write(ctx, payload); err != nil {
		if tracked {
			c.pending.Take(id, "send_error")
		}
		return err
	}
	c.log.Debug().Str("iq_id", id).Str("type", typ).Msg("sent stanza")
	return nil
}

func (c *Conn) track(ctx context.Context, id, typ string, st *stanza.Element) bool {
	payloadName := ""
	if first := st.FirstChild(); first != nil {
		payloadName = first.XMLName.Space
	}
	_, span := c.tracer.Start(ctx, "xmpp.iq."+typ, trace.WithAttributes(
		attribute.String("xmpp.domain", c.domain),
		attribute.String("xmpp.iq.id", id),
		attribute.String("xmpp.iq.payload", payloadName),
	))
	start := time.Now()
	finish := func(result string) {
		observability.RecordRoundTrip(typ, result, time.Since(start))
		span.SetAttributes(attribute.String("xmpp.iq.result", result))
		if result != stanza.IQResult {
			span.SetStatus(codes.Error, result)
		}
		span.End()
	}
	if !c.pending.MarkSent(id, typ, start, c.cfg.ResponseTimeout, c.timeout, finish) {
		span.End()
		return false
	}
	return true
}

func (c *Conn) write(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.nc.Write(payload)
	return err
}

func (c *Conn) timeout(id string) {
	item, ok := c.pending.Take(id, "timeout")
	if !ok {
		return
	}
	c.log.Warn().Str("iq_id", id).Dur("timeout", c.cfg.ResponseTimeout).Msg("iq response timed out")
	item.Deliver(timeoutError(id, c.cfg.ResponseTimeout))
}

func timeoutError(id string, after time.Duration) *stanza.Element {
	return stanza.NewIQ(stanza.IQError, id,
		stanza.NewElement("", "error").WithAttr("type", "wait").Append(
			stanza.NewElement(stanza.NSStanzas, "remote-server-timeout"),
			stanza.NewElement(stanza.NSStanzas, "text").WithText(fmt.Sprintf("no response within %s", after)),
		))
}

func (c *Conn) readLoop() {
	defer close(c.loopDone)
	for {
		el, err := nextElement(c.dec)
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(el)
	}
}

func (c *Conn) dispatch(el *stanza.Element) {
	if !stanza.IsIQ(el) {
		c.log.Debug().Str("element", el.XMLName.Local).Msg("ignoring non-iq stanza")
		return
	}
	id, typ := stanza.ID(el), stanza.Type(el)
	switch typ {
	case stanza.IQResult, stanza.IQError:
		item, ok := c.pending.Take(id, typ)
		if !ok {
			c.log.Debug().Str("iq_id", id).Msg("dropping unmatched response")
			return
		}
		item.Deliver(el)
	case stanza.IQGet, stanza.IQSet:
		// Unauthenticated streams answer every server request as unsupported.
		reply := stanza.NewIQ(stanza.IQError, id,
			stanza.NewElement("", "error").WithAttr("type", "cancel").Append(
				stanza.NewElement(stanza.NSStanzas, "service-unavailable")))
		if from := el.Attr("from"); from != "" {
			reply.SetAttr("to", from)
		}
		if err := c.Send(context.Background(), reply); err != nil {
			c.log.Debug().Err(err).Str("iq_id", id).Msg("reply to server request failed")
		}
	}
}

// shutdown records err, closes the socket and drops pending handlers.
func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			err = ErrStreamClosed
		}
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		_ = c.nc.Close()
		close(c.done)
		c.AbortPending()
		c.log.Debug().Err(err).Str("domain", c.domain).Msg("stream ended")
	})
}

func (c *Conn) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

// Close ends the stream and waits for the read loop to exit.
func (c *Conn) Close() error {
	select {
	case <-c.done:
	default:
		c.writeMu.Lock()
		_ = c.nc.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = io.WriteString(c.nc, streamClose)
		c.writeMu.Unlock()
		c.shutdown(ErrStreamClosed)
	}
	<-c.loopDone
	return nil
}
