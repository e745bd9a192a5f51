package session

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

var (
	ErrStreamClosed   = errors.New("session: stream closed")
	ErrInvalidStream  = errors.New("session: invalid stream")
	ErrStartTLSFailed = errors.New("session: starttls failed")
	ErrTLSUnavailable = errors.New("session: server does not offer starttls")
	ErrTLSHandshake   = errors.New("session: tls handshake failed")
)

// StreamError is a <stream:error/> sent by the server.
type StreamError struct {
	Condition string
	Text      string
}

func (e *StreamError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("session: stream error %s: %s", e.Condition, e.Text)
	}
	return "session: stream error " + e.Condition
}

const streamClose = "</stream:stream>"

func writeStreamHeader(w io.Writer, domain string) error {
	_, err := fmt.Fprintf(w,
		"<?xml version='1.0'?><stream:stream to='%s' version='1.0' xml:lang='en' xmlns='%s' xmlns:stream='%s'>",
		domain, stanza.NSClient, stanza.NSStream)
	return err
}

// readStreamHeader consumes tokens up to the server's stream open tag.
func readStreamHeader(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.ProcInst, xml.CharData, xml.Comment:
		case xml.StartElement:
			if t.Name.Space == stanza.NSStream && t.Name.Local == "stream" {
				return nil
			}
			return fmt.Errorf("%w: expected stream open, got %s", ErrInvalidStream, t.Name.Local)
		default:
			return fmt.Errorf("%w: unexpected token %T", ErrInvalidStream, tok)
		}
	}
}

// nextElement returns the next top-level element of the stream, skipping
// whitespace keepalives. A closing stream tag yields ErrStreamClosed and a
// stream error yields *StreamError.
func nextElement(dec *xml.Decoder) (*stanza.Element, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &stanza.Element{}
			if err := el.UnmarshalXML(dec, t); err != nil {
				return nil, err
			}
			if el.Is(stanza.NSStream, "error") {
				return nil, parseStreamError(el)
			}
			return el, nil
		case xml.EndElement:
			return nil, ErrStreamClosed
		}
	}
}

func parseStreamError(el *stanza.Element) *StreamError {
	out := &StreamError{Condition: "undefined-condition"}
	for _, c := range el.Children {
		if c.Is(stanza.NSStreams, "text") {
			out.Text = strings.TrimSpace(c.Text)
			continue
		}
		if out.Condition == "undefined-condition" {
			out.Condition = c.XMLName.Local
		}
	}
	return out
}

type negotiated struct {
	conn     net.Conn
	dec      *xml.Decoder
	features protocol.Features
}

// negotiate opens the stream and reads features, upgrading through
// STARTTLS when configured. It returns before any authentication step.
func negotiate(ctx context.Context, nc net.Conn, domain string, cfg Config, secured bool) (*negotiated, error) {
	deadline := time.Now().Add(cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := nc.SetDeadline(deadline); err != nil {
		return nil, err
	}

	for {
		if err := writeStreamHeader(nc, domain); err != nil {
			return nil, err
		}
		dec := xml.NewDecoder(nc)
		if err := readStreamHeader(dec); err != nil {
			return nil, err
		}
		el, err := nextElement(dec)
		if err != nil {
			return nil, err
		}
		features, err := protocol.ParseFeatures(el)
		if err != nil {
			return nil, err
		}
		features.TLSActive = secured

		wantTLS := cfg.TLS.Mode == TLSModeStartTLS || cfg.TLS.Mode == TLSModeRequired
		if !secured && wantTLS && features.StartTLS {
			upgraded, err := startTLS(ctx, nc, dec, domain, cfg)
			if err != nil {
				return nil, err
			}
			nc = upgraded
			secured = true
			continue
		}
		if !secured && cfg.TLS.Mode == TLSModeRequired {
			return nil, ErrTLSUnavailable
		}
		if err := nc.SetDeadline(time.Time{}); err != nil {
			return nil, err
		}
		return &negotiated{conn: nc, dec: dec, features: features}, nil
	}
}

func startTLS(ctx context.Context, nc net.Conn, dec *xml.Decoder, domain string, cfg Config) (net.Conn, error) {
	if _, err := io.WriteString(nc, "<starttls xmlns='"+stanza.NSTLS+"'/>"); err != nil {
		return nil, err
	}
	el, err := nextElement(dec)
	if err != nil {
		return nil, err
	}
	if !el.Is(stanza.NSTLS, "proceed") {
		return nil, fmt.Errorf("%w: server answered %s", ErrStartTLSFailed, el.XMLName.Local)
	}
	return handshakeTLS(ctx, nc, domain, cfg)
}

func handshakeTLS(ctx context.Context, nc net.Conn, domain string, cfg Config) (net.Conn, error) {
	tlsCfg, err := cfg.clientTLSConfig(domain)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(nc, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTLSHandshake, err)
	}
	return conn, nil
}
