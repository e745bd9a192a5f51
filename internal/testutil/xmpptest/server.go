// Package xmpptest runs a scripted in-process XMPP server for tests.
package xmpptest

import (
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Stream features commonly offered by the fake server.
const (
	RegisterFeature = `<register xmlns='http://jabber.org/features/iq-register'/>`
	PlainMechanism  = `<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms>`
	StartTLSFeature = `<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'><required/></starttls>`
)

const streamClose = "</stream:stream>"

var errStreamEnded = errors.New("xmpptest: stream ended")

// Script drives one fake server.
type Script struct {
	Features           string
	TLSFeatures        string
	TLSConfig          *tls.Config
	StreamError        string
	CloseAfterFeatures bool
	// Respond returns the raw reply for an IQ, or "" to stay silent.
	Respond func(iq *stanza.Element) string
}

type Server struct {
	ln       net.Listener
	script   Script
	accepted atomic.Int32
	received chan *stanza.Element

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// Start listens on a loopback port and serves script until the test ends.
func Start(t *testing.T, script Script) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{ln: ln, script: script, received: make(chan *stanza.Element, 16)}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(func() {
		_ = ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Accepted returns how many connections the server has accepted.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Received yields the IQs clients sent, oldest first. Overflow is dropped.
func (s *Server) Received() <-chan *stanza.Element {
	return s.received
}

// ReplyWith formats raw with the request id.
func ReplyWith(raw string) func(*stanza.Element) string {
	return func(iq *stanza.Element) string {
		return fmt.Sprintf(raw, stanza.ID(iq))
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, nc)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(nc)
	}
}

func (s *Server) serve(raw net.Conn) {
	defer s.wg.Done()
	defer raw.Close()

	var nc net.Conn = raw
	dec := xml.NewDecoder(nc)
	if err := s.open(nc, dec, s.script.Features); err != nil {
		return
	}
	if s.script.StreamError != "" || s.script.CloseAfterFeatures {
		return
	}
	for {
		el, err := readElement(dec)
		if err != nil {
			_, _ = io.WriteString(nc, streamClose)
			return
		}
		switch {
		case el.Is(stanza.NSTLS, "starttls"):
			if s.script.TLSConfig == nil {
				_, _ = io.WriteString(nc, "<failure xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>"+streamClose)
				return
			}
			_, _ = io.WriteString(nc, "<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>")
			tc := tls.Server(raw, s.script.TLSConfig)
			if err := tc.Handshake(); err != nil {
				return
			}
			nc = tc
			dec = xml.NewDecoder(nc)
			if err := s.open(nc, dec, s.script.TLSFeatures); err != nil {
				return
			}
		case stanza.IsIQ(el):
			select {
			case s.received <- el:
			default:
			}
			if s.script.Respond == nil {
				continue
			}
			if reply := s.script.Respond(el); reply != "" {
				if _, err := io.WriteString(nc, reply); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) open(nc net.Conn, dec *xml.Decoder, features string) error {
	if err := readHeader(dec); err != nil {
		return err
	}
	header := fmt.Sprintf("<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' id='fake-%d' from='example.org' version='1.0'>",
		stanza.NSClient, stanza.NSStream, time.Now().UnixNano())
	if _, err := io.WriteString(nc, header); err != nil {
		return err
	}
	if s.script.StreamError != "" {
		_, err := fmt.Fprintf(nc, "<stream:error><%s xmlns='%s'/><text xmlns='%s'>go away</text></stream:error>%s",
			s.script.StreamError, stanza.NSStreams, stanza.NSStreams, streamClose)
		return err
	}
	if _, err := io.WriteString(nc, "<stream:features>"+features+"</stream:features>"); err != nil {
		return err
	}
	if s.script.CloseAfterFeatures {
		_, err := io.WriteString(nc, streamClose)
		return err
	}
	return nil
}

func readHeader(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if t, ok := tok.(xml.StartElement); ok {
			if t.Name.Space == stanza.NSStream && t.Name.Local == "stream" {
				return nil
			}
			return fmt.Errorf("xmpptest: expected stream open, got %s", t.Name.Local)
		}
	}
}

func readElement(dec *xml.Decoder) (*stanza.Element, error) {
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
			return el, nil
		case xml.EndElement:
			return nil, errStreamEnded
		}
	}
}
