package register

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

func decode(t testing.TB, raw string) *stanza.Element {
	t.Helper()
	var el stanza.Element
	if err := xml.Unmarshal([]byte(raw), &el); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return &el
}

// fakeConn records sent stanzas and lets a test answer them by id.
type fakeConn struct {
	mu       sync.Mutex
	features protocol.Features
	sendErr  error
	sent     []*stanza.Element
	handlers map[string]func(*stanza.Element)
	aborted  int
}

func newFakeConn(features protocol.Features) *fakeConn {
	return &fakeConn{features: features, handlers: make(map[string]func(*stanza.Element))}
}

func registerFeatures() protocol.Features {
	return protocol.Features{Negotiated: true, Register: true, Mechanisms: []string{"SCRAM-SHA-1"}}
}

func (c *fakeConn) Send(_ context.Context, st *stanza.Element) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, st)
	return nil
}

func (c *fakeConn) OnResponse(id string, handler func(*stanza.Element)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[id] = handler
}

func (c *fakeConn) StreamFeatures() protocol.Features {
	return c.features
}

func (c *fakeConn) AbortPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted++
	c.handlers = make(map[string]func(*stanza.Element))
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) last(t *testing.T) *stanza.Element {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return c.sent[len(c.sent)-1]
}

// respond answers id with raw, an iq template whose %s is replaced by id.
// It reports whether a handler was still registered.
func (c *fakeConn) respond(t *testing.T, id, raw string) bool {
	t.Helper()
	c.mu.Lock()
	handler, ok := c.handlers[id]
	delete(c.handlers, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	handler(decode(t, fmt.Sprintf(raw, id)))
	return true
}

// deliverLate invokes a handler even after it was aborted, as a racing
// transport might.
func deliverLate(t *testing.T, handler func(*stanza.Element), raw string) {
	t.Helper()
	handler(decode(t, raw))
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("completion channel closed without event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func failureKind(t *testing.T, err error) FailureKind {
	t.Helper()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T %v", err, err)
	}
	return f.Kind
}
