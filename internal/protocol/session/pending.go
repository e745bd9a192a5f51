package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// PendingRequest is one IQ awaiting its response.
type PendingRequest struct {
	ID       string
	Type     string
	SentAt   time.Time
	Deadline time.Time

	handler func(*stanza.Element)
	timer   *time.Timer
	finish  func(result string)
}

// PendingRequests routes IQ responses to one-shot handlers by stanza id.
type PendingRequests struct {
	mu    sync.Mutex
	items map[string]*PendingRequest
}

func NewPendingRequests() *PendingRequests {
	return &PendingRequests{
		items: make(map[string]*PendingRequest),
	}
}

// Register installs handler for id, replacing any earlier handler.
func (p *PendingRequests) Register(id string, handler func(*stanza.Element)) {
	key := strings.TrimSpace(id)
	if key == "" || handler == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.items[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	p.items[key] = &PendingRequest{ID: key, handler: handler}
}

// MarkSent arms the response deadline for id. onTimeout runs at most once
// if no response arrives first. finish is called exactly once with the
// round-trip result when the request leaves the table.
func (p *PendingRequests) MarkSent(id, iqType string, at time.Time, timeout time.Duration, onTimeout func(string), finish func(string)) bool {
	key := strings.TrimSpace(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[key]
	if !ok {
		return false
	}
	item.Type = iqType
	item.SentAt = at
	item.finish = finish
	if timeout > 0 {
		item.Deadline = at.Add(timeout)
		item.timer = time.AfterFunc(timeout, func() { onTimeout(key) })
	}
	return true
}

// Take removes id and returns its request. result is reported to the
// request's finish hook.
func (p *PendingRequests) Take(id, result string) (*PendingRequest, bool) {
	key := strings.TrimSpace(id)
	p.mu.Lock()
	item, ok := p.items[key]
	if ok {
		delete(p.items, key)
	}
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	item.close(result)
	return item, true
}

// AbortAll drops every request without invoking its handler and returns
// the dropped ids.
func (p *PendingRequests) AbortAll() []string {
	p.mu.Lock()
	items := p.items
	p.items = make(map[string]*PendingRequest)
	p.mu.Unlock()

	ids := make([]string, 0, len(items))
	for id, item := range items {
		item.close("aborted")
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *PendingRequests) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// List returns a snapshot ordered by id.
func (p *PendingRequests) List() []PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingRequest, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, PendingRequest{ID: item.ID, Type: item.Type, SentAt: item.SentAt, Deadline: item.Deadline})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *PendingRequest) close(result string) {
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.finish != nil {
		r.finish(result)
	}
}

// Deliver invokes the request's handler.
func (r *PendingRequest) Deliver(st *stanza.Element) {
	if r.handler != nil {
		r.handler(st)
	}
}
