package register

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Connection is the transport a Session drives. OnResponse registers a
// one-shot handler for the response carrying id; AbortPending drops every
// registered handler without invoking it.
type Connection interface {
	Send(ctx context.Context, st *stanza.Element) error
	OnResponse(id string, handler func(*stanza.Element))
	StreamFeatures() protocol.Features
	AbortPending()
}

// State is the position of a Session in the registration lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingProviderChoice
	StateNegotiating
	StateAwaitingFields
	StateFieldsReceived
	StateSubmitting
	StateRegistered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingProviderChoice:
		return "awaiting_provider_choice"
	case StateNegotiating:
		return "negotiating"
	case StateAwaitingFields:
		return "awaiting_fields"
	case StateFieldsReceived:
		return "fields_received"
	case StateSubmitting:
		return "submitting"
	case StateRegistered:
		return "registered"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible without Reset.
func (s State) Terminal() bool {
	return s == StateRegistered || s == StateFailed
}

type Option func(*Session)

// WithRegistrationDomain pre-seeds every attempt with domain so no provider
// choice is needed.
func WithRegistrationDomain(domain string) Option {
	return func(s *Session) {
		s.registrationDomain = strings.TrimSpace(domain)
	}
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// Session is one registration attempt. It is safe to call from the goroutine
// that owns it while responses arrive on the transport's goroutine, but it
// is not meant to be shared between owners.
type Session struct {
	log                zerolog.Logger
	newID              func() string
	registrationDomain string

	mu          sync.Mutex
	state       State
	domain      string
	conn        Connection
	fields      Fields
	failure     *Failure
	credentials *Credentials
	pendingID   string
	done        chan Event
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		log:   log.Logger,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.domain = s.registrationDomain
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Domain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domain
}

// Fields returns a copy of the current field set.
func (s *Session) Fields() Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields.Clone()
}

// Pending reports whether a round trip is outstanding.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingID != ""
}

// Failure returns the terminal failure, or nil unless the state is Failed.
func (s *Session) Failure() *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Credentials returns the auto-login credentials captured by a successful
// registration, if any.
func (s *Session) Credentials() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credentials == nil {
		return Credentials{}, false
	}
	return *s.credentials, true
}

// ChooseProvider moves an idle session without a pre-seeded domain to
// AwaitingProviderChoice.
func (s *Session) ChooseProvider() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: choose provider in %s", ErrInvalidState, s.state)
	}
	s.state = StateAwaitingProviderChoice
	s.domain = ""
	return nil
}

// Start selects the target domain and enters Negotiating. The input may be a
// full JID; only its domain is kept. An empty input falls back to the
// pre-seeded registration domain.
func (s *Session) Start(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateAwaitingProviderChoice {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, s.state)
	}
	if strings.TrimSpace(domain) == "" {
		domain = s.registrationDomain
	}
	d, err := protocol.DomainFromJID(domain)
	if err != nil {
		return err
	}
	s.domain = d
	s.state = StateNegotiating
	s.log.Debug().Str("domain", d).Msg("registration negotiating")
	return nil
}

// RequestFields checks the negotiated stream features and, when registration
// is advertised, asks the server for its field set. The returned channel
// receives exactly one Event, or is closed without one if the attempt is
// cancelled.
func (s *Session) RequestFields(ctx context.Context, conn Connection) (<-chan Event, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	s.mu.Lock()
	if s.pendingID != "" {
		s.mu.Unlock()
		return nil, ErrRequestPending
	}
	if s.state != StateNegotiating {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: request fields in %s", ErrInvalidState, state)
	}
	s.conn = conn

	features := conn.StreamFeatures()
	if kind, ok := ClassifyFeatures(features); !ok {
		failure := &Failure{Kind: kind, Condition: featureCondition(features)}
		ev := s.failLocked(failure)
		s.mu.Unlock()
		return completed(ev), nil
	}

	id := s.newID()
	done := s.beginLocked(id, StateAwaitingFields)
	domain := s.domain
	s.mu.Unlock()

	s.log.Debug().Str("domain", domain).Str("iq_id", id).Msg("requesting registration fields")
	conn.OnResponse(id, func(st *stanza.Element) { s.handleFields(id, st) })
	if err := conn.Send(ctx, BuildFieldRequest(id)); err != nil {
		return nil, s.sendFailed(id, err)
	}
	return done, nil
}

// Submit encodes values against the received fields and sends them. Keys
// that were not extracted are ignored; extracted keys without a value keep
// their pre-filled value.
func (s *Session) Submit(ctx context.Context, values map[string]string) (<-chan Event, error) {
	s.mu.Lock()
	if s.pendingID != "" {
		s.mu.Unlock()
		return nil, ErrRequestPending
	}
	if s.state != StateFieldsReceived {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: submit in %s", ErrInvalidState, state)
	}
	id := s.newID()
	st, resolved, err := BuildSubmission(id, s.fields, values)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for key := range values {
		if _, ok := s.fields.Get(key); !ok {
			s.log.Debug().Str("domain", s.domain).Str("field", key).Msg("ignoring value for unknown field")
		}
	}
	s.fields = resolved
	conn := s.conn
	done := s.beginLocked(id, StateSubmitting)
	domain := s.domain
	s.mu.Unlock()

	s.log.Debug().Str("domain", domain).Str("iq_id", id).Str("form", resolved.Kind.String()).Msg("submitting registration")
	conn.OnResponse(id, func(st *stanza.Element) { s.handleResult(id, st) })
	if err := conn.Send(ctx, st); err != nil {
		return nil, s.sendFailed(id, err)
	}
	return done, nil
}

// ConnectionLost fails an attempt that is negotiating or waiting on the
// server. It reports the failure event, which is also delivered on any
// outstanding completion channel.
func (s *Session) ConnectionLost(cause error) (Event, bool) {
	s.mu.Lock()
	switch s.state {
	case StateNegotiating, StateAwaitingFields, StateFieldsReceived, StateSubmitting:
	default:
		s.mu.Unlock()
		return Event{}, false
	}
	condition := "connection lost"
	if cause != nil {
		condition = cause.Error()
	}
	done := s.takePendingLocked()
	ev := s.failLocked(&Failure{Kind: FailureConnectionUnreachable, Condition: condition})
	s.mu.Unlock()
	deliver(done, ev)
	return ev, true
}

// Cancel aborts any outstanding request and returns the session to Idle.
// Cancelling an idle session with nothing pending does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateIdle && s.pendingID == "" {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Reset()
}

// Reset aborts any outstanding request and returns the session to a fresh
// Idle state, keeping only the pre-seeded registration domain.
func (s *Session) Reset() {
	s.mu.Lock()
	conn := s.conn
	done := s.takePendingLocked()
	prev := s.state
	s.state = StateIdle
	s.domain = s.registrationDomain
	s.conn = nil
	s.fields = Fields{}
	s.failure = nil
	s.credentials = nil
	s.mu.Unlock()

	if conn != nil {
		conn.AbortPending()
	}
	if done != nil {
		close(done)
	}
	s.log.Debug().Str("from", prev.String()).Msg("registration reset")
}

func (s *Session) handleFields(id string, st *stanza.Element) {
	s.mu.Lock()
	if s.pendingID != id {
		s.mu.Unlock()
		s.log.Debug().Str("iq_id", id).Msg("dropping stale field response")
		return
	}
	done := s.takePendingLocked()

	var ev Event
	query, err := ParseFieldResponse(st)
	if err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			failure = &Failure{Kind: FailureMalformedResponse, Condition: err.Error()}
		}
		ev = s.failLocked(failure)
	} else {
		fields, diags := Extract(query)
		for _, d := range diags {
			s.log.Warn().Str("domain", s.domain).Err(d).Msg("skipping registration field")
		}
		s.fields = fields
		s.state = StateFieldsReceived
		ev = Event{Kind: EventFieldsAvailable, Domain: s.domain, Fields: fields.Clone(), Diagnostics: diags}
		s.log.Debug().Str("domain", s.domain).Str("form", fields.Kind.String()).Int("fields", fields.Len()).Msg("registration fields received")
	}
	s.mu.Unlock()
	deliver(done, ev)
}

func (s *Session) handleResult(id string, st *stanza.Element) {
	s.mu.Lock()
	if s.pendingID != id {
		s.mu.Unlock()
		s.log.Debug().Str("iq_id", id).Msg("dropping stale registration result")
		return
	}
	done := s.takePendingLocked()

	var ev Event
	outcome := ClassifyResult(st)
	if failure := outcome.Failure(); failure != nil {
		ev = s.failLocked(failure)
	} else {
		s.state = StateRegistered
		ev = Event{Kind: EventRegistered, Domain: s.domain, Fields: s.fields.Clone()}
		if username, password, ok := s.fields.credentials(); ok {
			s.credentials = &Credentials{
				Username: username,
				Password: password,
				JID:      protocol.BareJID(username, s.domain),
			}
			creds := *s.credentials
			ev.Credentials = &creds
		}
		s.log.Info().Str("domain", s.domain).Bool("auto_login", ev.Credentials != nil).Msg("registration succeeded")
	}
	s.mu.Unlock()
	deliver(done, ev)
}

func (s *Session) sendFailed(id string, err error) error {
	s.mu.Lock()
	if s.pendingID != id {
		s.mu.Unlock()
		return err
	}
	done := s.takePendingLocked()
	s.failLocked(&Failure{Kind: FailureConnectionUnreachable, Condition: err.Error()})
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
	return fmt.Errorf("%w: send: %w", ErrConnectionUnreachable, err)
}

func (s *Session) beginLocked(id string, next State) chan Event {
	s.pendingID = id
	s.done = make(chan Event, 1)
	s.state = next
	return s.done
}

func (s *Session) takePendingLocked() chan Event {
	done := s.done
	s.pendingID = ""
	s.done = nil
	return done
}

func (s *Session) failLocked(failure *Failure) Event {
	s.state = StateFailed
	s.failure = failure
	s.log.Warn().Str("domain", s.domain).Str("kind", failure.Kind.String()).Str("condition", failure.Condition).Msg("registration failed")
	return Event{Kind: EventFailed, Domain: s.domain, Fields: s.fields.Clone(), Failure: failure}
}

func featureCondition(f protocol.Features) string {
	switch {
	case !f.Negotiated:
		return "stream not negotiated"
	case f.HasAuth():
		return "register feature not advertised"
	default:
		return "no register feature or auth mechanisms"
	}
}

func completed(ev Event) <-chan Event {
	ch := make(chan Event, 1)
	deliver(ch, ev)
	return ch
}

func deliver(done chan Event, ev Event) {
	if done == nil {
		return
	}
	done <- ev
	close(done)
}
