package session

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/regctl/internal/protocol/stanza"
	"github.com/danmuck/regctl/internal/register"
	"github.com/danmuck/regctl/internal/testutil/testlog"
	"github.com/danmuck/regctl/internal/testutil/tlstest"
	"github.com/danmuck/regctl/internal/testutil/xmpptest"
)

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.TLS.Mode = TLSModeDisabled
	cfg.ResponseTimeout = 2 * time.Second
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	return cfg
}

func connect(t *testing.T, cfg Config) *Conn {
	t.Helper()
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := client.Connect(ctx, "user@Example.org/desk")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		edit func(*Config)
		want error
	}{
		{"defaults", func(*Config) {}, nil},
		{"bad security mode", func(c *Config) { c.SecurityMode = "staging" }, ErrInvalidSecurityMode},
		{"bad tls mode", func(c *Config) { c.TLS.Mode = "maybe" }, ErrInvalidTLSMode},
		{"production opportunistic", func(c *Config) { c.SecurityMode = SecurityModeProduction }, ErrTLSRequired},
		{"production insecure", func(c *Config) {
			c.SecurityMode = SecurityModeProduction
			c.TLS.Mode = TLSModeRequired
			c.TLS.InsecureSkipVerify = true
		}, ErrTLSInsecureSkipNotAllow},
		{"production required", func(c *Config) {
			c.SecurityMode = " Production "
			c.TLS.Mode = TLSModeRequired
		}, nil},
		{"direct without address", func(c *Config) { c.TLS.Mode = TLSModeDirect }, ErrDirectTLSAddress},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.edit(&cfg)
		err := cfg.Validate()
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Address: " 127.0.0.1:5222 ", TLS: TLSConfig{Mode: "REQUIRED"}}.WithDefaults()
	def := DefaultConfig()
	if cfg.Address != "127.0.0.1:5222" || cfg.TLS.Mode != TLSModeRequired {
		t.Fatalf("unexpected normalization: %+v", cfg)
	}
	if cfg.ResponseTimeout != def.ResponseTimeout || cfg.Backoff != def.Backoff || cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestPendingRequestsLifecycle(t *testing.T) {
	testlog.Start(t)
	p := NewPendingRequests()
	var delivered []string
	var results []string
	p.Register("b", func(st *stanza.Element) { delivered = append(delivered, stanza.ID(st)) })
	p.Register("a", func(*stanza.Element) { t.Fatalf("aborted handler invoked") })
	p.Register(" ", func(*stanza.Element) {})

	now := time.Unix(1700000000, 0)
	if !p.MarkSent("b", "get", now, 0, nil, func(r string) { results = append(results, r) }) {
		t.Fatalf("mark sent on registered id failed")
	}
	if p.MarkSent("missing", "get", now, 0, nil, nil) {
		t.Fatalf("mark sent on unknown id succeeded")
	}
	if got := p.List(); len(got) != 2 || got[0].ID != "a" || got[1].Type != "get" || !got[1].SentAt.Equal(now) {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	item, ok := p.Take("b", "result")
	if !ok {
		t.Fatalf("missing pending request")
	}
	item.Deliver(stanza.NewIQ(stanza.IQResult, "b"))
	if _, ok := p.Take("b", "result"); ok {
		t.Fatalf("request should be removed")
	}
	if !reflect.DeepEqual(delivered, []string{"b"}) || !reflect.DeepEqual(results, []string{"result"}) {
		t.Fatalf("delivered=%v results=%v", delivered, results)
	}
	if ids := p.AbortAll(); !reflect.DeepEqual(ids, []string{"a"}) || p.Len() != 0 {
		t.Fatalf("abort ids=%v len=%d", ids, p.Len())
	}
}

func TestConnectNegotiatesRegisterFeature(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{Features: xmpptest.RegisterFeature + xmpptest.PlainMechanism})
	conn := connect(t, testConfig(srv.Addr()))

	f := conn.StreamFeatures()
	if !f.Negotiated || !f.Register || f.TLSActive || !reflect.DeepEqual(f.Mechanisms, []string{"PLAIN"}) {
		t.Fatalf("unexpected features: %+v", f)
	}
	if conn.Domain() != "example.org" {
		t.Fatalf("domain = %q", conn.Domain())
	}
}

func TestConnectUpgradesWithStartTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "regctl-test-ca")
	srv := xmpptest.Start(t, xmpptest.Script{
		Features:    xmpptest.StartTLSFeature,
		TLSFeatures: xmpptest.RegisterFeature + xmpptest.PlainMechanism,
		TLSConfig:   ca.ServerConfig(t, dir, "example.org"),
	})
	cfg := testConfig(srv.Addr())
	cfg.TLS = TLSConfig{Mode: TLSModeRequired, CAFile: ca.CAFile()}
	conn := connect(t, cfg)

	f := conn.StreamFeatures()
	if !f.TLSActive || !f.Register || f.StartTLS {
		t.Fatalf("unexpected features after upgrade: %+v", f)
	}
}

func TestConnectRequiredTLSUnavailable(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{Features: xmpptest.RegisterFeature})
	cfg := testConfig(srv.Addr())
	cfg.TLS.Mode = TLSModeRequired
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Connect(context.Background(), "example.org"); !errors.Is(err, ErrTLSUnavailable) {
		t.Fatalf("expected ErrTLSUnavailable, got %v", err)
	}
	if got := srv.Accepted(); got != 1 {
		t.Fatalf("negotiation failure should not retry, accepted=%d", got)
	}
}

func TestConnectStreamError(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{StreamError: "host-unknown"})
	client, err := NewClient(testConfig(srv.Addr()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Connect(context.Background(), "example.org")
	var se *StreamError
	if !errors.As(err, &se) || se.Condition != "host-unknown" || se.Text != "go away" {
		t.Fatalf("expected host-unknown stream error, got %v", err)
	}
}

func TestConnectRetriesDialFailures(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig(addr)
	cfg.MaxConnectAttempts = 2
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Connect(context.Background(), "example.org"); !errors.Is(err, ErrDial) {
		t.Fatalf("expected ErrDial, got %v", err)
	}
}

func TestRoundTripRoutesResponseByID(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{
		Features: xmpptest.RegisterFeature,
		Respond:  xmpptest.ReplyWith(`<iq type='result' id='%s'><query xmlns='jabber:iq:register'><username/></query></iq>`),
	})
	conn := connect(t, testConfig(srv.Addr()))

	got := make(chan *stanza.Element, 1)
	conn.OnResponse("q1", func(st *stanza.Element) { got <- st })
	if err := conn.Send(context.Background(), register.BuildFieldRequest("q1")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case st := <-got:
		if stanza.ID(st) != "q1" || stanza.Type(st) != stanza.IQResult {
			t.Fatalf("unexpected response %s", st)
		}
		if st.Find(stanza.NSRegister, "username") == nil {
			t.Fatalf("response lost payload: %s", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no response")
	}

	req := <-srv.Received()
	if req.Child(stanza.NSRegister, "query") == nil {
		t.Fatalf("server saw %s", req)
	}
}

func TestSendRejectsInvalidIQ(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{Features: xmpptest.RegisterFeature})
	conn := connect(t, testConfig(srv.Addr()))
	if err := conn.Send(context.Background(), stanza.NewIQ(stanza.IQGet, "")); !errors.Is(err, stanza.ErrInvalidStanza) {
		t.Fatalf("expected ErrInvalidStanza, got %v", err)
	}
}

func TestResponseTimeoutSynthesizesError(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{Features: xmpptest.RegisterFeature})
	cfg := testConfig(srv.Addr())
	cfg.ResponseTimeout = 50 * time.Millisecond
	conn := connect(t, cfg)

	got := make(chan *stanza.Element, 1)
	conn.OnResponse("slow", func(st *stanza.Element) { got <- st })
	if err := conn.Send(context.Background(), register.BuildFieldRequest("slow")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case st := <-got:
		outcome := register.ClassifyResult(st)
		if outcome.Status != register.StatusRegistrationFailed || outcome.Condition != "remote-server-timeout" {
			t.Fatalf("unexpected timeout outcome: %+v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout was not delivered")
	}
	if len(conn.Pending()) != 0 {
		t.Fatalf("pending not cleared: %+v", conn.Pending())
	}
}

func TestAbortPendingDropsHandler(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{Features: xmpptest.RegisterFeature})
	cfg := testConfig(srv.Addr())
	cfg.ResponseTimeout = 30 * time.Millisecond
	conn := connect(t, cfg)

	called := make(chan struct{}, 1)
	conn.OnResponse("gone", func(*stanza.Element) { called <- struct{}{} })
	if err := conn.Send(context.Background(), register.BuildFieldRequest("gone")); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn.AbortPending()
	if len(conn.Pending()) != 0 {
		t.Fatalf("pending not cleared")
	}
	select {
	case <-called:
		t.Fatalf("aborted handler was invoked")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestConnDoneWhenServerClosesStream(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{Features: xmpptest.RegisterFeature, CloseAfterFeatures: true})
	conn := connect(t, testConfig(srv.Addr()))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("stream end not observed")
	}
	if !errors.Is(conn.Err(), ErrStreamClosed) {
		t.Fatalf("err = %v", conn.Err())
	}
	if err := conn.Send(context.Background(), register.BuildFieldRequest("late")); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("send after close = %v", err)
	}
}

type staticResolver struct {
	records []*net.SRV
	err     error
}

func (r staticResolver) LookupSRV(context.Context, string, string, string) (string, []*net.SRV, error) {
	return "", r.records, r.err
}

func TestAddressesPreferSRV(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig("")
	client, err := NewClient(cfg, WithResolver(staticResolver{records: []*net.SRV{
		{Target: "xmpp1.example.org.", Port: 5222},
		{Target: "xmpp2.example.org.", Port: 5322},
	}}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got := client.addresses(context.Background(), "example.org")
	want := []string{"xmpp1.example.org:5222", "xmpp2.example.org:5322"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("addresses = %v, want %v", got, want)
	}

	client, _ = NewClient(cfg, WithResolver(staticResolver{err: errors.New("nxdomain")}))
	if got := client.addresses(context.Background(), "example.org"); !reflect.DeepEqual(got, []string{"example.org:5222"}) {
		t.Fatalf("fallback = %v", got)
	}
	client, _ = NewClient(cfg, WithResolver(staticResolver{records: []*net.SRV{{Target: ".", Port: 0}}}))
	if got := client.addresses(context.Background(), "example.org"); !reflect.DeepEqual(got, []string{"example.org:5222"}) {
		t.Fatalf("unavailable target fallback = %v", got)
	}
}

func TestRegistrationOverStream(t *testing.T) {
	testlog.Start(t)
	srv := xmpptest.Start(t, xmpptest.Script{
		Features: xmpptest.RegisterFeature + xmpptest.PlainMechanism,
		Respond: func(iq *stanza.Element) string {
			switch stanza.Type(iq) {
			case stanza.IQGet:
				return xmpptest.ReplyWith(`<iq type='result' id='%s'><query xmlns='jabber:iq:register'><instructions>Pick a name</instructions><username/><password/></query></iq>`)(iq)
			default:
				return xmpptest.ReplyWith(`<iq type='result' id='%s'/>`)(iq)
			}
		},
	})
	conn := connect(t, testConfig(srv.Addr()))

	sess := register.NewSession()
	if err := sess.Start(conn.Domain()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := sess.RequestFields(context.Background(), conn)
	if err != nil {
		t.Fatalf("request fields: %v", err)
	}
	ev := waitEvent(t, done)
	if ev.Kind != register.EventFieldsAvailable || ev.Fields.Instructions != "Pick a name" {
		t.Fatalf("unexpected fields event: %+v", ev)
	}

	done, err = sess.Submit(context.Background(), map[string]string{"username": "Juliet", "password": "r0meo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev = waitEvent(t, done)
	if ev.Kind != register.EventRegistered || ev.Credentials == nil || ev.Credentials.JID != "juliet@example.org" {
		t.Fatalf("unexpected result event: %+v", ev)
	}
}

func waitEvent(t *testing.T, ch <-chan register.Event) register.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("completion channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return register.Event{}
}
