package register

import (
	"errors"
	"testing"

	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/testutil/testlog"
)

func TestClassifyResult(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name      string
		raw       string
		status    Status
		condition string
		text      string
	}{
		{"result", `<iq type="result" id="a"/>`, StatusRegistered, "", ""},
		{"absent type", `<iq id="a"/>`, StatusRegistered, "", ""},
		{"conflict", `<iq type="error" id="a"><error type="cancel"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`, StatusAccountConflict, "conflict", ""},
		{"not acceptable", `<iq type="error" id="a"><error type="modify"><not-acceptable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">password too weak</text></error></iq>`, StatusNotAcceptable, "not-acceptable", "password too weak"},
		{"other condition", `<iq type="error" id="a"><error type="wait"><resource-constraint xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`, StatusRegistrationFailed, "resource-constraint", ""},
		{"no error child", `<iq type="error" id="a"/>`, StatusRegistrationFailed, "unknown", ""},
		{"two error children", `<iq type="error" id="a"><error><conflict/></error><error><conflict/></error></iq>`, StatusRegistrationFailed, "unknown", ""},
		{"empty error", `<iq type="error" id="a"><error type="cancel"/></iq>`, StatusRegistrationFailed, "unknown", ""},
	}
	for _, tc := range cases {
		got := ClassifyResult(decode(t, tc.raw))
		if got.Status != tc.status || got.Condition != tc.condition || got.Text != tc.text {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
	}
}

func TestOutcomeFailureUnwraps(t *testing.T) {
	testlog.Start(t)
	if f := (Outcome{Status: StatusRegistered}).Failure(); f != nil {
		t.Fatalf("registered outcome produced failure %v", f)
	}
	err := error(Outcome{Status: StatusAccountConflict, Condition: "conflict"}.Failure())
	if !errors.Is(err, ErrAccountConflict) {
		t.Fatalf("expected ErrAccountConflict, got %v", err)
	}
	err = Outcome{Status: StatusRegistrationFailed, Condition: "bad-request", Text: "nope"}.Failure()
	if !errors.Is(err, ErrRegistrationFailed) || err.Error() != "register: registration failed: bad-request (nope)" {
		t.Fatalf("unexpected failure: %v", err)
	}
}

func TestClassifyFeatures(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name     string
		features protocol.Features
		kind     FailureKind
		ok       bool
	}{
		{"never negotiated", protocol.Features{}, FailureConnectionUnreachable, false},
		{"nothing advertised", protocol.Features{Negotiated: true}, FailureConnectionUnreachable, false},
		{"auth only", protocol.Features{Negotiated: true, Mechanisms: []string{"PLAIN"}}, FailureRegistrationUnsupported, false},
		{"register", protocol.Features{Negotiated: true, Register: true}, 0, true},
		{"register and auth", registerFeatures(), 0, true},
	}
	for _, tc := range cases {
		kind, ok := ClassifyFeatures(tc.features)
		if kind != tc.kind || ok != tc.ok {
			t.Fatalf("%s: got (%s,%v), want (%s,%v)", tc.name, kind, ok, tc.kind, tc.ok)
		}
	}
}
