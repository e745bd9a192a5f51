package register

import (
	"github.com/danmuck/regctl/internal/protocol"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Status is the terminal signal reported to the connection owner.
type Status int

const (
	StatusRegistered Status = iota + 1
	StatusRegistrationUnsupported
	StatusAccountConflict
	StatusNotAcceptable
	StatusRegistrationFailed
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusRegistrationUnsupported:
		return "registration_unsupported"
	case StatusAccountConflict:
		return "account_conflict"
	case StatusNotAcceptable:
		return "not_acceptable"
	case StatusRegistrationFailed:
		return "registration_failed"
	default:
		return "unknown"
	}
}

// Outcome is the classified response to a submission.
type Outcome struct {
	Status    Status
	Condition string
	Text      string
}

// Failure converts a non-success outcome into a *Failure, or nil.
func (o Outcome) Failure() *Failure {
	switch o.Status {
	case StatusRegistered:
		return nil
	case StatusAccountConflict:
		return &Failure{Kind: FailureAccountConflict, Condition: o.Condition, Text: o.Text}
	case StatusNotAcceptable:
		return &Failure{Kind: FailureNotAcceptable, Condition: o.Condition, Text: o.Text}
	case StatusRegistrationUnsupported:
		return &Failure{Kind: FailureRegistrationUnsupported, Condition: o.Condition, Text: o.Text}
	default:
		return &Failure{Kind: FailureRegistrationFailed, Condition: o.Condition, Text: o.Text}
	}
}

// ClassifyResult maps a submission response to an Outcome. Every input maps
// to exactly one outcome; anything that is not an error-typed stanza counts
// as success.
func ClassifyResult(st *stanza.Element) Outcome {
	if stanza.Type(st) != stanza.IQError {
		return Outcome{Status: StatusRegistered}
	}
	se, err := stanza.ParseError(st)
	if err != nil || se.Condition == "" {
		return Outcome{Status: StatusRegistrationFailed, Condition: "unknown"}
	}
	out := Outcome{Condition: se.Condition, Text: se.Text}
	switch se.Condition {
	case "conflict":
		out.Status = StatusAccountConflict
	case "not-acceptable":
		out.Status = StatusNotAcceptable
	default:
		out.Status = StatusRegistrationFailed
	}
	return out
}

// ClassifyFeatures decides whether registration can proceed on a stream.
// It returns ok when the register feature was advertised.
func ClassifyFeatures(f protocol.Features) (FailureKind, bool) {
	switch {
	case !f.Negotiated:
		return FailureConnectionUnreachable, false
	case f.Register:
		return 0, true
	case f.HasAuth():
		return FailureRegistrationUnsupported, false
	default:
		return FailureConnectionUnreachable, false
	}
}
