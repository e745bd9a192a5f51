package register

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionUnreachable   = errors.New("register: connection unreachable")
	ErrRegistrationUnsupported = errors.New("register: in-band registration unsupported")
	ErrNegotiation             = errors.New("register: field negotiation failed")
	ErrMalformedResponse       = errors.New("register: malformed response")
	ErrUnparsableField         = errors.New("register: unparsable field")
	ErrAccountConflict         = errors.New("register: account conflict")
	ErrNotAcceptable           = errors.New("register: not acceptable")
	ErrRegistrationFailed      = errors.New("register: registration failed")

	ErrInvalidState    = errors.New("register: invalid session state")
	ErrRequestPending  = errors.New("register: request already pending")
	ErrNoConnection    = errors.New("register: connection required")
	ErrUnknownFormKind = errors.New("register: unknown form kind")
)

// FailureKind classifies why a registration attempt ended.
type FailureKind int

const (
	FailureConnectionUnreachable FailureKind = iota + 1
	FailureRegistrationUnsupported
	FailureNegotiation
	FailureMalformedResponse
	FailureAccountConflict
	FailureNotAcceptable
	FailureRegistrationFailed
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnectionUnreachable:
		return "connection_unreachable"
	case FailureRegistrationUnsupported:
		return "registration_unsupported"
	case FailureNegotiation:
		return "negotiation_error"
	case FailureMalformedResponse:
		return "malformed_response"
	case FailureAccountConflict:
		return "account_conflict"
	case FailureNotAcceptable:
		return "not_acceptable"
	case FailureRegistrationFailed:
		return "registration_failed"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case FailureConnectionUnreachable:
		return ErrConnectionUnreachable
	case FailureRegistrationUnsupported:
		return ErrRegistrationUnsupported
	case FailureNegotiation:
		return ErrNegotiation
	case FailureMalformedResponse:
		return ErrMalformedResponse
	case FailureAccountConflict:
		return ErrAccountConflict
	case FailureNotAcceptable:
		return ErrNotAcceptable
	default:
		return ErrRegistrationFailed
	}
}

// Failure is a terminal registration outcome. Condition carries the server's
// defined condition (or a local reason) and Text any human-readable server text.
type Failure struct {
	Kind      FailureKind
	Condition string
	Text      string
}

func (f *Failure) Error() string {
	msg := f.Kind.sentinel().Error()
	if f.Condition != "" {
		msg += ": " + f.Condition
	}
	if f.Text != "" {
		msg += fmt.Sprintf(" (%s)", f.Text)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Kind.sentinel()
}

// UnparsableFieldError is a non-fatal extraction diagnostic.
type UnparsableFieldError struct {
	Index  int
	Type   string
	Reason string
}

func (e *UnparsableFieldError) Error() string {
	return fmt.Sprintf("%s: field[%d] type=%q: %s", ErrUnparsableField, e.Index, e.Type, e.Reason)
}

func (e *UnparsableFieldError) Unwrap() error {
	return ErrUnparsableField
}
