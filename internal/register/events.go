package register

// EventKind identifies what a completion Event reports.
type EventKind int

const (
	EventFieldsAvailable EventKind = iota + 1
	EventRegistered
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventFieldsAvailable:
		return "fields_available"
	case EventRegistered:
		return "registered"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Credentials are handed to the connection owner after a successful
// registration so it can log in with the new account.
type Credentials struct {
	Username string
	Password string
	JID      string
}

// Event is delivered once on a request's completion channel.
type Event struct {
	Kind        EventKind
	Domain      string
	Fields      Fields
	Diagnostics []error
	Credentials *Credentials
	Failure     *Failure
}

// Status maps the event to the connection-owner status, when it is terminal.
func (e Event) Status() (Status, bool) {
	switch e.Kind {
	case EventRegistered:
		return StatusRegistered, true
	case EventFailed:
		if e.Failure == nil {
			return StatusRegistrationFailed, true
		}
		switch e.Failure.Kind {
		case FailureRegistrationUnsupported:
			return StatusRegistrationUnsupported, true
		case FailureAccountConflict:
			return StatusAccountConflict, true
		case FailureNotAcceptable:
			return StatusNotAcceptable, true
		}
		return StatusRegistrationFailed, true
	}
	return 0, false
}
