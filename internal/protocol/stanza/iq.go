package stanza

import (
	"fmt"
	"strings"
)

// IQ types.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// NewIQ builds an information-query stanza.
func NewIQ(typ, id string, payload ...*Element) *Element {
	iq := NewElement("", "iq").WithAttr("type", typ)
	if id != "" {
		iq.SetAttr("id", id)
	}
	return iq.Append(payload...)
}

// IsIQ reports whether e is an iq stanza in the client (or no) namespace.
func IsIQ(e *Element) bool {
	if e == nil || e.XMLName.Local != "iq" {
		return false
	}
	return e.XMLName.Space == "" || e.XMLName.Space == NSClient
}

// Type returns the lower-cased type attribute of e.
func Type(e *Element) string {
	return strings.ToLower(strings.TrimSpace(e.Attr("type")))
}

// ID returns the id attribute of e.
func ID(e *Element) string {
	return e.Attr("id")
}

// ValidateIQ checks the structural rules every outgoing iq must satisfy.
func ValidateIQ(e *Element) error {
	if !IsIQ(e) {
		return fmt.Errorf("%w: not an iq", ErrInvalidStanza)
	}
	if strings.TrimSpace(ID(e)) == "" {
		return fmt.Errorf("%w: iq missing id", ErrInvalidStanza)
	}
	switch Type(e) {
	case IQGet, IQSet:
		if len(e.Children) != 1 {
			return fmt.Errorf("%w: %s iq must carry exactly one payload", ErrInvalidStanza, Type(e))
		}
	case IQResult, IQError:
	default:
		return fmt.Errorf("%w: iq type %q", ErrInvalidStanza, e.Attr("type"))
	}
	return nil
}
