package stanza

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidStanza = errors.New("stanza: invalid stanza")
	ErrNoError       = errors.New("stanza: no error element")
)

// StanzaError is the decoded <error/> child of an error stanza.
type StanzaError struct {
	Type      string
	Condition string
	Text      string
}

func (e *StanzaError) Error() string {
	var b strings.Builder
	b.WriteString("stanza error")
	if e.Type != "" {
		fmt.Fprintf(&b, " type=%s", e.Type)
	}
	if e.Condition != "" {
		fmt.Fprintf(&b, " condition=%s", e.Condition)
	}
	if e.Text != "" {
		fmt.Fprintf(&b, " text=%q", e.Text)
	}
	return b.String()
}

// ErrorElements returns the direct <error/> children of st.
func ErrorElements(st *Element) []*Element {
	return st.ChildrenNamed("", "error")
}

// ParseError decodes the single <error/> child of st.
//
// The defined condition is the first child element's lower-cased local
// name; a <text/> in the stanzas namespace is carried as Text.
func ParseError(st *Element) (*StanzaError, error) {
	errs := ErrorElements(st)
	if len(errs) != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrNoError, len(errs))
	}
	el := errs[0]
	out := &StanzaError{Type: strings.TrimSpace(el.Attr("type"))}
	if text, ok := el.ChildText(NSStanzas, "text"); ok {
		out.Text = text
	}
	if first := el.FirstChild(); first != nil {
		out.Condition = strings.ToLower(first.XMLName.Local)
	}
	return out, nil
}
