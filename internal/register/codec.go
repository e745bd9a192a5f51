package register

import (
	"errors"
	"fmt"

	"github.com/danmuck/regctl/internal/protocol/dataform"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// BuildFieldRequest encodes the get that asks a server for its registration fields.
func BuildFieldRequest(id string) *stanza.Element {
	return stanza.NewIQ(stanza.IQGet, id, stanza.NewElement(stanza.NSRegister, "query"))
}

// BuildFieldSubmission encodes a set carrying values for every field in
// fields, in the encoding the server used. Submitted values are matched to
// keys case-insensitively; a field without a submitted value carries its
// pre-filled value. Keys not present in fields are ignored.
func BuildFieldSubmission(id string, fields Fields, values map[string]string) (*stanza.Element, error) {
	st, _, err := encodeSubmission(id, fields.withValues(values))
	return st, err
}

func encodeSubmission(id string, resolved Fields) (*stanza.Element, Fields, error) {
	query := stanza.NewElement(stanza.NSRegister, "query")
	switch resolved.Kind {
	case FormLegacy:
		for _, f := range resolved.entries {
			query.Append(stanza.NewElement(stanza.NSRegister, f.Var).WithText(f.Value))
		}
	case FormExtended:
		submit := make([]dataform.SubmitField, 0, len(resolved.entries))
		for _, f := range resolved.entries {
			submit = append(submit, dataform.SubmitField{Var: f.Var, Type: f.Type, Value: f.Value})
		}
		x, err := dataform.Submit(submit)
		if err != nil {
			return nil, Fields{}, err
		}
		query.Append(x)
	default:
		return nil, Fields{}, fmt.Errorf("%w: %s", ErrUnknownFormKind, resolved.Kind)
	}
	return stanza.NewIQ(stanza.IQSet, id, query), resolved, nil
}

// ParseFieldResponse returns the registration payload of a field-request
// response. An error-typed response yields a *Failure of kind
// FailureNegotiation carrying the server's condition; a response without
// exactly one registration payload wraps ErrMalformedResponse.
func ParseFieldResponse(st *stanza.Element) (*stanza.Element, error) {
	if !stanza.IsIQ(st) {
		return nil, fmt.Errorf("%w: not an iq", ErrMalformedResponse)
	}
	if stanza.Type(st) == stanza.IQError {
		failure := &Failure{Kind: FailureNegotiation}
		se, err := stanza.ParseError(st)
		switch {
		case errors.Is(err, stanza.ErrNoError):
			failure.Condition = "unknown"
		case err != nil:
			return nil, err
		default:
			failure.Condition = se.Condition
			failure.Text = se.Text
		}
		return nil, failure
	}
	queries := st.ChildrenNamed("", "query")
	if len(queries) != 1 {
		return nil, fmt.Errorf("%w: expected one query, found %d", ErrMalformedResponse, len(queries))
	}
	if !queries[0].Is(stanza.NSRegister, "query") {
		return nil, fmt.Errorf("%w: query namespace %q", ErrMalformedResponse, queries[0].XMLName.Space)
	}
	return queries[0], nil
}
