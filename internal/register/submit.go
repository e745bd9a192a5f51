package register

import "github.com/danmuck/regctl/internal/protocol/stanza"

// BuildSubmission encodes values against fields like BuildFieldSubmission and
// also returns the fields as submitted, so callers can keep what the user
// entered after a rejected attempt.
func BuildSubmission(id string, fields Fields, values map[string]string) (*stanza.Element, Fields, error) {
	return encodeSubmission(id, fields.withValues(values))
}
