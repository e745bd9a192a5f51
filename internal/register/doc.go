// Package register implements XEP-0077 in-band account registration over an
// already-open, unauthenticated client stream.
//
// Ownership boundary:
// - registration stanza fragments (request, submission, response parsing)
// - field extraction for legacy and data-form encodings
// - outcome classification
// - the per-attempt Session state machine
//
// Transport, rendering and user input live with the caller. A Session talks
// to its transport only through the Connection interface and reports
// progress through one completion channel per round trip.
//
// Lifecycle:
// - Idle -> (AwaitingProviderChoice) -> Negotiating -> AwaitingFields
// - AwaitingFields -> FieldsReceived -> Submitting -> Registered
// - any non-terminal state -> Failed(kind); Cancel returns to Idle
package register
