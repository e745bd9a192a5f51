// Package session owns the client-to-server XMPP stream used for in-band
// registration.
//
// Ownership boundary:
// - dial with SRV resolution, retry and backoff
// - stream open, STARTTLS or direct TLS, feature negotiation
// - per-id IQ response routing with timeouts and abort
//
// Negotiation stops after stream features on a secured stream and never
// starts SASL; the features are returned to the caller so it can decide
// whether registration is possible.
package session
