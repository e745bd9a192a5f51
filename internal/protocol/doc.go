// Package protocol owns XMPP client-stream primitives shared by the
// registration flow and its transport.
//
// Ownership boundary:
// - JID domain handling
// - stream feature negotiation result
// - stanza and data-form codecs (subpackages)
// - client stream transport (session subpackage)
package protocol
