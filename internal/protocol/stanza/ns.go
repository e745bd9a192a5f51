package stanza

// XML namespaces used on the client stream.
const (
	NSClient   = "jabber:client"
	NSStream   = "http://etherx.jabber.org/streams"
	NSStanzas  = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSStreams  = "urn:ietf:params:xml:ns:xmpp-streams"
	NSTLS      = "urn:ietf:params:xml:ns:xmpp-tls"
	NSSASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	NSRegister = "jabber:iq:register"
	// NSRegisterFeature is the stream feature advertising in-band registration.
	NSRegisterFeature = "http://jabber.org/features/iq-register"
	NSDataForm        = "jabber:x:data"
	NSOOB             = "jabber:x:oob"
)
