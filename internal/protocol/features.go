package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Features is the discriminated result of client stream negotiation.
//
// Negotiated is false when no stream features were ever received; the
// remaining fields are only meaningful when it is true.
type Features struct {
	Negotiated bool
	Register   bool
	Mechanisms []string
	StartTLS   bool
	TLSActive  bool
}

// HasAuth reports whether SASL mechanisms were advertised.
func (f Features) HasAuth() bool {
	return len(f.Mechanisms) > 0
}

// ParseFeatures decodes a <stream:features/> element.
func ParseFeatures(el *stanza.Element) (Features, error) {
	if !el.Is(stanza.NSStream, "features") {
		return Features{}, fmt.Errorf("%w: unexpected element %s", ErrInvalidFeatures, el.XMLName.Local)
	}
	out := Features{Negotiated: true}
	if el.Child(stanza.NSRegisterFeature, "register") != nil {
		out.Register = true
	}
	if el.Child(stanza.NSTLS, "starttls") != nil {
		out.StartTLS = true
	}
	if mechs := el.Child(stanza.NSSASL, "mechanisms"); mechs != nil {
		for _, m := range mechs.ChildrenNamed(stanza.NSSASL, "mechanism") {
			if name := strings.TrimSpace(m.Text); name != "" {
				out.Mechanisms = append(out.Mechanisms, name)
			}
		}
	}
	return out, nil
}
