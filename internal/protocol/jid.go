package protocol

import (
	"fmt"
	"strings"
)

// DomainFromJID returns the lower-cased domainpart of a possibly JID-shaped
// input ("user@example.org/res", "example.org", "Example.Org.").
func DomainFromJID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.ToLower(s), ".")
	if s == "" {
		return "", fmt.Errorf("%w: empty domain in %q", ErrInvalidJID, raw)
	}
	if strings.ContainsAny(s, " \t\r\n@/\"&'<>") {
		return "", fmt.Errorf("%w: %q", ErrInvalidJID, raw)
	}
	return s, nil
}

// BareJID joins a localpart and domain into a lower-cased bare JID.
func BareJID(local, domain string) string {
	local = strings.ToLower(strings.TrimSpace(local))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if local == "" {
		return domain
	}
	return local + "@" + domain
}
