package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrInvalidTLSMode          = errors.New("session: invalid tls mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
	ErrDirectTLSAddress        = errors.New("session: direct tls needs an explicit address")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func NormalizeTLSMode(mode TLSMode) TLSMode {
	if strings.TrimSpace(string(mode)) == "" {
		return TLSModeStartTLS
	}
	return TLSMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// Validate checks the client transport settings. Production mode requires
// a verified TLS stream.
func (c Config) Validate() error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	tlsMode := NormalizeTLSMode(c.TLS.Mode)
	switch tlsMode {
	case TLSModeStartTLS, TLSModeRequired, TLSModeDirect, TLSModeDisabled:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTLSMode, c.TLS.Mode)
	}

	if mode == SecurityModeProduction {
		if tlsMode != TLSModeRequired && tlsMode != TLSModeDirect {
			return fmt.Errorf("%w: production mode needs tls mode required or direct", ErrTLSRequired)
		}
		if c.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if tlsMode == TLSModeDirect && strings.TrimSpace(c.Address) == "" {
		return ErrDirectTLSAddress
	}
	return nil
}

// clientTLSConfig builds the tls.Config for domain. An empty CA file uses
// the system roots.
func (c Config) clientTLSConfig(domain string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		ServerName:         domain,
	}
	if name := strings.TrimSpace(c.TLS.ServerName); name != "" {
		cfg.ServerName = name
	}
	if caPath := strings.TrimSpace(c.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
