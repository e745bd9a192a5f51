package session

import (
	"strings"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSMode selects how the stream is secured.
type TLSMode string

const (
	// TLSModeStartTLS upgrades when the server offers STARTTLS.
	TLSModeStartTLS TLSMode = "starttls"
	// TLSModeRequired fails negotiation when STARTTLS is not offered.
	TLSModeRequired TLSMode = "required"
	// TLSModeDirect dials TLS before the stream opens (XEP-0368).
	TLSModeDirect   TLSMode = "direct"
	TLSModeDisabled TLSMode = "disabled"
)

type TLSConfig struct {
	Mode               TLSMode
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines stream transport defaults. An empty Address resolves the
// domain's client SRV record and falls back to the domain itself.
type Config struct {
	Address            string
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	ResponseTimeout    time.Duration
	SecurityMode       SecurityMode
	TLS                TLSConfig
	Backoff            BackoffConfig
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ResponseTimeout:  30 * time.Second,
		SecurityMode:     SecurityModeDevelopment,
		TLS: TLSConfig{
			Mode: TLSModeStartTLS,
		},
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxConnectAttempts: 3,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	c.TLS.Mode = NormalizeTLSMode(c.TLS.Mode)
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
