package oauth

import (
	"fmt"
	"time"
)

// Config configures the reference server and HTTP handler.
type Config struct {
	// Issuer is the server's own base URL. Used for HSTS decisions and
	// log context; required.
	Issuer string

	// AuthCodeTTL is the authorization code lifetime.
	// Defaults to 10 minutes.
	AuthCodeTTL time.Duration

	// AccessTokenTTL is the access token lifetime. Defaults to 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime.
	// Defaults to 720 hours.
	RefreshTokenTTL time.Duration

	// MaxStateLength bounds the state parameter. Zero means unlimited.
	MaxStateLength int

	// InputURIOptional lets authorization requests omit redirect_uri
	// when the client has exactly one registered URI.
	InputURIOptional bool

	// Realm is the WWW-Authenticate realm. Defaults to "OAuth".
	Realm string

	// ErrorURIs maps protocol error codes to documentation URIs.
	ErrorURIs map[string]string

	// RateLimitRPS and RateLimitBurst configure per-IP rate limiting on
	// both endpoints. RateLimitRPS <= 0 disables limiting.
	RateLimitRPS   int
	RateLimitBurst int

	// RateLimitMaxEntries caps the tracked identifier set.
	// Defaults to 10000.
	RateLimitMaxEntries int

	// TrustProxy enables client IP extraction from forwarding headers;
	// TrustedProxyCount is the number of proxies under our control.
	TrustProxy        bool
	TrustedProxyCount int

	// AuditEnabled turns security audit logging on.
	AuditEnabled bool
}

// applySecureDefaults fills unset fields with safe values.
func (c *Config) applySecureDefaults() {
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = 10 * time.Minute
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 720 * time.Hour
	}
	if c.Realm == "" {
		c.Realm = "OAuth"
	}
	if c.RateLimitBurst == 0 && c.RateLimitRPS > 0 {
		c.RateLimitBurst = c.RateLimitRPS * 2
	}
}

// validate rejects configurations the server cannot run with.
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.AuthCodeTTL < 0 || c.AccessTokenTTL < 0 || c.RefreshTokenTTL < 0 {
		return fmt.Errorf("token lifetimes must not be negative")
	}
	if c.MaxStateLength < 0 {
		return fmt.Errorf("max state length must not be negative")
	}
	return nil
}
