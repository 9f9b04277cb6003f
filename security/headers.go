package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets protective headers on OAuth endpoint responses.
// Token and error bodies are never cacheable (RFC 6749 section 5.1), so
// Cache-Control and Pragma are always included.
func SetSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	// Clickjacking and MIME-sniffing protection.
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Endpoints serve redirects and JSON only; nothing may load resources.
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	w.Header().Set("Referrer-Policy", "no-referrer")

	// HSTS only when the issuer itself is HTTPS.
	if parsed, err := url.Parse(issuerURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
