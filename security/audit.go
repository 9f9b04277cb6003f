// Package security provides ambient security features for the
// authorization server: audit logging, per-identifier rate limiting,
// client IP extraction, and response security headers.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security-relevant events with PII protection. User
// identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a single security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationRequested logs an authorization-endpoint request.
func (a *Auditor) LogAuthorizationRequested(clientID, ipAddress, responseType string) {
	a.LogEvent(Event{
		Type:      "authorization_requested",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"response_type": responseType,
		},
	})
}

// LogTokenIssued logs a successful token issuance.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogCodeReplay logs a used authorization code being presented again.
// The tokens minted from the code are revoked when this fires.
func (a *Auditor) LogCodeReplay(clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      "authorization_code_replay",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": revoked,
		},
	})
}

// LogAuthFailure logs a failed client or resource-owner authentication.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogProtocolError logs a request rejected with a protocol error code.
func (a *Auditor) LogProtocolError(clientID, ipAddress, endpoint, errorCode string) {
	a.LogEvent(Event{
		Type:      "protocol_error",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint":   endpoint,
			"error_code": errorCode,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data so
// events stay correlatable without exposing the raw value.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
