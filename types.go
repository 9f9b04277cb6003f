// Package oauth provides an embeddable OAuth 2.0 authorization server:
// an RFC 6749 protocol engine (the server package), pluggable storage
// backends, and this HTTP-facing layer with a reference integration that
// issues opaque bearer tokens.
package oauth

import (
	"github.com/grantflow/oauth-server/server"
)

// Re-exported engine types, so embedding hosts can work with the root
// package alone.
type (
	// TokenGrant is a successful token issuance.
	TokenGrant = server.TokenGrant

	// AuthorizeResult is the authorization endpoint's success output.
	AuthorizeResult = server.AuthorizeResult

	// ApprovalRequest is a validated authorization request awaiting
	// resource-owner approval.
	ApprovalRequest = server.ApprovalRequest

	// RedirectError is an authorization-endpoint protocol error.
	RedirectError = server.RedirectError

	// BodyError is a token-endpoint protocol error.
	BodyError = server.BodyError
)

// ErrorResponse is the JSON error body the token endpoint writes
// (RFC 6749 section 5.2).
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// ErrorDescription provides additional information.
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation.
	ErrorURI string `json:"error_uri,omitempty"`
}

const tokenTypeBearer = "Bearer"
