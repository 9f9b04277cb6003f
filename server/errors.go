package server

import (
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes (RFC 6749 sections 4.1.2.1 and 5.2). The two
// endpoints use disjoint subsets: authorization-endpoint failures travel
// back to the client as redirect fragments, token-endpoint failures as
// JSON bodies.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeServerError             = "server_error"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
)

// defaultDescriptions carries the RFC 6749 wording for each error code.
// Constructors fall back to these so every response has a human-readable
// description without the flows repeating boilerplate.
var defaultDescriptions = map[string]string{
	ErrorCodeInvalidRequest:          "The request is missing a required parameter, includes an invalid parameter value, includes a parameter more than once, or is otherwise malformed.",
	ErrorCodeInvalidClient:           "Client authentication failed.",
	ErrorCodeInvalidGrant:            "The provided authorization grant or refresh token is invalid, expired, revoked, or was issued to another client.",
	ErrorCodeUnauthorizedClient:      "The authenticated client is not authorized to use this authorization grant type.",
	ErrorCodeAccessDenied:            "The resource owner or authorization server denied the request.",
	ErrorCodeUnsupportedResponseType: "The authorization server does not support obtaining an authorization code using this method.",
	ErrorCodeUnsupportedGrantType:    "The authorization grant type is not supported by the authorization server.",
	ErrorCodeInvalidScope:            "The requested scope is invalid, unknown, malformed, or exceeds the scope granted by the resource owner.",
	ErrorCodeServerError:             "The authorization server encountered an unexpected condition that prevented it from fulfilling the request.",
	ErrorCodeTemporarilyUnavailable:  "The authorization server is currently unable to handle the request due to a temporary overloading or maintenance of the server.",
}

// DefaultDescription returns the RFC wording for a code, empty for
// unknown codes.
func DefaultDescription(code string) string {
	return defaultDescriptions[code]
}

// RedirectError is an authorization-endpoint failure. It is rendered as a
// 302 redirect with the error fields fragment-encoded onto RedirectURI.
// Body errors and redirect errors never mix.
type RedirectError struct {
	// Code is one of the redirect-channel error codes above.
	Code string

	// Description is the human-readable description.
	Description string

	// ErrorURI optionally points at documentation for the error.
	ErrorURI string

	// RedirectURI is the destination the error is delivered to. May be
	// unvalidated input when the failure happened before redirect
	// resolution; the renderer decides whether delivery is possible.
	RedirectURI string

	// State echoes the client's state parameter when one was given.
	State string

	// Header carries additional response headers, usually nil.
	Header http.Header
}

// Error implements the error interface.
func (e *RedirectError) Error() string {
	return fmt.Sprintf("oauth redirect error: %s: %s", e.Code, e.Description)
}

// NewRedirectError creates a redirect error with the RFC default
// description for the code.
func NewRedirectError(code, redirectURI, state string) *RedirectError {
	return &RedirectError{
		Code:        code,
		Description: defaultDescriptions[code],
		RedirectURI: redirectURI,
		State:       state,
	}
}

// BodyError is a token-endpoint failure. It is rendered as a JSON body
// {error, error_description, error_uri?} with its own HTTP status and
// headers.
type BodyError struct {
	// Code is one of the body-channel error codes above.
	Code string

	// Description is the human-readable description.
	Description string

	// ErrorURI optionally points at documentation for the error.
	ErrorURI string

	// Status is the HTTP status for the response, 400 unless the error
	// says otherwise.
	Status int

	// Header carries additional response headers, e.g. the
	// WWW-Authenticate challenge on authentication failures.
	Header http.Header
}

// Error implements the error interface.
func (e *BodyError) Error() string {
	return fmt.Sprintf("oauth error: %s: %s", e.Code, e.Description)
}

// NewBodyError creates a 400 body error with the RFC default description.
func NewBodyError(code string) *BodyError {
	return &BodyError{
		Code:        code,
		Description: defaultDescriptions[code],
		Status:      http.StatusBadRequest,
	}
}

// ErrInvalidRequest signals a malformed token request.
func ErrInvalidRequest() *BodyError {
	return NewBodyError(ErrorCodeInvalidRequest)
}

// ErrInvalidClientWithRealm signals a client-authentication failure. Per
// RFC 6749 section 5.2 the response is 401 and carries a WWW-Authenticate
// challenge matching the scheme the client used.
func ErrInvalidClientWithRealm(realm string) *BodyError {
	e := NewBodyError(ErrorCodeInvalidClient)
	e.Status = http.StatusUnauthorized
	e.Header = http.Header{
		"Www-Authenticate": []string{fmt.Sprintf("Basic realm=%q", realm)},
	}
	return e
}

// ErrInvalidGrant signals an invalid, expired, or foreign grant value.
func ErrInvalidGrant() *BodyError {
	return NewBodyError(ErrorCodeInvalidGrant)
}

// ErrUnauthorizedClient signals a grant type the client is not allowed to
// use.
func ErrUnauthorizedClient() *BodyError {
	return NewBodyError(ErrorCodeUnauthorizedClient)
}

// ErrUnsupportedGrantType signals an unrecognized grant_type value.
func ErrUnsupportedGrantType() *BodyError {
	return NewBodyError(ErrorCodeUnsupportedGrantType)
}

// ErrInvalidScope signals a scope the client may not be granted.
func ErrInvalidScope() *BodyError {
	return NewBodyError(ErrorCodeInvalidScope)
}
