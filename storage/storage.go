// Package storage defines the entities and repository interfaces the
// authorization server reads and writes: registered clients, authorization
// codes, and issued tokens. It supports various backend implementations
// including in-memory and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by repository lookups. Backends return these
// unwrapped so callers can match with errors.Is without leaking backend
// details to clients.
var (
	ErrClientNotFound  = errors.New("client not found")
	ErrCodeNotFound    = errors.New("authorization code not found")
	ErrTokenNotFound   = errors.New("token not found")
	ErrNoDefaultClient = errors.New("no default client configured")
)

// Client is a registered OAuth client. The engine only reads clients;
// they are created and mutated by the host's client-management layer.
type Client struct {
	// ID is the opaque, unique client identifier.
	ID string

	// Confidential marks a client capable of holding a secret. A
	// confidential client must always authenticate with its credentials.
	Confidential bool

	// SecretHash is the bcrypt hash of the client secret. Empty means the
	// client holds no credentials and, when public, may authenticate by
	// identifier alone.
	SecretHash string

	// RedirectURIs are the registered redirection endpoints, in
	// registration order.
	RedirectURIs []string

	// Scopes is the set of scope identifiers the client may be granted.
	Scopes []string

	// UseDefaultScopes substitutes the client's full scope set when a
	// request omits the scope parameter.
	UseDefaultScopes bool

	// AllowScopeExcess permits requests for scopes outside the client's
	// allowed set.
	AllowScopeExcess bool

	// Grant enablement flags, one per supported flow.
	CodeGrant              bool
	ImplicitGrant          bool
	PasswordGrant          bool
	ClientCredentialsGrant bool
	RefreshGrant           bool

	CreatedAt time.Time
}

// HasCredentials reports whether the client holds a secret.
func (c *Client) HasCredentials() bool {
	return c.SecretHash != ""
}

// AuthorizationCode is a single-use code issued when the resource owner
// approves an authorization request.
type AuthorizationCode struct {
	// Code is the opaque, unique code value.
	Code string

	// ClientID identifies the client the code was issued to.
	ClientID string

	// RedirectURI is the redirect URI bound to the code, if the
	// authorization request supplied one.
	RedirectURI string

	// UserID identifies the approving resource owner, when known.
	UserID string

	// Scopes is the granted scope set.
	Scopes []string

	// ScopeModified is true when the granted scope differs from the
	// requested scope.
	ScopeModified bool

	// Used is true once the code has been exchanged. A second exchange
	// attempt must fail and revoke every token issued from the code.
	Used bool

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Token is an issued bearer access token with an optional refresh token.
// Refresh produces a new Token; the old refresh value becomes invalid.
type Token struct {
	// ID is a unique identifier for the issuance, independent of the
	// token values themselves.
	ID string

	// AccessValue is the bearer access token value.
	AccessValue string

	// RefreshValue is the refresh token value, empty when the grant does
	// not issue one.
	RefreshValue string

	// ClientID identifies the owning client.
	ClientID string

	// UserID identifies the owning resource owner, empty for
	// client-credentials issuance.
	UserID string

	// Scopes is the granted scope set.
	Scopes []string

	// CodeValue links the token to the authorization code it was issued
	// from, for replay-triggered revocation. Empty for other grants.
	CodeValue string

	CreatedAt time.Time

	// AccessExpiresAt is the deadline for the access value. The refresh
	// value commonly outlives it.
	AccessExpiresAt time.Time

	// RefreshExpiresAt is the deadline for the refresh value, zero when
	// the issuance carries no refresh token.
	RefreshExpiresAt time.Time
}

// ClientStore provides read access to registered clients plus the write
// operations host management layers need. All methods accept a
// context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient stores or replaces a client registration.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns the client with the given identifier or
	// ErrClientNotFound.
	GetClient(ctx context.Context, id string) (*Client, error)

	// GetDefaultClient returns the client used for anonymous password
	// grants, or ErrNoDefaultClient when none is configured.
	GetDefaultClient(ctx context.Context) (*Client, error)
}

// CodeStore persists authorization codes. Single-use enforcement relies on
// UseAuthorizationCode being atomic.
type CodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns the stored code or ErrCodeNotFound.
	// Expired codes are reported as not found.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// UseAuthorizationCode atomically marks the code used and returns its
	// state before the call, so the caller can detect replay via the Used
	// flag. Returns ErrCodeNotFound for unknown or expired codes. Two
	// concurrent exchanges of the same code must observe Used=false at
	// most once.
	UseAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists issued tokens. Refresh rotation relies on
// ReplaceToken being atomic.
type TokenStore interface {
	// SaveToken stores an issued token.
	SaveToken(ctx context.Context, token *Token) error

	// GetTokenByAccessValue returns the token carrying the given access
	// value or ErrTokenNotFound. A value past AccessExpiresAt is reported
	// as not found.
	GetTokenByAccessValue(ctx context.Context, value string) (*Token, error)

	// GetTokenByRefreshValue returns the token carrying the given refresh
	// value or ErrTokenNotFound. A value past RefreshExpiresAt is reported
	// as not found, even while the access value is still live.
	GetTokenByRefreshValue(ctx context.Context, value string) (*Token, error)

	// ReplaceToken atomically invalidates the token holding oldRefreshValue
	// and stores the replacement. Unknown and expired refresh values get
	// ErrTokenNotFound; only one of two concurrent rotations of the same
	// refresh value may succeed, the loser gets ErrTokenNotFound too.
	ReplaceToken(ctx context.Context, oldRefreshValue string, replacement *Token) error

	// RevokeTokensByCode removes every token issued from the given
	// authorization code and returns how many were removed.
	RevokeTokensByCode(ctx context.Context, codeValue string) (int, error)

	// DeleteToken removes the token carrying the given access value.
	DeleteToken(ctx context.Context, accessValue string) error
}

// Store combines all repositories a full deployment needs.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
}

// Expired reports whether a deadline has passed. A zero deadline never
// expires.
func Expired(at, now time.Time) bool {
	return !at.IsZero() && now.After(at)
}
