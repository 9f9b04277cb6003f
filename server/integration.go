package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/grantflow/oauth-server/storage"
)

// ErrInvalidResourceOwnerCredentials is returned by password integrations
// when the supplied username/password pair does not verify. The flow maps
// it to an invalid_grant response.
var ErrInvalidResourceOwnerCredentials = errors.New("invalid resource owner credentials")

// TokenGrant is a successful token issuance. The handler serializes it as
// the RFC 6749 section 5.1 JSON body, omitting empty fields.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is set when the granted scope differs from the request and
	// must be echoed back.
	Scope string `json:"scope,omitempty"`
}

// AuthorizeResult is the authorization endpoint's success output: either
// a redirect back to the client or an intermediate page (consent form)
// produced by the host.
type AuthorizeResult struct {
	// Status is the HTTP status, 302 for redirects.
	Status int

	// Location is the redirect destination, empty for page responses.
	Location string

	// ContentType and Body carry an intermediate page when the host
	// defers to a consent UI instead of redirecting immediately.
	ContentType string
	Body        []byte
}

// NewCodeRedirect builds the authorization-code success redirect:
// code and optional state fragment-encoded onto the redirect URI.
func NewCodeRedirect(redirectURI, code, state string) (*AuthorizeResult, error) {
	fragment := url.Values{ParamCode: []string{code}}
	if state != "" {
		fragment.Set(ParamState, state)
	}
	return newFragmentRedirect(redirectURI, fragment)
}

// NewTokenRedirect builds the implicit-grant success redirect: the token
// fields fragment-encoded onto the redirect URI.
func NewTokenRedirect(redirectURI string, grant *TokenGrant, state string) (*AuthorizeResult, error) {
	fragment := url.Values{
		"access_token": []string{grant.AccessToken},
		"token_type":   []string{grant.TokenType},
	}
	if grant.ExpiresIn > 0 {
		fragment.Set("expires_in", strconv.FormatInt(grant.ExpiresIn, 10))
	}
	if grant.Scope != "" {
		fragment.Set(ParamScope, grant.Scope)
	}
	if state != "" {
		fragment.Set(ParamState, state)
	}
	return newFragmentRedirect(redirectURI, fragment)
}

func newFragmentRedirect(redirectURI string, fragment url.Values) (*AuthorizeResult, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	u.Fragment = ""
	location := u.String() + "#" + fragment.Encode()
	return &AuthorizeResult{Status: http.StatusFound, Location: location}, nil
}

// ApprovalRequest is the validated authorization request handed to the
// host when the engine asks it to involve the resource owner.
type ApprovalRequest struct {
	// ResponseType is "code" or "token".
	ResponseType string

	// Client is the resolved requesting client.
	Client *storage.Client

	// RedirectURI is the resolved redirect destination.
	RedirectURI string

	// Scopes is the negotiated scope set; Modified marks it as differing
	// from the client's full set.
	Scopes   []string
	Modified bool

	// State is the client's state parameter, echoed on every response.
	State string
}

// CodeIntegration is the host side of the authorization-code flow.
type CodeIntegration interface {
	// PromptApproval produces the "ask the resource owner" response for a
	// validated code request. Hosts that auto-approve issue the code and
	// return its redirect here.
	PromptApproval(ctx context.Context, req *ApprovalRequest) (*AuthorizeResult, error)

	// UseAuthorizationCode atomically marks the code used and returns its
	// prior state, or storage.ErrCodeNotFound.
	UseAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error)

	// CreateCodeTokens mints the token pair for an exchanged code.
	CreateCodeTokens(ctx context.Context, code *storage.AuthorizationCode) (*TokenGrant, error)

	// RevokeCodeTokens revokes every token issued from the code. Called
	// when a used code is presented again.
	RevokeCodeTokens(ctx context.Context, code string) error
}

// ImplicitIntegration is the host side of the implicit flow.
type ImplicitIntegration interface {
	// PromptApproval produces the "ask the resource owner" response for a
	// validated token request.
	PromptApproval(ctx context.Context, req *ApprovalRequest) (*AuthorizeResult, error)
}

// PasswordIntegration is the host side of the resource-owner password
// flow.
type PasswordIntegration interface {
	// DefaultClient returns the client used when the request carries no
	// client identification, or storage.ErrNoDefaultClient.
	DefaultClient(ctx context.Context) (*storage.Client, error)

	// ValidateCredentialsAndCreateTokens verifies the resource owner's
	// credentials and mints tokens. Failed verification is reported as
	// ErrInvalidResourceOwnerCredentials.
	ValidateCredentialsAndCreateTokens(ctx context.Context, client *storage.Client, username, password string, scopes []string, scopeModified bool) (*TokenGrant, error)
}

// ClientCredentialsIntegration is the host side of the client-credentials
// flow.
type ClientCredentialsIntegration interface {
	// CreateClientTokens mints tokens for an authenticated client.
	CreateClientTokens(ctx context.Context, client *storage.Client, scopes []string, scopeModified bool) (*TokenGrant, error)
}

// RefreshIntegration is the host side of the refresh flow.
type RefreshIntegration interface {
	// ReadTokenByRefreshValue loads the token carrying the refresh value,
	// or storage.ErrTokenNotFound.
	ReadTokenByRefreshValue(ctx context.Context, value string) (*storage.Token, error)

	// CreateRenewedTokens rotates the token: the old refresh value is
	// invalidated and a replacement pair minted with the given scopes.
	CreateRenewedTokens(ctx context.Context, token *storage.Token, scopes []string, scopeModified bool) (*TokenGrant, error)
}

// Integrations bundles the host collaborators per flow. A nil entry
// disables the corresponding grant entirely.
type Integrations struct {
	Code              CodeIntegration
	Implicit          ImplicitIntegration
	Password          PasswordIntegration
	ClientCredentials ClientCredentialsIntegration
	Refresh           RefreshIntegration
}
