package server

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/grantflow/oauth-server/storage"
)

func refreshValues(refreshToken string) url.Values {
	v := url.Values{ParamGrantType: []string{GrantTypeRefreshToken}}
	if refreshToken != "" {
		v.Set(ParamRefreshToken, refreshToken)
	}
	return v
}

func storedToken(clientID string) *storage.Token {
	return &storage.Token{
		ID:           "tok-1",
		AccessValue:  "old-access",
		RefreshValue: "refresh-1",
		ClientID:     clientID,
		UserID:       "user-1",
		Scopes:       []string{"read", "write"},

		AccessExpiresAt:  time.Now().Add(time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestRefreshIssueSuccess(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.refresh.tokens["refresh-1"] = storedToken("client-1")

	grant, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), refreshValues("refresh-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.AccessToken != "new-access" || grant.RefreshToken != "new-refresh" {
		t.Errorf("grant: %+v", grant)
	}
}

func TestRefreshIssueMissingParam(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), refreshValues(""))
	wantBodyError(t, err, ErrorCodeInvalidRequest)
}

func TestRefreshIssueUnknownToken(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), refreshValues("ghost"))
	wantBodyError(t, err, ErrorCodeInvalidGrant)
}

// An anonymous request may ride a refresh token only when the token's
// owner is a public client without credentials.
func TestRefreshIssueAnonymousInference(t *testing.T) {
	public := &storage.Client{
		ID:               "public-1",
		Scopes:           []string{"read", "write"},
		UseDefaultScopes: true,
		RefreshGrant:     true,
	}
	env := newTestEnv(t, Config{}, public)
	env.refresh.tokens["refresh-1"] = storedToken("public-1")

	grant, err := env.engine.IssueToken(context.Background(), "", refreshValues("refresh-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.AccessToken != "new-access" {
		t.Errorf("access token: got %q", grant.AccessToken)
	}
}

func TestRefreshIssueAnonymousConfidentialOwner(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.refresh.tokens["refresh-1"] = storedToken("client-1")

	_, err := env.engine.IssueToken(context.Background(), "", refreshValues("refresh-1"))
	bodyErr := wantBodyError(t, err, ErrorCodeInvalidClient)
	if got := bodyErr.Header.Get("Www-Authenticate"); got != `Basic realm="OAuth"` {
		t.Errorf("challenge: got %q", got)
	}
}

func TestRefreshIssueForeignClient(t *testing.T) {
	other := testClient()
	other.ID = "client-2"
	other.SecretHash = "secret-2"
	env := newTestEnv(t, Config{}, testClient(), other)
	env.refresh.tokens["refresh-1"] = storedToken("client-1")

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-2", "secret-2"), refreshValues("refresh-1"))
	wantBodyError(t, err, ErrorCodeInvalidClient)
}

func TestRefreshIssueGrantDisabled(t *testing.T) {
	client := testClient()
	client.RefreshGrant = false
	env := newTestEnv(t, Config{}, client)
	env.refresh.tokens["refresh-1"] = storedToken("client-1")

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), refreshValues("refresh-1"))
	wantBodyError(t, err, ErrorCodeUnauthorizedClient)
}

func TestRefreshIssueScopeWidening(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	token := storedToken("client-1")
	token.Scopes = []string{"read"}
	env.refresh.tokens["refresh-1"] = token

	params := refreshValues("refresh-1")
	params.Set(ParamScope, "read write")
	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), params)
	wantBodyError(t, err, ErrorCodeInvalidScope)
}

func TestRefreshIssueScopeNarrowing(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.refresh.tokens["refresh-1"] = storedToken("client-1")

	params := refreshValues("refresh-1")
	params.Set(ParamScope, "read")
	grant, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.Scope != "read" {
		t.Errorf("scope: got %q", grant.Scope)
	}
	if len(env.refresh.lastScopes) != 1 || env.refresh.lastScopes[0] != "read" {
		t.Errorf("scopes passed through: got %v", env.refresh.lastScopes)
	}
}
