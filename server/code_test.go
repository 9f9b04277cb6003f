package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/grantflow/oauth-server/storage"
)

func authorizeValues(clientID string) url.Values {
	return url.Values{
		ParamResponseType: []string{ResponseTypeCode},
		ParamClientID:     []string{clientID},
		ParamRedirectURI:  []string{"https://client.example/cb"},
		ParamState:        []string{"abc"},
	}
}

func TestCodeAuthorizeSuccess(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	result, err := env.engine.Authorize(context.Background(), authorizeValues("client-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.code.prompts != 1 {
		t.Fatalf("prompts: got %d, want 1", env.code.prompts)
	}
	req := env.code.lastReq
	if req.ResponseType != ResponseTypeCode {
		t.Errorf("response type: got %q", req.ResponseType)
	}
	if req.RedirectURI != "https://client.example/cb" {
		t.Errorf("redirect uri: got %q", req.RedirectURI)
	}
	if req.State != "abc" {
		t.Errorf("state: got %q", req.State)
	}
	// Default scopes substituted for the omitted parameter.
	if len(req.Scopes) != 2 || req.Modified {
		t.Errorf("scopes: got %v modified=%v", req.Scopes, req.Modified)
	}
	if !strings.Contains(result.Location, "code=issued-code") {
		t.Errorf("location: got %q", result.Location)
	}
	if !strings.Contains(result.Location, "state=abc") {
		t.Errorf("location missing state: %q", result.Location)
	}
}

func TestCodeAuthorizeStateTooLong(t *testing.T) {
	env := newTestEnv(t, Config{MaxStateLength: 4}, testClient())

	params := authorizeValues("client-1")
	params.Set(ParamState, "12345")
	_, err := env.engine.Authorize(context.Background(), params)

	redirectErr := wantRedirectError(t, err, ErrorCodeInvalidRequest)
	if redirectErr.State != "12345" {
		t.Errorf("state echo: got %q", redirectErr.State)
	}
	if env.code.prompts != 0 {
		t.Error("approval prompted despite invalid state")
	}
}

// State length is enforced even for unknown clients, so the check leaks
// nothing about client existence.
func TestCodeAuthorizeStateCheckedBeforeClient(t *testing.T) {
	env := newTestEnv(t, Config{MaxStateLength: 4}, testClient())

	params := authorizeValues("no-such-client")
	params.Set(ParamState, "12345")
	_, err := env.engine.Authorize(context.Background(), params)
	wantRedirectError(t, err, ErrorCodeInvalidRequest)
}

func TestCodeAuthorizeUnresolvable(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	tests := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"unknown client", func(v url.Values) { v.Set(ParamClientID, "ghost") }},
		{"missing client_id", func(v url.Values) { v.Del(ParamClientID) }},
		{"unregistered redirect uri", func(v url.Values) { v.Set(ParamRedirectURI, "https://evil.example/cb") }},
		{"missing redirect uri", func(v url.Values) { v.Del(ParamRedirectURI) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := authorizeValues("client-1")
			tt.mutate(params)
			_, err := env.engine.Authorize(context.Background(), params)
			if !errors.Is(err, ErrUnresolvedAuthorization) {
				t.Fatalf("expected unresolved authorization, got %v", err)
			}
		})
	}
}

func TestCodeAuthorizeGrantDisabled(t *testing.T) {
	client := testClient()
	client.CodeGrant = false
	env := newTestEnv(t, Config{}, client)

	_, err := env.engine.Authorize(context.Background(), authorizeValues("client-1"))
	redirectErr := wantRedirectError(t, err, ErrorCodeUnauthorizedClient)
	if redirectErr.RedirectURI != "https://client.example/cb" {
		t.Errorf("redirect uri: got %q", redirectErr.RedirectURI)
	}
}

func TestCodeAuthorizeInvalidScope(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	params := authorizeValues("client-1")
	params.Set(ParamScope, "read admin")
	_, err := env.engine.Authorize(context.Background(), params)
	wantRedirectError(t, err, ErrorCodeInvalidScope)
}

func storedCode(clientID string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    clientID,
		RedirectURI: "https://client.example/cb",
		Scopes:      []string{"read"},
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

func exchangeValues(code string) url.Values {
	return url.Values{
		ParamGrantType:   []string{GrantTypeAuthorizationCode},
		ParamCode:        []string{code},
		ParamRedirectURI: []string{"https://client.example/cb"},
	}
}

func TestCodeExchangeSuccess(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.code.codes["code-1"] = storedCode("client-1")

	grant, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), exchangeValues("code-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.AccessToken == "" || grant.TokenType != "Bearer" {
		t.Errorf("grant: %+v", grant)
	}
	if env.code.created != 1 {
		t.Errorf("token creations: got %d, want 1", env.code.created)
	}
}

func TestCodeExchangeMissingCode(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	params := exchangeValues("")
	params.Del(ParamCode)
	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), params)
	wantBodyError(t, err, ErrorCodeInvalidGrant)
}

func TestCodeExchangeUnknownCode(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), exchangeValues("nope"))
	wantBodyError(t, err, ErrorCodeInvalidGrant)
}

func TestCodeExchangeReplayRevokesOnce(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.code.codes["code-1"] = storedCode("client-1")

	auth := basicAuthHeader("client-1", "secret-1")
	if _, err := env.engine.IssueToken(context.Background(), auth, exchangeValues("code-1")); err != nil {
		t.Fatalf("first exchange failed: %v", err)
	}

	_, err := env.engine.IssueToken(context.Background(), auth, exchangeValues("code-1"))
	wantBodyError(t, err, ErrorCodeInvalidGrant)

	if len(env.code.revoked) != 1 || env.code.revoked[0] != "code-1" {
		t.Fatalf("revocations: got %v, want exactly [code-1]", env.code.revoked)
	}
	if env.code.created != 1 {
		t.Errorf("token creations after replay: got %d, want 1", env.code.created)
	}
}

func TestCodeExchangeForeignClient(t *testing.T) {
	other := testClient()
	other.ID = "client-2"
	other.SecretHash = "secret-2"
	env := newTestEnv(t, Config{}, testClient(), other)
	env.code.codes["code-1"] = storedCode("client-1")

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-2", "secret-2"), exchangeValues("code-1"))
	wantBodyError(t, err, ErrorCodeUnauthorizedClient)
	if len(env.code.revoked) != 0 {
		t.Errorf("unexpected revocations: %v", env.code.revoked)
	}
}

func TestCodeExchangeRedirectMismatch(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.code.codes["code-1"] = storedCode("client-1")

	params := exchangeValues("code-1")
	params.Set(ParamRedirectURI, "https://client.example/other")
	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), params)
	wantBodyError(t, err, ErrorCodeInvalidGrant)
}

func TestCodeExchangeGrantDisabled(t *testing.T) {
	client := testClient()
	client.CodeGrant = false
	env := newTestEnv(t, Config{}, client)
	env.code.codes["code-1"] = storedCode("client-1")

	_, err := env.engine.IssueToken(context.Background(),
		basicAuthHeader("client-1", "secret-1"), exchangeValues("code-1"))
	wantBodyError(t, err, ErrorCodeUnauthorizedClient)
}

func TestCodeExchangeAnonymous(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())
	env.code.codes["code-1"] = storedCode("client-1")

	_, err := env.engine.IssueToken(context.Background(), "", exchangeValues("code-1"))
	wantBodyError(t, err, ErrorCodeUnauthorizedClient)
}
