package server

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

func implicitValues(clientID string) url.Values {
	return url.Values{
		ParamResponseType: []string{ResponseTypeToken},
		ParamClientID:     []string{clientID},
		ParamRedirectURI:  []string{"https://client.example/cb"},
		ParamState:        []string{"xyz"},
	}
}

func TestImplicitAuthorizeSuccess(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	result, err := env.engine.Authorize(context.Background(), implicitValues("client-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.implicit.prompts != 1 {
		t.Fatalf("prompts: got %d, want 1", env.implicit.prompts)
	}
	if env.implicit.lastReq.ResponseType != ResponseTypeToken {
		t.Errorf("response type: got %q", env.implicit.lastReq.ResponseType)
	}

	// The grant travels in the fragment, never the query string.
	fragIdx := strings.Index(result.Location, "#")
	if fragIdx < 0 {
		t.Fatalf("no fragment in location %q", result.Location)
	}
	frag, err := url.ParseQuery(result.Location[fragIdx+1:])
	if err != nil {
		t.Fatalf("parsing fragment: %v", err)
	}
	if frag.Get("access_token") != "implicit-access" {
		t.Errorf("access_token: got %q", frag.Get("access_token"))
	}
	if frag.Get("token_type") != "Bearer" {
		t.Errorf("token_type: got %q", frag.Get("token_type"))
	}
	if frag.Get("state") != "xyz" {
		t.Errorf("state: got %q", frag.Get("state"))
	}
	if frag.Get("refresh_token") != "" {
		t.Error("refresh token leaked into fragment")
	}
}

func TestImplicitAuthorizeGrantDisabled(t *testing.T) {
	client := testClient()
	client.ImplicitGrant = false
	env := newTestEnv(t, Config{}, client)

	_, err := env.engine.Authorize(context.Background(), implicitValues("client-1"))
	wantRedirectError(t, err, ErrorCodeUnauthorizedClient)
}

func TestImplicitAuthorizeInvalidScope(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	params := implicitValues("client-1")
	params.Set(ParamScope, "read admin")
	_, err := env.engine.Authorize(context.Background(), params)
	wantRedirectError(t, err, ErrorCodeInvalidScope)
}

func TestImplicitAuthorizeScopeNarrowing(t *testing.T) {
	env := newTestEnv(t, Config{}, testClient())

	params := implicitValues("client-1")
	params.Set(ParamScope, "read")
	if _, err := env.engine.Authorize(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := env.implicit.lastReq
	if len(req.Scopes) != 1 || req.Scopes[0] != "read" {
		t.Errorf("scopes: got %v", req.Scopes)
	}
	if !req.Modified {
		t.Error("narrowed scope set not flagged as modified")
	}
}
