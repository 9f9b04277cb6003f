package server

import (
	"net/url"
	"strings"
)

// Wire parameter names (RFC 6749 sections 4 and 5).
const (
	ParamResponseType = "response_type"
	ParamGrantType    = "grant_type"
	ParamClientID     = "client_id"
	ParamClientSecret = "client_secret"
	ParamRedirectURI  = "redirect_uri"
	ParamScope        = "scope"
	ParamState        = "state"
	ParamCode         = "code"
	ParamUsername     = "username"
	ParamPassword     = "password"
	ParamRefreshToken = "refresh_token"
)

// Grant type values accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
)

// Response type values accepted at the authorization endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// readParam returns the first value for key, empty when absent. An empty
// value is indistinguishable from an omitted parameter here; flows that
// care about presence use params.Has.
func readParam(params url.Values, key string) string {
	return params.Get(key)
}

// readScope splits the space-separated scope parameter into tokens.
// Returns nil for an omitted or empty scope, which the negotiator treats
// identically.
func readScope(params url.Values) []string {
	raw := strings.TrimSpace(params.Get(ParamScope))
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// JoinScope renders a scope set back to its wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
