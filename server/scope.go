package server

import (
	"github.com/grantflow/oauth-server/storage"
)

// ScopeResult is the outcome of a scope negotiation.
type ScopeResult struct {
	// Valid is false when the request asked for scopes the subject does
	// not allow.
	Valid bool

	// Scopes is the effective granted scope set, nil for "no scope".
	Scopes []string

	// Modified is true when the effective scope differs from the
	// client's full scope set and must therefore be echoed back in the
	// token response.
	Modified bool
}

// NegotiateScopes validates a requested scope set against a client's
// allowed scopes.
//
// An omitted request (nil or empty) resolves to the client's full scope
// set when the client opts into default substitution, otherwise to "no
// scope"; both are valid and unmodified. A provided request is valid only
// when every token is in the client's allowed set, unless the client
// permits scope excess. A valid provided request is marked modified when
// it differs from the client's full set.
func NegotiateScopes(client *storage.Client, requested []string) ScopeResult {
	if len(requested) == 0 {
		if client.UseDefaultScopes {
			return ScopeResult{Valid: true, Scopes: client.Scopes}
		}
		return ScopeResult{Valid: true}
	}

	allowed := make(map[string]struct{}, len(client.Scopes))
	for _, s := range client.Scopes {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok && !client.AllowScopeExcess {
			return ScopeResult{}
		}
	}
	return ScopeResult{
		Valid:    true,
		Scopes:   requested,
		Modified: !sameScopeSet(requested, client.Scopes),
	}
}

// NarrowScopes validates a refresh request's scope against the token's
// existing grant. The requested set must be a subset of the token's
// scopes; refresh never widens scope. An omitted request keeps the
// token's scopes unchanged.
func NarrowScopes(token *storage.Token, requested []string) ScopeResult {
	if len(requested) == 0 {
		return ScopeResult{Valid: true, Scopes: token.Scopes}
	}

	held := make(map[string]struct{}, len(token.Scopes))
	for _, s := range token.Scopes {
		held[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := held[s]; !ok {
			return ScopeResult{}
		}
	}
	return ScopeResult{
		Valid:    true,
		Scopes:   requested,
		Modified: !sameScopeSet(requested, token.Scopes),
	}
}

// sameScopeSet compares two scope lists as sets.
func sameScopeSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			return false
		}
	}
	return true
}
