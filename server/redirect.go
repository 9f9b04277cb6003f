package server

import (
	"errors"

	"github.com/grantflow/oauth-server/storage"
)

// ErrNoValidRedirectURI reports that an authorization request's redirect
// URI could not be resolved against the client's registration. The
// failure must never be delivered by redirect; callers render a plain
// error response instead.
var ErrNoValidRedirectURI = errors.New("no valid redirect URI for client")

// ResolveRedirectURI matches the request's redirect_uri against the
// client's registered URIs by exact string comparison.
//
// A supplied URI must equal one of the registered URIs. An omitted URI
// resolves to the client's single registered URI only when inputOptional
// is set and exactly one URI is registered; in every other case omission
// fails. No normalization or prefix matching is applied.
func ResolveRedirectURI(client *storage.Client, inputURI string, inputOptional bool) (string, error) {
	if inputURI == "" {
		if inputOptional && len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", ErrNoValidRedirectURI
	}
	for _, registered := range client.RedirectURIs {
		if registered == inputURI {
			return inputURI, nil
		}
	}
	return "", ErrNoValidRedirectURI
}
