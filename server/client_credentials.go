package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grantflow/oauth-server/storage"
)

// clientCredentialsFlow implements the client-credentials grant. Only a
// client that authenticated with real credentials may use it.
type clientCredentialsFlow struct {
	integration ClientCredentialsIntegration
	cfg         *Config
	logger      *slog.Logger
}

func (f *clientCredentialsFlow) issue(ctx context.Context, client *storage.Client, params url.Values) (*TokenGrant, error) {
	if client == nil || !client.HasCredentials() {
		return nil, ErrInvalidClientWithRealm(f.cfg.Realm)
	}
	if !client.ClientCredentialsGrant {
		return nil, ErrUnauthorizedClient()
	}

	scope := NegotiateScopes(client, readScope(params))
	if !scope.Valid {
		return nil, ErrInvalidScope()
	}

	grant, err := f.integration.CreateClientTokens(ctx, client, scope.Scopes, scope.Modified)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens: %w", err)
	}
	return grant, nil
}
