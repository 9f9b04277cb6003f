package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grantflow/oauth-server/storage"
)

// passwordFlow implements the resource-owner password-credentials grant.
type passwordFlow struct {
	integration PasswordIntegration
	cfg         *Config
	logger      *slog.Logger
}

func (f *passwordFlow) issue(ctx context.Context, client *storage.Client, params url.Values) (*TokenGrant, error) {
	if client == nil {
		// Anonymous requests fall back to the host's default client,
		// which must be secretless: a client holding credentials has to
		// present them.
		def, err := f.integration.DefaultClient(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNoDefaultClient) {
				return nil, ErrInvalidClientWithRealm(f.cfg.Realm)
			}
			return nil, fmt.Errorf("failed to read default client: %w", err)
		}
		if def.HasCredentials() {
			return nil, ErrUnauthorizedClient()
		}
		client = def
	}
	if !client.PasswordGrant {
		return nil, ErrUnauthorizedClient()
	}

	scope := NegotiateScopes(client, readScope(params))
	if !scope.Valid {
		return nil, ErrInvalidScope()
	}

	username := readParam(params, ParamUsername)
	password := readParam(params, ParamPassword)
	if username == "" || password == "" {
		return nil, ErrInvalidRequest()
	}

	grant, err := f.integration.ValidateCredentialsAndCreateTokens(ctx, client, username, password, scope.Scopes, scope.Modified)
	if err != nil {
		if errors.Is(err, ErrInvalidResourceOwnerCredentials) {
			f.logger.Warn("resource owner credential verification failed",
				"client_id", client.ID, "username", username)
			return nil, ErrInvalidGrant()
		}
		return nil, fmt.Errorf("failed to create tokens: %w", err)
	}
	return grant, nil
}
