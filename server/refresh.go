package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grantflow/oauth-server/storage"
)

// refreshFlow implements the refresh-token grant with rotation: every
// successful refresh invalidates the presented refresh value.
type refreshFlow struct {
	clients     ClientReader
	integration RefreshIntegration
	cfg         *Config
	logger      *slog.Logger
}

func (f *refreshFlow) issue(ctx context.Context, client *storage.Client, params url.Values) (*TokenGrant, error) {
	refreshValue := readParam(params, ParamRefreshToken)
	if refreshValue == "" {
		return nil, ErrInvalidRequest()
	}

	token, err := f.integration.ReadTokenByRefreshValue(ctx, refreshValue)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidGrant()
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	if client == nil {
		// Infer the client from the token. Inference is limited to
		// public, secretless clients; anything holding credentials must
		// authenticate explicitly.
		bound, err := f.clients.ReadClient(ctx, token.ClientID)
		if err != nil {
			if errors.Is(err, storage.ErrClientNotFound) {
				return nil, ErrInvalidClientWithRealm(f.cfg.Realm)
			}
			return nil, fmt.Errorf("failed to read client: %w", err)
		}
		if bound.Confidential || bound.HasCredentials() {
			f.logger.Warn("refresh without credentials for credentialed client",
				"client_id", bound.ID)
			return nil, ErrInvalidClientWithRealm(f.cfg.Realm)
		}
		client = bound
	} else if client.ID != token.ClientID {
		f.logger.Warn("refresh token presented by foreign client",
			"client_id", client.ID, "token_client_id", token.ClientID)
		return nil, ErrInvalidClientWithRealm(f.cfg.Realm)
	}

	if !client.RefreshGrant {
		return nil, ErrUnauthorizedClient()
	}

	scope := NarrowScopes(token, readScope(params))
	if !scope.Valid {
		return nil, ErrInvalidScope()
	}

	grant, err := f.integration.CreateRenewedTokens(ctx, token, scope.Scopes, scope.Modified)
	if err != nil {
		// A lost rotation race surfaces as the token having vanished.
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidGrant()
		}
		return nil, fmt.Errorf("failed to renew tokens: %w", err)
	}
	return grant, nil
}
