package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grantflow/oauth-server/storage"
)

// codeFlow implements the authorization-code grant: the authorize phase
// validates the request and hands it to the host for resource-owner
// approval; the issue phase exchanges the resulting code for tokens.
type codeFlow struct {
	clients     ClientReader
	integration CodeIntegration
	cfg         *Config
	logger      *slog.Logger
}

func (f *codeFlow) authorize(ctx context.Context, params url.Values) (*AuthorizeResult, error) {
	state := readParam(params, ParamState)
	inputURI := readParam(params, ParamRedirectURI)

	// State length is checked before any client lookup so that the
	// outcome does not differ between known and unknown clients.
	if exceedsMaxState(f.cfg, state) {
		return nil, NewRedirectError(ErrorCodeInvalidRequest, inputURI, state)
	}

	client, redirectURI, err := resolveAuthorization(ctx, f.clients, f.cfg, params)
	if err != nil {
		return nil, err
	}
	if !client.CodeGrant {
		return nil, NewRedirectError(ErrorCodeUnauthorizedClient, redirectURI, state)
	}
	scope := NegotiateScopes(client, readScope(params))
	if !scope.Valid {
		return nil, NewRedirectError(ErrorCodeInvalidScope, redirectURI, state)
	}

	result, err := f.integration.PromptApproval(ctx, &ApprovalRequest{
		ResponseType: ResponseTypeCode,
		Client:       client,
		RedirectURI:  redirectURI,
		Scopes:       scope.Scopes,
		Modified:     scope.Modified,
		State:        state,
	})
	if err != nil {
		return nil, promoteAuthorizeError(f.logger, err, redirectURI, state)
	}
	return result, nil
}

func (f *codeFlow) issue(ctx context.Context, client *storage.Client, params url.Values) (*TokenGrant, error) {
	if client == nil || !client.CodeGrant {
		return nil, ErrUnauthorizedClient()
	}
	codeValue := readParam(params, ParamCode)
	if codeValue == "" {
		return nil, ErrInvalidGrant()
	}

	// The code is marked used atomically up front; any later check
	// failure burns it, which also protects against probing.
	prior, err := f.integration.UseAuthorizationCode(ctx, codeValue)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return nil, ErrInvalidGrant()
		}
		return nil, fmt.Errorf("failed to use authorization code: %w", err)
	}

	if prior.Used {
		f.logger.Warn("authorization code replay detected, revoking issued tokens",
			"client_id", client.ID)
		if err := f.integration.RevokeCodeTokens(ctx, codeValue); err != nil {
			f.logger.Error("failed to revoke tokens for replayed code", "error", err)
		}
		return nil, ErrInvalidGrant()
	}
	if prior.ClientID != client.ID {
		return nil, ErrUnauthorizedClient()
	}
	if prior.RedirectURI != "" && readParam(params, ParamRedirectURI) != prior.RedirectURI {
		return nil, ErrInvalidGrant()
	}

	grant, err := f.integration.CreateCodeTokens(ctx, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens for code: %w", err)
	}
	return grant, nil
}
