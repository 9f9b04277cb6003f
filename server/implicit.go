package server

import (
	"context"
	"log/slog"
	"net/url"
)

// implicitFlow implements the implicit grant. It has an authorize phase
// only: tokens travel back in the redirect fragment, so there is nothing
// to exchange at the token endpoint.
type implicitFlow struct {
	clients     ClientReader
	integration ImplicitIntegration
	cfg         *Config
	logger      *slog.Logger
}

func (f *implicitFlow) authorize(ctx context.Context, params url.Values) (*AuthorizeResult, error) {
	state := readParam(params, ParamState)
	inputURI := readParam(params, ParamRedirectURI)

	if exceedsMaxState(f.cfg, state) {
		return nil, NewRedirectError(ErrorCodeInvalidRequest, inputURI, state)
	}

	client, redirectURI, err := resolveAuthorization(ctx, f.clients, f.cfg, params)
	if err != nil {
		return nil, err
	}
	if !client.ImplicitGrant {
		return nil, NewRedirectError(ErrorCodeUnauthorizedClient, redirectURI, state)
	}
	scope := NegotiateScopes(client, readScope(params))
	if !scope.Valid {
		return nil, NewRedirectError(ErrorCodeInvalidScope, redirectURI, state)
	}

	result, err := f.integration.PromptApproval(ctx, &ApprovalRequest{
		ResponseType: ResponseTypeToken,
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
