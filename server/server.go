package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grantflow/oauth-server/storage"
)

// ErrUnresolvedAuthorization reports an authorization request whose
// client or redirect URI could not be established. No redirect is
// possible for these; callers render a plain error response.
var ErrUnresolvedAuthorization = errors.New("client or redirect URI could not be resolved")

// Server is the protocol engine: it validates requests, sequences the
// per-grant checks, and delegates issuance to the host integrations. It
// holds no mutable state and is safe for concurrent use.
type Server struct {
	clients       ClientReader
	authenticator *ClientAuthenticator
	cfg           Config
	logger        *slog.Logger

	code              *codeFlow
	implicit          *implicitFlow
	password          *passwordFlow
	clientCredentials *clientCredentialsFlow
	refresh           *refreshFlow
}

// Option customizes a Server.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	verifier CredentialVerifier
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCredentialVerifier replaces the bcrypt secret verifier.
func WithCredentialVerifier(v CredentialVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// New creates an engine over the given client reader and host
// integrations. A nil integration disables its grant: the matching
// response_type fails unsupported_response_type and the matching
// grant_type fails unsupported_grant_type.
func New(cfg Config, clients ClientReader, integrations Integrations, opts ...Option) *Server {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg.applyDefaults()

	s := &Server{
		clients:       clients,
		authenticator: NewClientAuthenticator(clients, o.verifier, cfg.Realm, o.logger),
		cfg:           cfg,
		logger:        o.logger,
	}
	if integrations.Code != nil {
		s.code = &codeFlow{clients: clients, integration: integrations.Code, cfg: &s.cfg, logger: o.logger}
	}
	if integrations.Implicit != nil {
		s.implicit = &implicitFlow{clients: clients, integration: integrations.Implicit, cfg: &s.cfg, logger: o.logger}
	}
	if integrations.Password != nil {
		s.password = &passwordFlow{integration: integrations.Password, cfg: &s.cfg, logger: o.logger}
	}
	if integrations.ClientCredentials != nil {
		s.clientCredentials = &clientCredentialsFlow{integration: integrations.ClientCredentials, cfg: &s.cfg, logger: o.logger}
	}
	if integrations.Refresh != nil {
		s.refresh = &refreshFlow{clients: clients, integration: integrations.Refresh, cfg: &s.cfg, logger: o.logger}
	}
	return s
}

// Authenticator exposes the engine's client authenticator, mainly for
// hosts that need client determination outside the token endpoint.
func (s *Server) Authenticator() *ClientAuthenticator {
	return s.authenticator
}

// Authorize handles an authorization-endpoint request. Failures come back
// as *RedirectError when a delivery destination is known, or wrapped in
// ErrUnresolvedAuthorization when it is not.
func (s *Server) Authorize(ctx context.Context, params url.Values) (*AuthorizeResult, error) {
	var (
		result *AuthorizeResult
		err    error
	)
	switch responseType := readParam(params, ParamResponseType); responseType {
	case ResponseTypeCode:
		if s.code == nil {
			err = s.unsupportedResponseType(ctx, params)
			break
		}
		result, err = s.code.authorize(ctx, params)
	case ResponseTypeToken:
		if s.implicit == nil {
			err = s.unsupportedResponseType(ctx, params)
			break
		}
		result, err = s.implicit.authorize(ctx, params)
	default:
		s.logger.Warn("authorization request with unsupported response type",
			"response_type", responseType)
		err = s.unsupportedResponseType(ctx, params)
	}
	if err != nil {
		return nil, s.decorate(err)
	}
	return result, nil
}

// IssueToken handles a token-endpoint request. The Authorization header
// value is passed through verbatim; params carry the form body. Failures
// come back as *BodyError.
func (s *Server) IssueToken(ctx context.Context, authorization string, params url.Values) (*TokenGrant, error) {
	client, authErr := s.authenticator.Authenticate(ctx, authorization, params)
	if authErr != nil {
		return nil, s.decorate(authErr)
	}

	var (
		grant *TokenGrant
		err   error
	)
	switch grantType := readParam(params, ParamGrantType); grantType {
	case GrantTypeAuthorizationCode:
		if s.code == nil {
			err = ErrUnsupportedGrantType()
			break
		}
		grant, err = s.code.issue(ctx, client, params)
	case GrantTypePassword:
		if s.password == nil {
			err = ErrUnsupportedGrantType()
			break
		}
		grant, err = s.password.issue(ctx, client, params)
	case GrantTypeClientCredentials:
		if s.clientCredentials == nil {
			err = ErrUnsupportedGrantType()
			break
		}
		grant, err = s.clientCredentials.issue(ctx, client, params)
	case GrantTypeRefreshToken:
		if s.refresh == nil {
			err = ErrUnsupportedGrantType()
			break
		}
		grant, err = s.refresh.issue(ctx, client, params)
	case "":
		err = ErrInvalidRequest()
	default:
		s.logger.Warn("token request with unsupported grant type", "grant_type", grantType)
		err = ErrUnsupportedGrantType()
	}
	if err != nil {
		return nil, s.decorate(err)
	}
	return grant, nil
}

// unsupportedResponseType builds the error redirect for a response_type
// the engine cannot serve. The destination is resolved against the client
// registration first: an unverified redirect_uri gets no redirect at all.
func (s *Server) unsupportedResponseType(ctx context.Context, params url.Values) error {
	_, redirectURI, err := resolveAuthorization(ctx, s.clients, &s.cfg, params)
	if err != nil {
		return err
	}
	return NewRedirectError(ErrorCodeUnsupportedResponseType,
		redirectURI, readParam(params, ParamState))
}

// decorate attaches configured error_uri values to protocol errors that
// leave the engine without one.
func (s *Server) decorate(err error) error {
	if len(s.cfg.ErrorURIs) == 0 {
		return err
	}
	var redirectErr *RedirectError
	if errors.As(err, &redirectErr) && redirectErr.ErrorURI == "" {
		redirectErr.ErrorURI = s.cfg.ErrorURIs[redirectErr.Code]
		return err
	}
	var bodyErr *BodyError
	if errors.As(err, &bodyErr) && bodyErr.ErrorURI == "" {
		bodyErr.ErrorURI = s.cfg.ErrorURIs[bodyErr.Code]
	}
	return err
}

// exceedsMaxState reports a state parameter longer than the configured
// bound. Zero means unlimited.
func exceedsMaxState(cfg *Config, state string) bool {
	return cfg.MaxStateLength > 0 && len(state) > cfg.MaxStateLength
}

// resolveAuthorization loads the requesting client and resolves its
// redirect URI for the authorize phase. Both failures are unresolvable:
// redirecting to an unverified destination is never an option.
func resolveAuthorization(ctx context.Context, clients ClientReader, cfg *Config, params url.Values) (*storage.Client, string, error) {
	clientID := readParam(params, ParamClientID)
	if clientID == "" {
		return nil, "", fmt.Errorf("%w: missing client_id", ErrUnresolvedAuthorization)
	}
	client, err := clients.ReadClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, "", fmt.Errorf("%w: unknown client %q", ErrUnresolvedAuthorization, clientID)
		}
		return nil, "", fmt.Errorf("failed to read client: %w", err)
	}
	redirectURI, err := ResolveRedirectURI(client, readParam(params, ParamRedirectURI), cfg.InputURIOptional)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnresolvedAuthorization, err)
	}
	return client, redirectURI, nil
}

// promoteAuthorizeError turns a host integration failure into a redirect
// error aimed at the already-resolved destination. A *RedirectError from
// the host (e.g. access_denied) passes through, gaining the destination
// and state when it carries none.
func promoteAuthorizeError(logger *slog.Logger, err error, redirectURI, state string) error {
	var redirectErr *RedirectError
	if errors.As(err, &redirectErr) {
		if redirectErr.RedirectURI == "" {
			redirectErr.RedirectURI = redirectURI
		}
		if redirectErr.State == "" {
			redirectErr.State = state
		}
		return redirectErr
	}
	logger.Error("authorization integration failed", "error", err)
	return NewRedirectError(ErrorCodeServerError, redirectURI, state)
}
