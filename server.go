package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/grantflow/oauth-server/instrumentation"
	"github.com/grantflow/oauth-server/security"
	"github.com/grantflow/oauth-server/server"
	"github.com/grantflow/oauth-server/storage"
)

// UserAuthenticator verifies resource-owner credentials for the password
// grant and returns the user's identifier. Failed verification is
// reported as server.ErrInvalidResourceOwnerCredentials.
type UserAuthenticator func(ctx context.Context, username, password string) (string, error)

// ApprovalPrompt lets the host interpose a consent step: it receives the
// validated authorization request and produces the response shown to the
// resource owner. Hosts typically render a consent page here and later
// call Server.ApproveAuthorization from its form handler. When nil, the
// server auto-approves and redirects immediately.
type ApprovalPrompt func(ctx context.Context, req *ApprovalRequest) (*AuthorizeResult, error)

// Server is the reference host integration: it implements every engine
// integration interface on top of the storage repositories, minting
// opaque bearer tokens with the configured lifetimes.
type Server struct {
	store   storage.Store
	cfg     Config
	logger  *slog.Logger
	engine  *server.Server
	auditor *security.Auditor
	inst    *instrumentation.Instrumentation

	authenticateUser UserAuthenticator
	approvalPrompt   ApprovalPrompt
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithUserAuthenticator enables the password grant with the given
// credential verifier. Without it the grant is unsupported.
func WithUserAuthenticator(fn UserAuthenticator) ServerOption {
	return func(s *Server) { s.authenticateUser = fn }
}

// WithApprovalPrompt replaces the default auto-approval with a host
// consent step.
func WithApprovalPrompt(fn ApprovalPrompt) ServerOption {
	return func(s *Server) { s.approvalPrompt = fn }
}

// WithInstrumentation attaches OpenTelemetry instrumentation, shared by
// the server and its HTTP handler. Defaults to no-op providers.
func WithInstrumentation(inst *instrumentation.Instrumentation) ServerOption {
	return func(s *Server) { s.inst = inst }
}

// NewServer creates the reference server over the given store.
func NewServer(store storage.Store, cfg Config, opts ...ServerOption) (*Server, error) {
	cfg.applySecureDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auditor = security.NewAuditor(s.logger, cfg.AuditEnabled)
	if s.inst == nil {
		// No-op providers keep the recording paths branch-free.
		inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create instrumentation: %w", err)
		}
		s.inst = inst
	}

	integrations := server.Integrations{
		Code:              s,
		Implicit:          (*implicitIntegration)(s),
		ClientCredentials: (*clientCredentialsIntegration)(s),
		Refresh:           (*refreshIntegration)(s),
	}
	if s.authenticateUser != nil {
		integrations.Password = (*passwordIntegration)(s)
	}

	s.engine = server.New(server.Config{
		MaxStateLength:   cfg.MaxStateLength,
		InputURIOptional: cfg.InputURIOptional,
		Realm:            cfg.Realm,
		ErrorURIs:        cfg.ErrorURIs,
	}, s, integrations, server.WithLogger(s.logger))
	return s, nil
}

// Engine returns the underlying protocol engine.
func (s *Server) Engine() *server.Server {
	return s.engine
}

// Store returns the backing store.
func (s *Server) Store() storage.Store {
	return s.store
}

// ReadClient implements server.ClientReader.
func (s *Server) ReadClient(ctx context.Context, id string) (*storage.Client, error) {
	return s.store.GetClient(ctx, id)
}

// PromptApproval implements the authorize phase of the code flow. The
// host's prompt runs when configured; otherwise the request is approved
// immediately: a code is issued and the redirect built.
func (s *Server) PromptApproval(ctx context.Context, req *ApprovalRequest) (*AuthorizeResult, error) {
	if s.approvalPrompt != nil {
		return s.approvalPrompt(ctx, req)
	}
	return s.ApproveAuthorization(ctx, req, "")
}

// ApproveAuthorization finishes an approved authorization request: for
// response type code it issues and stores an authorization code, for
// response type token it mints an access token; either way it returns
// the redirect carrying the result. userID may be empty when the host
// has no authenticated resource owner to bind.
func (s *Server) ApproveAuthorization(ctx context.Context, req *ApprovalRequest, userID string) (*AuthorizeResult, error) {
	switch req.ResponseType {
	case server.ResponseTypeToken:
		token := s.mintToken(req.Client.ID, userID, req.Scopes, false, "")
		if err := s.store.SaveToken(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to save token: %w", err)
		}
		return server.NewTokenRedirect(req.RedirectURI, s.toGrant(token, req.Modified), req.State)
	default:
		now := time.Now()
		code := &storage.AuthorizationCode{
			Code:          oauth2.GenerateVerifier(),
			ClientID:      req.Client.ID,
			RedirectURI:   req.RedirectURI,
			UserID:        userID,
			Scopes:        req.Scopes,
			ScopeModified: req.Modified,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.cfg.AuthCodeTTL),
		}
		if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
			return nil, fmt.Errorf("failed to save authorization code: %w", err)
		}
		return server.NewCodeRedirect(req.RedirectURI, code.Code, req.State)
	}
}

// UseAuthorizationCode implements the code flow's atomic code read.
func (s *Server) UseAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	return s.store.UseAuthorizationCode(ctx, code)
}

// CreateCodeTokens mints the token pair for an exchanged code. The token
// records its origin code so replay can revoke it later.
func (s *Server) CreateCodeTokens(ctx context.Context, code *storage.AuthorizationCode) (*server.TokenGrant, error) {
	token := s.mintToken(code.ClientID, code.UserID, code.Scopes, true, code.Code)
	if err := s.store.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return s.toGrant(token, code.ScopeModified), nil
}

// RevokeCodeTokens revokes every token minted from the code.
func (s *Server) RevokeCodeTokens(ctx context.Context, code string) error {
	n, err := s.store.RevokeTokensByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	if n > 0 {
		s.logger.Warn("revoked tokens issued from replayed authorization code", "count", n)
		s.auditor.LogCodeReplay("", "", n)
		s.inst.Metrics().CodeReplayDetected.Add(ctx, 1)
	}
	return nil
}

// implicitIntegration adapts Server to the implicit flow. Tokens minted
// here carry no refresh value.
type implicitIntegration Server

func (i *implicitIntegration) PromptApproval(ctx context.Context, req *ApprovalRequest) (*AuthorizeResult, error) {
	return (*Server)(i).PromptApproval(ctx, req)
}

// passwordIntegration adapts Server to the password flow.
type passwordIntegration Server

func (p *passwordIntegration) DefaultClient(ctx context.Context) (*storage.Client, error) {
	return p.store.GetDefaultClient(ctx)
}

func (p *passwordIntegration) ValidateCredentialsAndCreateTokens(ctx context.Context, client *storage.Client, username, password string, scopes []string, scopeModified bool) (*server.TokenGrant, error) {
	s := (*Server)(p)
	userID, err := s.authenticateUser(ctx, username, password)
	if err != nil {
		return nil, err
	}
	token := s.mintToken(client.ID, userID, scopes, true, "")
	if err := s.store.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return s.toGrant(token, scopeModified), nil
}

// clientCredentialsIntegration adapts Server to the client-credentials
// flow. No refresh token is issued for machine clients (RFC 6749
// section 4.4.3).
type clientCredentialsIntegration Server

func (c *clientCredentialsIntegration) CreateClientTokens(ctx context.Context, client *storage.Client, scopes []string, scopeModified bool) (*server.TokenGrant, error) {
	s := (*Server)(c)
	token := s.mintToken(client.ID, "", scopes, false, "")
	if err := s.store.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return s.toGrant(token, scopeModified), nil
}

// refreshIntegration adapts Server to the refresh flow.
type refreshIntegration Server

func (r *refreshIntegration) ReadTokenByRefreshValue(ctx context.Context, value string) (*storage.Token, error) {
	return r.store.GetTokenByRefreshValue(ctx, value)
}

func (r *refreshIntegration) CreateRenewedTokens(ctx context.Context, token *storage.Token, scopes []string, scopeModified bool) (*server.TokenGrant, error) {
	s := (*Server)(r)
	replacement := s.mintToken(token.ClientID, token.UserID, scopes, true, token.CodeValue)
	if err := s.store.ReplaceToken(ctx, token.RefreshValue, replacement); err != nil {
		return nil, err
	}
	return s.toGrant(replacement, scopeModified), nil
}

// mintToken creates an opaque token record. The values come from a CSPRNG
// via oauth2.GenerateVerifier (43 chars of base64url entropy).
func (s *Server) mintToken(clientID, userID string, scopes []string, withRefresh bool, codeValue string) *storage.Token {
	now := time.Now()
	token := &storage.Token{
		ID:          uuid.NewString(),
		AccessValue: oauth2.GenerateVerifier(),
		ClientID:    clientID,
		UserID:      userID,
		Scopes:      scopes,
		CodeValue:   codeValue,
		CreatedAt:   now,

		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}
	if withRefresh {
		token.RefreshValue = oauth2.GenerateVerifier()
		token.RefreshExpiresAt = now.Add(s.cfg.RefreshTokenTTL)
	}
	return token
}

// toGrant renders a stored token as the wire-level grant. The scope is
// echoed only when it differs from what the client asked for.
func (s *Server) toGrant(token *storage.Token, scopeModified bool) *server.TokenGrant {
	grant := &server.TokenGrant{
		AccessToken:  token.AccessValue,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: token.RefreshValue,
	}
	if scopeModified {
		grant.Scope = server.JoinScope(token.Scopes)
	}
	return grant
}
