package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/grantflow/oauth-server/instrumentation"
	"github.com/grantflow/oauth-server/security"
	"github.com/grantflow/oauth-server/server"
)

// Handler adapts the protocol engine to HTTP: it owns request parsing,
// rate limiting, and the rendering of both error channels, recording
// audit events and metrics through the server's shared auditor and
// instrumentation.
type Handler struct {
	server      *Server
	cfg         Config
	logger      *slog.Logger
	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	inst        *instrumentation.Instrumentation
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the structured logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates the HTTP adapter for a reference server. The
// auditor and instrumentation are shared with the server.
func NewHandler(srv *Server, opts ...HandlerOption) *Handler {
	h := &Handler{
		server:  srv,
		cfg:     srv.cfg,
		logger:  srv.logger,
		auditor: srv.auditor,
		inst:    srv.inst,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.RateLimitRPS > 0 {
		h.rateLimiter = security.NewRateLimiter(
			h.cfg.RateLimitRPS, h.cfg.RateLimitBurst, h.cfg.RateLimitMaxEntries, h.logger)
	}
	return h
}

// Close releases the handler's background resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeAuthorization handles the authorization endpoint (GET or POST).
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.inst.Tracer("http").Start(r.Context(), "oauth.authorize")
	defer span.End()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.cfg.TrustProxy, h.cfg.TrustedProxyCount)
	if !h.allow(ctx, w, clientIP) {
		return
	}

	params, ok := h.readParams(w, r)
	if !ok {
		return
	}
	clientID := params.Get(server.ParamClientID)
	responseType := params.Get(server.ParamResponseType)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrResponseType, responseType),
		attribute.String(instrumentation.AttrClientID, clientID),
	)
	h.auditor.LogAuthorizationRequested(clientID, clientIP, responseType)

	result, err := h.server.engine.Authorize(ctx, params)
	status := http.StatusFound
	if err != nil {
		status = h.writeAuthorizeError(ctx, w, span, err, clientID, clientIP)
	} else {
		instrumentation.SetSpanSuccess(span)
		h.writeAuthorizeResult(w, result)
		status = result.Status
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	h.inst.Metrics().AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrResponseType, responseType),
		attribute.String("outcome", outcome),
	))
	h.recordHTTP(ctx, span, r.Method, "/authorize", status, start)
}

// ServeToken handles the token endpoint (POST only).
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.inst.Tracer("http").Start(r.Context(), "oauth.token")
	defer span.End()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.cfg.TrustProxy, h.cfg.TrustedProxyCount)
	if !h.allow(ctx, w, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeTokenError(ctx, w, span, server.ErrInvalidRequest(), "", clientIP)
		return
	}
	params := r.PostForm
	grantType := params.Get(server.ParamGrantType)
	clientID := params.Get(server.ParamClientID)
	instrumentation.AddGrantAttributes(span, grantType, clientID)

	grant, err := h.server.engine.IssueToken(ctx, r.Header.Get("Authorization"), params)
	var status int
	if err != nil {
		status = h.writeTokenError(ctx, w, span, err, clientID, clientIP)
	} else {
		instrumentation.SetSpanSuccess(span)
		h.auditor.LogTokenIssued("", clientID, clientIP, grantType, grant.Scope)
		h.inst.Metrics().TokensIssued.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrGrantType, grantType),
		))
		status = http.StatusOK
		h.writeJSON(w, status, grant)
	}
	h.recordHTTP(ctx, span, r.Method, "/token", status, start)
}

// allow applies the per-IP rate limit. Returns false when the request was
// rejected.
func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return true
	}
	h.auditor.LogRateLimitExceeded(clientIP)
	h.inst.Metrics().RateLimitExceeded.Add(ctx, 1)
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}

// readParams extracts the request parameters: the query for GET, the form
// body for POST.
func (h *Handler) readParams(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), true
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return nil, false
	}
	return r.PostForm, true
}

func (h *Handler) writeAuthorizeResult(w http.ResponseWriter, result *AuthorizeResult) {
	if result.Location != "" {
		security.SetSecurityHeaders(w, h.cfg.Issuer)
		w.Header().Set("Location", result.Location)
		w.WriteHeader(result.Status)
		return
	}
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}

// writeAuthorizeError renders an authorization failure: redirect errors
// travel back to the client in the fragment, unresolvable requests get a
// plain 400, everything else a plain 500.
func (h *Handler) writeAuthorizeError(ctx context.Context, w http.ResponseWriter, span trace.Span, err error, clientID, clientIP string) int {
	instrumentation.RecordError(span, err)

	var redirectErr *RedirectError
	if errors.As(err, &redirectErr) {
		h.countProtocolError(ctx, redirectErr.Code)
		h.auditor.LogProtocolError(clientID, clientIP, "authorize", redirectErr.Code)
		if redirectErr.RedirectURI == "" {
			http.Error(w, "invalid authorization request", http.StatusBadRequest)
			return http.StatusBadRequest
		}

		fragment := url.Values{"error": []string{redirectErr.Code}}
		if redirectErr.Description != "" {
			fragment.Set("error_description", redirectErr.Description)
		}
		if redirectErr.ErrorURI != "" {
			fragment.Set("error_uri", redirectErr.ErrorURI)
		}
		if redirectErr.State != "" {
			fragment.Set(server.ParamState, redirectErr.State)
		}

		security.SetSecurityHeaders(w, h.cfg.Issuer)
		for key, values := range redirectErr.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		w.Header().Set("Location", redirectErr.RedirectURI+"#"+fragment.Encode())
		w.WriteHeader(http.StatusFound)
		return http.StatusFound
	}

	if errors.Is(err, server.ErrUnresolvedAuthorization) {
		h.auditor.LogProtocolError(clientID, clientIP, "authorize", server.ErrorCodeInvalidRequest)
		http.Error(w, "invalid client or redirect URI", http.StatusBadRequest)
		return http.StatusBadRequest
	}

	h.logger.Error("authorization request failed", "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
	return http.StatusInternalServerError
}

// writeTokenError renders a token-endpoint failure as the RFC JSON body.
// Non-protocol errors become an opaque 500 server_error.
func (h *Handler) writeTokenError(ctx context.Context, w http.ResponseWriter, span trace.Span, err error, clientID, clientIP string) int {
	instrumentation.RecordError(span, err)

	var bodyErr *BodyError
	if !errors.As(err, &bodyErr) {
		h.logger.Error("token request failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:            server.ErrorCodeServerError,
			ErrorDescription: server.DefaultDescription(server.ErrorCodeServerError),
		})
		return http.StatusInternalServerError
	}

	h.countProtocolError(ctx, bodyErr.Code)
	h.auditor.LogProtocolError(clientID, clientIP, "token", bodyErr.Code)
	if bodyErr.Code == server.ErrorCodeInvalidClient {
		h.auditor.LogAuthFailure("", clientID, clientIP, "client authentication failed")
	}

	for key, values := range bodyErr.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	h.writeJSON(w, bodyErr.Status, ErrorResponse{
		Error:            bodyErr.Code,
		ErrorDescription: bodyErr.Description,
		ErrorURI:         bodyErr.ErrorURI,
	})
	return bodyErr.Status
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.cfg.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) countProtocolError(ctx context.Context, code string) {
	h.inst.Metrics().ProtocolErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrError, code),
	))
}

func (h *Handler) recordHTTP(ctx context.Context, span trace.Span, method, endpoint string, status int, start time.Time) {
	instrumentation.AddHTTPAttributes(span, method, endpoint, status)
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrHTTPMethod, method),
		attribute.String(instrumentation.AttrHTTPEndpoint, endpoint),
		attribute.Int(instrumentation.AttrHTTPStatusCode, status),
	)
	h.inst.Metrics().HTTPRequestsTotal.Add(ctx, 1, attrs)
	h.inst.Metrics().HTTPRequestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}
