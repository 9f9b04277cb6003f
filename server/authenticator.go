package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantflow/oauth-server/storage"
)

// ClientReader loads registered clients. Unknown identifiers are reported
// as storage.ErrClientNotFound.
type ClientReader interface {
	ReadClient(ctx context.Context, id string) (*storage.Client, error)
}

// CredentialVerifier checks a supplied client secret against its stored
// hash. Implementations must not leak timing information about the hash.
type CredentialVerifier interface {
	Verify(hash, secret string) error
}

// BcryptVerifier verifies secrets with bcrypt, the scheme the storage
// backends hash with.
type BcryptVerifier struct{}

// Verify implements CredentialVerifier.
func (BcryptVerifier) Verify(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// ClientAuthenticator determines the requesting client at the token
// endpoint from the Authorization header or the body parameters.
type ClientAuthenticator struct {
	clients  ClientReader
	verifier CredentialVerifier
	realm    string
	logger   *slog.Logger
}

// NewClientAuthenticator creates an authenticator over the given client
// reader. A nil verifier falls back to bcrypt.
func NewClientAuthenticator(clients ClientReader, verifier CredentialVerifier, realm string, logger *slog.Logger) *ClientAuthenticator {
	if verifier == nil {
		verifier = BcryptVerifier{}
	}
	if realm == "" {
		realm = "OAuth"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientAuthenticator{clients: clients, verifier: verifier, realm: realm, logger: logger}
}

// Authenticate resolves the requesting client.
//
// A Basic Authorization header takes precedence: it must parse strictly
// (exact "Basic " prefix, valid base64, identifier:secret split on the
// first colon, a colon-free value carrying the identifier alone), else
// invalid_client with a 401 challenge. Without a header, body client_id
// (plus optional client_secret) is used. Either way the same rules
// apply: a supplied secret must verify, a public client without stored
// credentials may authenticate by identifier alone, and a confidential
// or credentialed client that presents no secret fails. When no
// credentials are present at all, (nil, nil) is returned and the flows
// decide whether an anonymous request is acceptable.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, authorization string, params url.Values) (*storage.Client, *BodyError) {
	if authorization != "" {
		return a.authenticateBasic(ctx, authorization, params)
	}

	clientID := readParam(params, ParamClientID)
	if clientID == "" {
		return nil, nil
	}
	return a.authenticateParams(ctx, clientID, readParam(params, ParamClientSecret))
}

func (a *ClientAuthenticator) authenticateBasic(ctx context.Context, authorization string, params url.Values) (*storage.Client, *BodyError) {
	const prefix = "Basic "
	if !strings.HasPrefix(authorization, prefix) {
		a.logger.Warn("client authentication with unsupported scheme")
		return nil, a.invalidClient()
	}
	decoded, err := base64.StdEncoding.DecodeString(authorization[len(prefix):])
	if err != nil {
		a.logger.Warn("client authentication with malformed basic credentials")
		return nil, a.invalidClient()
	}
	// A value without a colon carries an identifier only; it falls
	// through to the same rules as identifier-only body parameters.
	id, secret, _ := strings.Cut(string(decoded), ":")
	if id == "" {
		a.logger.Warn("client authentication with malformed basic credentials")
		return nil, a.invalidClient()
	}

	// A body client_id that contradicts the header is a malformed
	// request, not an authentication failure.
	if bodyID := readParam(params, ParamClientID); bodyID != "" && bodyID != id {
		return nil, ErrInvalidRequest()
	}
	return a.authenticateParams(ctx, id, secret)
}

func (a *ClientAuthenticator) authenticateParams(ctx context.Context, clientID, clientSecret string) (*storage.Client, *BodyError) {
	client, rerr := a.readClient(ctx, clientID)
	if rerr != nil {
		return nil, rerr
	}

	if clientSecret != "" {
		if !client.HasCredentials() {
			a.logger.Warn("secret supplied for client without a secret", "client_id", clientID)
			return nil, a.invalidClient()
		}
		if err := a.verifier.Verify(client.SecretHash, clientSecret); err != nil {
			a.logger.Warn("client secret verification failed", "client_id", clientID)
			return nil, a.invalidClient()
		}
		return client, nil
	}

	// Identifier-only authentication is reserved for public clients
	// without stored credentials.
	if client.Confidential || client.HasCredentials() {
		a.logger.Warn("credentialed client authenticated without a secret", "client_id", clientID)
		return nil, a.invalidClient()
	}
	return client, nil
}

func (a *ClientAuthenticator) readClient(ctx context.Context, id string) (*storage.Client, *BodyError) {
	client, err := a.clients.ReadClient(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			a.logger.Warn("authentication for unknown client", "client_id", id)
			return nil, a.invalidClient()
		}
		a.logger.Error("client lookup failed", "client_id", id, "error", err)
		return nil, a.invalidClient()
	}
	return client, nil
}

func (a *ClientAuthenticator) invalidClient() *BodyError {
	return ErrInvalidClientWithRealm(a.realm)
}
