// Package testutil provides fixtures shared by the oauth-server test
// suites: builders for common storage entities.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantflow/oauth-server/storage"
)

// GenerateRandomString generates a random base64-encoded string.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// NewTestClient creates a confidential client with every grant enabled.
// The secret hash matches the plaintext "secret".
func NewTestClient(id string) *storage.Client {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("failed to hash test secret: %v", err))
	}
	return &storage.Client{
		ID:                     id,
		Confidential:           true,
		SecretHash:             string(hash),
		RedirectURIs:           []string{"https://example.com/callback"},
		Scopes:                 []string{"openid", "email", "profile"},
		UseDefaultScopes:       true,
		CodeGrant:              true,
		ImplicitGrant:          true,
		PasswordGrant:          true,
		ClientCredentialsGrant: true,
		RefreshGrant:           true,
		CreatedAt:              time.Now(),
	}
}

// NewTestCode creates an unused authorization code for the given client.
func NewTestCode(clientID string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    clientID,
		RedirectURI: "https://example.com/callback",
		UserID:      "test-user-123",
		Scopes:      []string{"openid", "email"},
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

// NewTestToken creates an issued token with a refresh value.
func NewTestToken(clientID string) *storage.Token {
	return &storage.Token{
		ID:           GenerateRandomString(16),
		AccessValue:  GenerateRandomString(32),
		RefreshValue: GenerateRandomString(32),
		ClientID:     clientID,
		UserID:       "test-user-123",
		Scopes:       []string{"openid", "email"},
		CreatedAt:    time.Now(),

		AccessExpiresAt:  time.Now().Add(1 * time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}
}
