package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/grantflow/oauth-server/internal/testutil"
	"github.com/grantflow/oauth-server/storage"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(append([]Option{WithCleanupInterval(0)}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func TestClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testutil.NewTestClient("client-1")
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if diff := cmp.Diff(client, got); diff != "" {
		t.Errorf("client mismatch (-want +got):\n%s", diff)
	}

	// Mutating the returned copy must not affect the stored client.
	got.SecretHash = "tampered"
	again, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if again.SecretHash != client.SecretHash {
		t.Error("stored client mutated through returned copy")
	}

	if _, err := s.GetClient(ctx, "ghost"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("missing client: got %v", err)
	}
}

func TestDefaultClient(t *testing.T) {
	ctx := context.Background()

	s := newTestStore(t)
	if _, err := s.GetDefaultClient(ctx); !errors.Is(err, storage.ErrNoDefaultClient) {
		t.Errorf("unconfigured default: got %v", err)
	}

	s = newTestStore(t, WithDefaultClient("host"))
	if _, err := s.GetDefaultClient(ctx); !errors.Is(err, storage.ErrNoDefaultClient) {
		t.Errorf("configured but unsaved default: got %v", err)
	}

	if err := s.SaveClient(ctx, &storage.Client{ID: "host"}); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}
	got, err := s.GetDefaultClient(ctx)
	if err != nil {
		t.Fatalf("GetDefaultClient: %v", err)
	}
	if got.ID != "host" {
		t.Errorf("default client: got %q", got.ID)
	}
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.NewTestCode("client-1")
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	got, err := s.GetAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode: %v", err)
	}
	if got.Used {
		t.Error("fresh code reported as used")
	}

	// First use observes the unused prior state.
	prior, err := s.UseAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("UseAuthorizationCode: %v", err)
	}
	if prior.Used {
		t.Error("first use saw Used=true")
	}

	// Second use observes the burn.
	prior, err = s.UseAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("UseAuthorizationCode replay: %v", err)
	}
	if !prior.Used {
		t.Error("second use saw Used=false")
	}

	if err := s.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Fatalf("DeleteAuthorizationCode: %v", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("deleted code: got %v", err)
	}
}

func TestExpiredCodeNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "client-1",
		ExpiresAt: time.Now().Add(-time.Second),
	}
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expired via Get: got %v", err)
	}
	if _, err := s.UseAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expired via Use: got %v", err)
	}
}

func newToken(access, refresh, codeValue string) *storage.Token {
	return &storage.Token{
		ID:           "tok-" + access,
		AccessValue:  access,
		RefreshValue: refresh,
		ClientID:     "client-1",
		CodeValue:    codeValue,

		AccessExpiresAt:  time.Now().Add(time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestTokenLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.NewTestToken("client-1")
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	byAccess, err := s.GetTokenByAccessValue(ctx, token.AccessValue)
	if err != nil {
		t.Fatalf("GetTokenByAccessValue: %v", err)
	}
	byRefresh, err := s.GetTokenByRefreshValue(ctx, token.RefreshValue)
	if err != nil {
		t.Fatalf("GetTokenByRefreshValue: %v", err)
	}
	if byAccess.ID != byRefresh.ID {
		t.Errorf("lookups returned different tokens: %q vs %q", byAccess.ID, byRefresh.ID)
	}

	if _, err := s.GetTokenByAccessValue(ctx, "ghost"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("missing access value: got %v", err)
	}
	if _, err := s.GetTokenByRefreshValue(ctx, "ghost"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("missing refresh value: got %v", err)
	}

	if err := s.DeleteToken(ctx, token.AccessValue); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := s.GetTokenByRefreshValue(ctx, token.RefreshValue); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("refresh index survived token deletion")
	}
}

func TestExpiredAccessValueNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The access value is spent but the refresh value lives on.
	token := newToken("a1", "r1", "")
	token.AccessExpiresAt = time.Now().Add(-time.Second)
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if _, err := s.GetTokenByAccessValue(ctx, "a1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired access value: got %v", err)
	}
	if _, err := s.GetTokenByRefreshValue(ctx, "r1"); err != nil {
		t.Errorf("live refresh value: got %v", err)
	}
	if err := s.ReplaceToken(ctx, "r1", newToken("a2", "r2", "")); err != nil {
		t.Errorf("rotation on live refresh value: got %v", err)
	}
}

func TestExpiredRefreshValueNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := newToken("a1", "r1", "")
	token.AccessExpiresAt = time.Now().Add(-time.Minute)
	token.RefreshExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if _, err := s.GetTokenByRefreshValue(ctx, "r1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired refresh value: got %v", err)
	}
	if err := s.ReplaceToken(ctx, "r1", newToken("a2", "r2", "")); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("rotation on expired refresh value: got %v", err)
	}
	if _, err := s.GetTokenByAccessValue(ctx, "a2"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("failed rotation stored its replacement")
	}
}

func TestReplaceToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, newToken("a1", "r1", "")); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	if err := s.ReplaceToken(ctx, "r1", newToken("a2", "r2", "")); err != nil {
		t.Fatalf("ReplaceToken: %v", err)
	}

	if _, err := s.GetTokenByRefreshValue(ctx, "r1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("old refresh value still resolves")
	}
	if _, err := s.GetTokenByAccessValue(ctx, "a1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("old access value still resolves")
	}
	got, err := s.GetTokenByRefreshValue(ctx, "r2")
	if err != nil {
		t.Fatalf("GetTokenByRefreshValue: %v", err)
	}
	if got.AccessValue != "a2" {
		t.Errorf("replacement access value: got %q", got.AccessValue)
	}

	// The rotation loser sees the old value already gone.
	if err := s.ReplaceToken(ctx, "r1", newToken("a3", "r3", "")); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second rotation: got %v", err)
	}
}

func TestRevokeTokensByCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, newToken("a1", "r1", "code-1")); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.SaveToken(ctx, newToken("a2", "r2", "code-1")); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.SaveToken(ctx, newToken("a3", "r3", "code-2")); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	n, err := s.RevokeTokensByCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("RevokeTokensByCode: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked count: got %d, want 2", n)
	}
	if _, err := s.GetTokenByAccessValue(ctx, "a1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("a1 survived revocation")
	}
	if _, err := s.GetTokenByAccessValue(ctx, "a2"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("a2 survived revocation")
	}
	if _, err := s.GetTokenByAccessValue(ctx, "a3"); err != nil {
		t.Errorf("unrelated token revoked: %v", err)
	}

	n, err = s.RevokeTokensByCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("RevokeTokensByCode repeat: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat revoked count: got %d, want 0", n)
	}
}

func TestEvictExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "old", ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "fresh", ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}
	expired := newToken("a1", "r1", "code-1")
	expired.AccessExpiresAt = now.Add(-time.Minute)
	expired.RefreshExpiresAt = now.Add(-time.Minute)
	if err := s.SaveToken(ctx, expired); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	// Access value spent, refresh value still live: must not be evicted.
	halfLive := newToken("a2", "r2", "")
	halfLive.AccessExpiresAt = now.Add(-time.Minute)
	if err := s.SaveToken(ctx, halfLive); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	s.evictExpired(now)

	s.mu.RLock()
	_, oldOK := s.codes["old"]
	_, freshOK := s.codes["fresh"]
	_, refreshOK := s.byRefresh["r1"]
	_, codeIdxOK := s.byCode["code-1"]
	_, halfLiveOK := s.byRefresh["r2"]
	s.mu.RUnlock()
	if oldOK {
		t.Error("expired code survived eviction")
	}
	if !freshOK {
		t.Error("fresh code evicted")
	}
	if refreshOK || codeIdxOK {
		t.Error("token index entries survived eviction")
	}
	if !halfLiveOK {
		t.Error("token with live refresh value evicted")
	}
}

func TestZeroExpiryNeverExpires(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, &storage.Token{ID: "tok", AccessValue: "a1", ClientID: "c"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	s.evictExpired(time.Now().Add(24 * time.Hour))
	if _, err := s.GetTokenByAccessValue(ctx, "a1"); err != nil {
		t.Errorf("zero-expiry token evicted: %v", err)
	}
}
