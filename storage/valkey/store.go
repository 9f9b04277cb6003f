package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/grantflow/oauth-server/storage"
)

// Key layout, all under the configured prefix:
//
//	client:{id}            JSON client record, no TTL
//	client:default         identifier of the default client
//	code:{code}            JSON code record, TTL = code lifetime
//	token:access:{value}   JSON token record, TTL = longest value lifetime
//	token:refresh:{value}  access value index, TTL = refresh lifetime
//	token:code:{code}      set of access values issued from the code
const (
	clientKey        = "client:"
	defaultClientKey = "client:default"
	codeKey          = "code:"
	accessKey        = "token:access:"
	refreshKey       = "token:refresh:"
	codeIndexKey     = "token:code:"
)

// useCodeScript marks a code used and returns its prior JSON, preserving
// the remaining TTL. Runs atomically on the server.
var useCodeScript = valkeygo.NewLuaScript(`
local v = redis.call('GET', KEYS[1])
if not v then return false end
local obj = cjson.decode(v)
local prior = v
if not obj.used then
  obj.used = true
  redis.call('SET', KEYS[1], cjson.encode(obj), 'KEEPTTL')
end
return prior
`)

// replaceTokenScript rotates a refresh token: it resolves the old access
// value through the refresh index, deletes the old record and its index
// entries, and stores the replacement. Returns 0 when the refresh value is
// unknown, so only one of two concurrent rotations succeeds.
//
// KEYS[1] old refresh index key
// ARGV: prefix, new token JSON, new access value, new refresh value,
// origin code value, record TTL seconds, refresh index TTL seconds
var replaceTokenScript = valkeygo.NewLuaScript(`
local access = redis.call('GET', KEYS[1])
if not access then return 0 end
local old = redis.call('GET', ARGV[1]..'token:access:'..access)
redis.call('DEL', KEYS[1], ARGV[1]..'token:access:'..access)
if old then
  local o = cjson.decode(old)
  if o.code_value and o.code_value ~= '' then
    redis.call('SREM', ARGV[1]..'token:code:'..o.code_value, access)
  end
end
redis.call('SET', ARGV[1]..'token:access:'..ARGV[3], ARGV[2], 'EX', ARGV[6])
if ARGV[4] ~= '' then
  redis.call('SET', ARGV[1]..'token:refresh:'..ARGV[4], ARGV[3], 'EX', ARGV[7])
end
if ARGV[5] ~= '' then
  redis.call('SADD', ARGV[1]..'token:code:'..ARGV[5], ARGV[3])
end
return 1
`)

// revokeByCodeScript deletes every token issued from a code, including
// refresh index entries, and returns how many records were removed.
//
// KEYS[1] code index key; ARGV[1] prefix
var revokeByCodeScript = valkeygo.NewLuaScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for i, access in ipairs(members) do
  local v = redis.call('GET', ARGV[1]..'token:access:'..access)
  if v then
    local o = cjson.decode(v)
    if o.refresh_value and o.refresh_value ~= '' then
      redis.call('DEL', ARGV[1]..'token:refresh:'..o.refresh_value)
    end
    redis.call('DEL', ARGV[1]..'token:access:'..access)
    n = n + 1
  end
end
redis.call('DEL', KEYS[1])
return n
`)

// Store implements storage.Store on a Valkey server.
type Store struct {
	client valkeygo.Client
	prefix string
}

// New connects to Valkey and returns a ready store.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

// JSON records. Field names are part of the stored format and of the Lua
// scripts above; keep them in sync.

type clientRecord struct {
	ID                     string    `json:"id"`
	Confidential           bool      `json:"confidential"`
	SecretHash             string    `json:"secret_hash,omitempty"`
	RedirectURIs           []string  `json:"redirect_uris,omitempty"`
	Scopes                 []string  `json:"scopes,omitempty"`
	UseDefaultScopes       bool      `json:"use_default_scopes"`
	AllowScopeExcess       bool      `json:"allow_scope_excess"`
	CodeGrant              bool      `json:"code_grant"`
	ImplicitGrant          bool      `json:"implicit_grant"`
	PasswordGrant          bool      `json:"password_grant"`
	ClientCredentialsGrant bool      `json:"client_credentials_grant"`
	RefreshGrant           bool      `json:"refresh_grant"`
	CreatedAt              time.Time `json:"created_at"`
}

type codeRecord struct {
	Code          string    `json:"code"`
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Scopes        []string  `json:"scopes,omitempty"`
	ScopeModified bool      `json:"scope_modified"`
	Used          bool      `json:"used"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type tokenRecord struct {
	ID               string    `json:"token_id"`
	AccessValue      string    `json:"access_value"`
	RefreshValue     string    `json:"refresh_value,omitempty"`
	ClientID         string    `json:"client_id"`
	UserID           string    `json:"user_id,omitempty"`
	Scopes           []string  `json:"scopes,omitempty"`
	CodeValue        string    `json:"code_value,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toClientRecord(c *storage.Client) clientRecord {
	return clientRecord{
		ID:                     c.ID,
		Confidential:           c.Confidential,
		SecretHash:             c.SecretHash,
		RedirectURIs:           c.RedirectURIs,
		Scopes:                 c.Scopes,
		UseDefaultScopes:       c.UseDefaultScopes,
		AllowScopeExcess:       c.AllowScopeExcess,
		CodeGrant:              c.CodeGrant,
		ImplicitGrant:          c.ImplicitGrant,
		PasswordGrant:          c.PasswordGrant,
		ClientCredentialsGrant: c.ClientCredentialsGrant,
		RefreshGrant:           c.RefreshGrant,
		CreatedAt:              c.CreatedAt,
	}
}

func (r clientRecord) toClient() *storage.Client {
	return &storage.Client{
		ID:                     r.ID,
		Confidential:           r.Confidential,
		SecretHash:             r.SecretHash,
		RedirectURIs:           r.RedirectURIs,
		Scopes:                 r.Scopes,
		UseDefaultScopes:       r.UseDefaultScopes,
		AllowScopeExcess:       r.AllowScopeExcess,
		CodeGrant:              r.CodeGrant,
		ImplicitGrant:          r.ImplicitGrant,
		PasswordGrant:          r.PasswordGrant,
		ClientCredentialsGrant: r.ClientCredentialsGrant,
		RefreshGrant:           r.RefreshGrant,
		CreatedAt:              r.CreatedAt,
	}
}

func toCodeRecord(c *storage.AuthorizationCode) codeRecord {
	return codeRecord{
		Code:          c.Code,
		ClientID:      c.ClientID,
		RedirectURI:   c.RedirectURI,
		UserID:        c.UserID,
		Scopes:        c.Scopes,
		ScopeModified: c.ScopeModified,
		Used:          c.Used,
		CreatedAt:     c.CreatedAt,
		ExpiresAt:     c.ExpiresAt,
	}
}

func (r codeRecord) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:          r.Code,
		ClientID:      r.ClientID,
		RedirectURI:   r.RedirectURI,
		UserID:        r.UserID,
		Scopes:        r.Scopes,
		ScopeModified: r.ScopeModified,
		Used:          r.Used,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

func toTokenRecord(t *storage.Token) tokenRecord {
	return tokenRecord{
		ID:               t.ID,
		AccessValue:      t.AccessValue,
		RefreshValue:     t.RefreshValue,
		ClientID:         t.ClientID,
		UserID:           t.UserID,
		Scopes:           t.Scopes,
		CodeValue:        t.CodeValue,
		CreatedAt:        t.CreatedAt,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func (r tokenRecord) toToken() *storage.Token {
	return &storage.Token{
		ID:               r.ID,
		AccessValue:      r.AccessValue,
		RefreshValue:     r.RefreshValue,
		ClientID:         r.ClientID,
		UserID:           r.UserID,
		Scopes:           r.Scopes,
		CodeValue:        r.CodeValue,
		CreatedAt:        r.CreatedAt,
		AccessExpiresAt:  r.AccessExpiresAt,
		RefreshExpiresAt: r.RefreshExpiresAt,
	}
}

func ttlSeconds(expiresAt time.Time) int64 {
	ttl := int64(time.Until(expiresAt).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

// recordTTL is the TTL for a token record key, which must survive until
// the last of its values expires.
func recordTTL(t *storage.Token) int64 {
	deadline := t.AccessExpiresAt
	if t.RefreshExpiresAt.After(deadline) {
		deadline = t.RefreshExpiresAt
	}
	return ttlSeconds(deadline)
}

// SaveClient stores or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	data, err := json.Marshal(toClientRecord(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key(clientKey, client.ID)).Value(string(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// SetDefaultClient marks the client GetDefaultClient resolves to.
func (s *Store) SetDefaultClient(ctx context.Context, id string) error {
	cmd := s.client.B().Set().Key(s.key(defaultClientKey)).Value(id).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set default client: %w", err)
	}
	return nil
}

// GetClient returns the client with the given identifier.
func (s *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	cmd := s.client.B().Get().Key(s.key(clientKey, id)).Build()
	data, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	var rec clientRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return rec.toClient(), nil
}

// GetDefaultClient returns the configured default client.
func (s *Store) GetDefaultClient(ctx context.Context) (*storage.Client, error) {
	cmd := s.client.B().Get().Key(s.key(defaultClientKey)).Build()
	id, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrNoDefaultClient
		}
		return nil, fmt.Errorf("failed to get default client id: %w", err)
	}
	client, err := s.GetClient(ctx, id)
	if err != nil {
		if err == storage.ErrClientNotFound {
			return nil, storage.ErrNoDefaultClient
		}
		return nil, err
	}
	return client, nil
}

// SaveAuthorizationCode stores a code with a TTL matching its expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	data, err := json.Marshal(toCodeRecord(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key(codeKey, code.Code)).Value(string(data)).
		ExSeconds(ttlSeconds(code.ExpiresAt)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode returns the stored code. Expiry is handled by the
// key TTL.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	cmd := s.client.B().Get().Key(s.key(codeKey, code)).Build()
	data, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	var rec codeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return rec.toCode(), nil
}

// UseAuthorizationCode marks the code used via a server-side script and
// returns its prior state.
func (s *Store) UseAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	res := useCodeScript.Exec(ctx, s.client, []string{s.key(codeKey, code)}, nil)
	data, err := res.ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to use authorization code: %w", err)
	}
	var rec codeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return rec.toCode(), nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	cmd := s.client.B().Del().Key(s.key(codeKey, code)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// SaveToken stores a token record plus its refresh and code indexes.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	data, err := json.Marshal(toTokenRecord(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	cmds := make(valkeygo.Commands, 0, 3)
	cmds = append(cmds, s.client.B().Set().Key(s.key(accessKey, token.AccessValue)).
		Value(string(data)).ExSeconds(recordTTL(token)).Build())
	if token.RefreshValue != "" {
		cmds = append(cmds, s.client.B().Set().Key(s.key(refreshKey, token.RefreshValue)).
			Value(token.AccessValue).ExSeconds(ttlSeconds(token.RefreshExpiresAt)).Build())
	}
	if token.CodeValue != "" {
		cmds = append(cmds, s.client.B().Sadd().Key(s.key(codeIndexKey, token.CodeValue)).
			Member(token.AccessValue).Build())
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
	}
	return nil
}

// loadToken fetches and decodes a token record by access value without
// applying any expiry gate.
func (s *Store) loadToken(ctx context.Context, accessValue string) (*storage.Token, error) {
	cmd := s.client.B().Get().Key(s.key(accessKey, accessValue)).Build()
	data, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	var rec tokenRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return rec.toToken(), nil
}

// GetTokenByAccessValue returns the token carrying the given access value.
// The record key outlives the access deadline when a longer-lived refresh
// value is attached, so expiry is checked here rather than by the TTL.
func (s *Store) GetTokenByAccessValue(ctx context.Context, value string) (*storage.Token, error) {
	token, err := s.loadToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if storage.Expired(token.AccessExpiresAt, time.Now()) {
		return nil, storage.ErrTokenNotFound
	}
	return token, nil
}

// GetTokenByRefreshValue resolves the refresh index and loads the token.
// Refresh expiry is handled by the index key TTL.
func (s *Store) GetTokenByRefreshValue(ctx context.Context, value string) (*storage.Token, error) {
	cmd := s.client.B().Get().Key(s.key(refreshKey, value)).Build()
	access, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token index: %w", err)
	}
	return s.loadToken(ctx, access)
}

// ReplaceToken rotates a refresh token via a server-side script so only
// one of two concurrent rotations can succeed.
func (s *Store) ReplaceToken(ctx context.Context, oldRefreshValue string, replacement *storage.Token) error {
	data, err := json.Marshal(toTokenRecord(replacement))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	res := replaceTokenScript.Exec(ctx, s.client,
		[]string{s.key(refreshKey, oldRefreshValue)},
		[]string{
			s.prefix,
			string(data),
			replacement.AccessValue,
			replacement.RefreshValue,
			replacement.CodeValue,
			fmt.Sprintf("%d", recordTTL(replacement)),
			fmt.Sprintf("%d", ttlSeconds(replacement.RefreshExpiresAt)),
		})
	n, err := res.ToInt64()
	if err != nil {
		return fmt.Errorf("failed to replace token: %w", err)
	}
	if n == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// RevokeTokensByCode removes every token issued from the given code.
func (s *Store) RevokeTokensByCode(ctx context.Context, codeValue string) (int, error) {
	res := revokeByCodeScript.Exec(ctx, s.client,
		[]string{s.key(codeIndexKey, codeValue)}, []string{s.prefix})
	n, err := res.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return int(n), nil
}

// DeleteToken removes a token and its index entries.
func (s *Store) DeleteToken(ctx context.Context, accessValue string) error {
	token, err := s.loadToken(ctx, accessValue)
	if err != nil {
		if err == storage.ErrTokenNotFound {
			return nil
		}
		return err
	}
	cmds := make(valkeygo.Commands, 0, 3)
	cmds = append(cmds, s.client.B().Del().Key(s.key(accessKey, accessValue)).Build())
	if token.RefreshValue != "" {
		cmds = append(cmds, s.client.B().Del().Key(s.key(refreshKey, token.RefreshValue)).Build())
	}
	if token.CodeValue != "" {
		cmds = append(cmds, s.client.B().Srem().Key(s.key(codeIndexKey, token.CodeValue)).
			Member(accessValue).Build())
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}
	}
	return nil
}
