// Package memory provides an in-memory implementation of the storage
// interfaces. Suitable for development, testing, and single-instance
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/grantflow/oauth-server/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// A background goroutine evicts expired codes and tokens.
type Store struct {
	mu sync.RWMutex

	clients         map[string]*storage.Client
	defaultClientID string

	codes map[string]*storage.AuthorizationCode

	// tokens is keyed by access value; byRefresh and byCode index into it.
	tokens    map[string]*storage.Token
	byRefresh map[string]string
	byCode    map[string][]string

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithCleanupInterval sets how often expired entries are evicted.
// Zero disables the background cleanup goroutine.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// WithDefaultClient marks the client GetDefaultClient resolves to.
func WithDefaultClient(id string) Option {
	return func(s *Store) { s.defaultClientID = id }
}

// New creates an in-memory store and starts its cleanup goroutine.
func New(opts ...Option) *Store {
	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		byRefresh:       make(map[string]string),
		byCode:          make(map[string][]string),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.codes {
		if storage.Expired(c.ExpiresAt, now) {
			delete(s.codes, k)
		}
	}
	for k, t := range s.tokens {
		if tokenDead(t, now) {
			s.dropTokenLocked(k, t)
		}
	}
}

// tokenDead reports whether every value on the token has passed its
// deadline, so the record can be evicted.
func tokenDead(t *storage.Token, now time.Time) bool {
	if !storage.Expired(t.AccessExpiresAt, now) {
		return false
	}
	return t.RefreshValue == "" || storage.Expired(t.RefreshExpiresAt, now)
}

// dropTokenLocked removes a token and its index entries. Caller holds mu.
func (s *Store) dropTokenLocked(accessValue string, t *storage.Token) {
	delete(s.tokens, accessValue)
	if t.RefreshValue != "" {
		delete(s.byRefresh, t.RefreshValue)
	}
	if t.CodeValue != "" {
		vals := s.byCode[t.CodeValue]
		for i, v := range vals {
			if v == accessValue {
				s.byCode[t.CodeValue] = append(vals[:i], vals[i+1:]...)
				break
			}
		}
		if len(s.byCode[t.CodeValue]) == 0 {
			delete(s.byCode, t.CodeValue)
		}
	}
}

// SaveClient stores or replaces a client registration.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.clients[client.ID] = &cp
	return nil
}

// GetClient returns the client with the given identifier.
func (s *Store) GetClient(_ context.Context, id string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

// GetDefaultClient returns the configured default client.
func (s *Store) GetDefaultClient(_ context.Context) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultClientID == "" {
		return nil, storage.ErrNoDefaultClient
	}
	c, ok := s.clients[s.defaultClientID]
	if !ok {
		return nil, storage.ErrNoDefaultClient
	}
	cp := *c
	return &cp, nil
}

// SaveAuthorizationCode stores a freshly issued code.
func (s *Store) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.codes[code.Code] = &cp
	return nil
}

// GetAuthorizationCode returns the stored code, treating expired codes as
// not found.
func (s *Store) GetAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok || storage.Expired(c.ExpiresAt, time.Now()) {
		return nil, storage.ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

// UseAuthorizationCode marks the code used under the write lock and
// returns its prior state, so exactly one caller observes Used=false.
func (s *Store) UseAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok || storage.Expired(c.ExpiresAt, time.Now()) {
		return nil, storage.ErrCodeNotFound
	}
	prior := *c
	c.Used = true
	return &prior, nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

// SaveToken stores an issued token.
func (s *Store) SaveToken(_ context.Context, token *storage.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveTokenLocked(token)
	return nil
}

func (s *Store) saveTokenLocked(token *storage.Token) {
	cp := *token
	s.tokens[token.AccessValue] = &cp
	if token.RefreshValue != "" {
		s.byRefresh[token.RefreshValue] = token.AccessValue
	}
	if token.CodeValue != "" {
		s.byCode[token.CodeValue] = append(s.byCode[token.CodeValue], token.AccessValue)
	}
}

// GetTokenByAccessValue returns the token carrying the given access value.
func (s *Store) GetTokenByAccessValue(_ context.Context, value string) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[value]
	if !ok || storage.Expired(t.AccessExpiresAt, time.Now()) {
		return nil, storage.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// GetTokenByRefreshValue returns the token carrying the given refresh value.
func (s *Store) GetTokenByRefreshValue(_ context.Context, value string) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	access, ok := s.byRefresh[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t, ok := s.tokens[access]
	if !ok || storage.Expired(t.RefreshExpiresAt, time.Now()) {
		return nil, storage.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// ReplaceToken rotates a refresh token under one lock acquisition: the old
// token is removed and the replacement stored, so concurrent rotations of
// the same refresh value cannot both succeed.
func (s *Store) ReplaceToken(_ context.Context, oldRefreshValue string, replacement *storage.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, ok := s.byRefresh[oldRefreshValue]
	if !ok {
		return storage.ErrTokenNotFound
	}
	old, ok := s.tokens[access]
	if !ok || storage.Expired(old.RefreshExpiresAt, time.Now()) {
		return storage.ErrTokenNotFound
	}
	s.dropTokenLocked(access, old)
	s.saveTokenLocked(replacement)
	return nil
}

// RevokeTokensByCode removes every token issued from the given code.
func (s *Store) RevokeTokensByCode(_ context.Context, codeValue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.byCode[codeValue]
	n := 0
	for len(vals) > 0 {
		access := vals[0]
		t, ok := s.tokens[access]
		if !ok {
			vals = vals[1:]
			continue
		}
		s.dropTokenLocked(access, t)
		n++
		vals = s.byCode[codeValue]
	}
	delete(s.byCode, codeValue)
	return n, nil
}

// DeleteToken removes the token carrying the given access value.
func (s *Store) DeleteToken(_ context.Context, accessValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[accessValue]
	if !ok {
		return nil
	}
	s.dropTokenLocked(accessValue, t)
	return nil
}
