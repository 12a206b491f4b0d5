package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/aura-polls/backend/internal/models"
	rediskeys "github.com/aura-polls/backend/pkg/redis"
)

// CredentialStore holds the credential of one session. Get returns nil when there is none.
// Readers always observe a whole credential; Set replaces it wholesale.
type CredentialStore interface {
	Get(ctx context.Context) (*models.Credential, error)
	Set(ctx context.Context, cred models.Credential) error
	Clear(ctx context.Context) error
	// Watch registers fn to be called after every Set (with the new credential) and Clear (with nil).
	Watch(fn func(cred *models.Credential))
}

type watchers struct {
	mu  sync.Mutex
	fns []func(*models.Credential)
}

func (w *watchers) Watch(fn func(cred *models.Credential)) {
	w.mu.Lock()
	w.fns = append(w.fns, fn)
	w.mu.Unlock()
}

func (w *watchers) notify(cred *models.Credential) {
	w.mu.Lock()
	fns := append([]func(*models.Credential){}, w.fns...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(cred)
	}
}

// MemoryCredentialStore keeps the credential in process memory.
type MemoryCredentialStore struct {
	watchers
	mu   sync.RWMutex
	cred *models.Credential
}

// NewMemoryCredentialStore creates an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Get(_ context.Context) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, nil
	}
	cp := *s.cred
	return &cp, nil
}

func (s *MemoryCredentialStore) Set(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	s.notify(&cred)
	return nil
}

func (s *MemoryCredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	s.notify(nil)
	return nil
}

// RedisCredentialStore persists the credential as JSON under session:<key>:credential so it
// survives restarts of the consuming process.
type RedisCredentialStore struct {
	watchers
	client redis.UniversalClient
	key    string
}

// NewRedisCredentialStore creates a store for the named session.
func NewRedisCredentialStore(client redis.UniversalClient, sessionKey string) *RedisCredentialStore {
	return &RedisCredentialStore{client: client, key: rediskeys.Key("session", sessionKey, "credential")}
}

// Key returns the Redis key holding the credential.
func (s *RedisCredentialStore) Key() string { return s.key }

func (s *RedisCredentialStore) Get(ctx context.Context) (*models.Credential, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	var cred models.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &cred, nil
}

func (s *RedisCredentialStore) Set(ctx context.Context, cred models.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.notify(&cred)
	return nil
}

func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.notify(nil)
	return nil
}
