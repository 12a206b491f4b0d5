package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-polls/backend/internal/auth"
	"github.com/aura-polls/backend/internal/models"
)

// Users keeps accounts in memory.
type Users struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

// NewUsers creates an empty account store.
func NewUsers() *Users {
	return &Users{users: make(map[uuid.UUID]*models.User)}
}

// RefreshTokens keeps refresh tokens in memory.
type RefreshTokens struct {
	mu     sync.Mutex
	now    func() time.Time
	tokens map[string]*models.RefreshToken
}

// NewRefreshTokens creates an empty refresh token store.
func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{now: time.Now, tokens: make(map[string]*models.RefreshToken)}
}

var (
	_ auth.UserStore         = (*Users)(nil)
	_ auth.RefreshTokenStore = (*RefreshTokens)(nil)
)

// Create implements auth.UserStore.
func (s *Users) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.users {
		if x.Username == u.Username || x.Email == u.Email {
			return auth.ErrUserExists
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// GetByID implements auth.UserStore.
func (s *Users) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetByLogin implements auth.UserStore.
func (s *Users) GetByLogin(_ context.Context, login string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == login || u.Email == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// Create implements auth.RefreshTokenStore.
func (s *RefreshTokens) Create(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: s.now()}
	return nil
}

// Rotate implements auth.RefreshTokenStore. The lock is held across next.
func (s *RefreshTokens) Rotate(ctx context.Context, token string, next auth.Replacement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	now := s.now()
	if !ok || t.RevokedAt != nil || !t.ExpiresAt.After(now) {
		return auth.ErrRefreshTokenInvalid
	}
	replacement, expiresAt, err := next(ctx, t.UserID)
	if err != nil {
		return err
	}
	t.RevokedAt = &now
	s.tokens[replacement] = &models.RefreshToken{UserID: t.UserID, Token: replacement, ExpiresAt: expiresAt, CreatedAt: now}
	return nil
}

// Revoke implements auth.RefreshTokenStore.
func (s *RefreshTokens) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok && t.RevokedAt == nil {
		now := s.now()
		t.RevokedAt = &now
	}
	return nil
}
