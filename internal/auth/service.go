package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/utils"
)

// ErrInvalidCredentials is returned by Login for an unknown account or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Session is what login and refresh hand back to the client.
type Session struct {
	models.Credential
	User models.UserPublic `json:"user"`
}

// Service implements registration, login and refresh token rotation.
type Service struct {
	users      UserStore
	tokens     RefreshTokenStore
	jwt        *JWTService
	refreshTTL time.Duration
	tokenBytes int
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates an auth service.
func NewService(users UserStore, tokens RefreshTokenStore, jwt *JWTService, refreshTTL time.Duration, tokenBytes int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenBytes <= 0 {
		tokenBytes = 32
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		jwt:        jwt,
		refreshTTL: refreshTTL,
		tokenBytes: tokenBytes,
		now:        time.Now,
		logger:     logger,
	}
}

// Register creates an owner account and opens a session for it.
func (s *Service) Register(ctx context.Context, username, email, password, fullName string) (*Session, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username: username,
		Email:    email,
		Password: hash,
		FullName: fullName,
		Role:     models.RoleOwner,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID.String()))
	return s.issue(ctx, u)
}

// Login checks the password and opens a session. login may be a username or an email.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	u, err := s.users.GetByLogin(ctx, login)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(password, u.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

// Refresh exchanges a refresh token for a new pair. The presented token is revoked in the same
// step, so replaying it fails with ErrRefreshTokenInvalid. If the new pair cannot be built or
// stored the presented token stays usable.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var sess *Session
	err := s.tokens.Rotate(ctx, refreshToken, func(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
		u, err := s.users.GetByID(ctx, userID)
		if errors.Is(err, ErrUserNotFound) {
			return "", time.Time{}, ErrRefreshTokenInvalid
		}
		if err != nil {
			return "", time.Time{}, err
		}
		var expiresAt time.Time
		sess, expiresAt, err = s.newSession(u)
		if err != nil {
			return "", time.Time{}, err
		}
		return sess.RefreshToken, expiresAt, nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout revokes the refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

func (s *Service) issue(ctx context.Context, u *models.User) (*Session, error) {
	sess, expiresAt, err := s.newSession(u)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, u.ID, sess.RefreshToken, expiresAt); err != nil {
		return nil, err
	}
	return sess, nil
}

// newSession signs an access token and draws a refresh token, returning the refresh expiry.
// The refresh token is not stored here.
func (s *Service) newSession(u *models.User) (*Session, time.Time, error) {
	access, expires, err := s.jwt.Generate(u.ID, u.Username, string(u.Role))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := utils.GenerateToken(s.tokenBytes)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now()
	return &Session{
		Credential: models.Credential{
			AccessToken:  access,
			RefreshToken: refresh,
			IssuedAt:     now,
			ExpiresAt:    &expires,
		},
		User: u.ToPublic(),
	}, now.Add(s.refreshTTL), nil
}

// UserByID returns the account behind an access token.
func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}
