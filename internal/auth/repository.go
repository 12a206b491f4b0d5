package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/database"
)

var (
	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the username or email is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrRefreshTokenInvalid is returned for unknown, revoked or expired refresh tokens.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
)

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
}

// Replacement builds the refresh token that takes over from a consumed one.
type Replacement func(ctx context.Context, userID uuid.UUID) (token string, expiresAt time.Time, err error)

// RefreshTokenStore persists refresh tokens. Rotate revokes a live token and stores the
// replacement built by next as one step: a token is exchanged at most once, and when next or
// the insert fails the presented token stays live.
type RefreshTokenStore interface {
	Create(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	Rotate(ctx context.Context, token string, next Replacement) error
	Revoke(ctx context.Context, token string) error
}

// Repository handles user persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an auth repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, username, email, password_hash, full_name, role, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.FullName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. ID and timestamps are filled in.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (username, email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, u.Username, u.Email, u.Password, u.FullName, string(u.Role)).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByLogin returns the user whose username or email equals login.
func (r *Repository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1 LIMIT 1`, login))
}

// RefreshRepository stores refresh tokens.
type RefreshRepository struct {
	db database.DBTX
}

// NewRefreshRepository creates a refresh token repository.
func NewRefreshRepository(db database.DBTX) *RefreshRepository {
	return &RefreshRepository{db: db}
}

// Create stores a new refresh token.
func (r *RefreshRepository) Create(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Rotate implements RefreshTokenStore in one transaction. The row lock taken by the revoke makes
// a concurrent rotation of the same token wait and then find it revoked.
func (r *RefreshRepository) Rotate(ctx context.Context, token string, next Replacement) error {
	if b, ok := r.db.(database.TxBeginner); ok {
		return database.WithTx(ctx, b, func(tx pgx.Tx) error { return rotate(ctx, tx, token, next) })
	}
	return rotate(ctx, r.db, token, next)
}

func rotate(ctx context.Context, db database.DBTX, token string, next Replacement) error {
	const q = `UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING user_id`
	var userID uuid.UUID
	err := db.QueryRow(ctx, q, token).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRefreshTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	replacement, expiresAt, err := next(ctx, userID)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)`, userID, replacement, expiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Revoke marks a refresh token revoked. Unknown tokens are ignored.
func (r *RefreshRepository) Revoke(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = NOW() WHERE token = $1 AND revoked_at IS NULL`, token)
	return err
}
