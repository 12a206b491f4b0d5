// Package testutil holds helpers shared by tests that need a real PostgreSQL database.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/pkg/database"
)

// DatabaseURLEnv names the variable that enables Postgres-backed tests.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// SetupTestDB connects to TEST_DATABASE_URL, applies the schema and empties every table.
// The test is skipped when the variable is unset.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s not set; skipping Postgres test", DatabaseURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, dsn, 20, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `TRUNCATE email_logs, votes, vote_links, choices, polls, refresh_tokens, users CASCADE`)
	require.NoError(t, err)
	return pool
}

// CreateUser inserts an owner account and returns its id.
func CreateUser(t *testing.T, pool *pgxpool.Pool, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, 'x')`,
		id, username, username+"@example.com")
	require.NoError(t, err)
	return id
}
