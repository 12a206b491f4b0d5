package apiclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-polls/backend/internal/models"
)

func TestRedisCredentialStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	store := NewRedisCredentialStore(rdb, "alice")
	assert.Equal(t, "session:alice:credential", store.Key())

	cred, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred)

	var seen []*models.Credential
	store.Watch(func(c *models.Credential) { seen = append(seen, c) })

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.Set(ctx, models.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: &exp}))
	assert.True(t, mr.Exists("session:alice:credential"))

	// A new process sees the same session.
	reopened := NewRedisCredentialStore(rdb, "alice")
	cred, err = reopened.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "a", cred.AccessToken)
	assert.Equal(t, "r", cred.RefreshToken)
	assert.True(t, exp.Equal(*cred.ExpiresAt))

	session, err := NewSession(ctx, reopened)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, session.State())

	require.NoError(t, store.Clear(ctx))
	cred, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.Len(t, seen, 2)
	assert.Equal(t, "a", seen[0].AccessToken)
	assert.Nil(t, seen[1])
}

func TestMemoryCredentialStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Set(ctx, models.Credential{AccessToken: "a", RefreshToken: "r"}))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	got.AccessToken = "mutated"

	again, _ := store.Get(ctx)
	assert.Equal(t, "a", again.AccessToken)
}
