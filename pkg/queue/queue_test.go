package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, nil)
}

func TestEnqueueDequeueInvitation(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	payload := InvitationPayload{PollID: uuid.New(), PollTitle: "Lunch?", RecipientEmail: "ann@example.com", VoteURL: "http://x/vote/abc"}
	require.NoError(t, q.EnqueueInvitation(ctx, payload))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeVoteInvitation, job.Type)
	assert.Equal(t, 0, job.Attempt)

	var got InvitationPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestRetryMovesToDLQAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	require.NoError(t, q.EnqueueInvitation(ctx, InvitationPayload{RecipientEmail: "bo@example.com"}))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		job, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, i, job.Attempt)
	}
	require.NoError(t, q.Retry(ctx, job))

	n, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
