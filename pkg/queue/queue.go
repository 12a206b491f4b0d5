package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEmails is the Redis list key for email jobs.
	QueueEmails = "worker:emails"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// pollInterval bounds each blocking pop so Dequeue notices cancellation.
	pollInterval = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeVoteInvitation JobType = "vote_invitation"
)

// InvitationPayload asks the worker to mail a personal vote link to an invitee.
type InvitationPayload struct {
	PollID         uuid.UUID `json:"poll_id"`
	PollTitle      string    `json:"poll_title"`
	RecipientEmail string    `json:"recipient_email"`
	RecipientName  string    `json:"recipient_name,omitempty"`
	VoteURL        string    `json:"vote_url"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueEmails, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// EnqueueInvitation enqueues a vote invitation email job.
func (q *Queue) EnqueueInvitation(ctx context.Context, payload InvitationPayload) error {
	job, err := q.enqueue(ctx, JobTypeVoteInvitation, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued invitation job", zap.String("job_id", job.ID), zap.String("poll_id", payload.PollID.String()))
	return nil
}

// Dequeue blocks until a job is available or ctx is done. A nil job with a nil error means
// nothing arrived within the poll interval or the entry was malformed.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, pollInterval, QueueEmails).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. Once attempts reach MaxRetries it goes to the DLQ.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueEmails, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DeadLetters returns the number of jobs in the DLQ.
func (q *Queue) DeadLetters(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueDLQ).Result()
}

// Pending returns the number of email jobs waiting to be processed.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueEmails).Result()
}
