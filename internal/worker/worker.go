package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/emaillogs"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/queue"
)

// JobSource is the queue the worker consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// InvitationProcessor delivers vote invitation emails and records each attempt in email_logs.
type InvitationProcessor struct {
	mailer  Mailer
	logs    emaillogs.Recorder
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewInvitationProcessor creates an invitation email processor.
func NewInvitationProcessor(mailer Mailer, logs emaillogs.Recorder, q JobSource, logger *zap.Logger) *InvitationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvitationProcessor{mailer: mailer, logs: logs, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// RenderInvitation builds the invitation email for a payload.
func RenderInvitation(p queue.InvitationPayload) Message {
	greeting := "Hello,"
	if p.RecipientName != "" {
		greeting = fmt.Sprintf("Hello %s,", p.RecipientName)
	}
	var b strings.Builder
	b.WriteString(greeting + "\n\n")
	fmt.Fprintf(&b, "You have been invited to vote in %q.\n\n", p.PollTitle)
	fmt.Fprintf(&b, "Cast your vote here: %s\n\n", p.VoteURL)
	b.WriteString("This link is personal and can be used once.\n")
	return Message{
		To:      p.RecipientEmail,
		Subject: fmt.Sprintf("You're invited to vote: %s", p.PollTitle),
		Body:    b.String(),
	}
}

// Process executes one job.
func (p *InvitationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeVoteInvitation {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.InvitationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	msg := RenderInvitation(payload)
	entry := &models.EmailLog{
		PollID:         payload.PollID,
		EmailType:      models.EmailTypeVoteInvitation,
		RecipientEmail: payload.RecipientEmail,
		Subject:        msg.Subject,
	}
	sendErr := p.mailer.Send(ctx, msg)
	if sendErr != nil {
		entry.Status = models.EmailLogStatusFailed
		entry.ErrorMessage = sendErr.Error()
	} else {
		now := time.Now()
		entry.Status = models.EmailLogStatusSent
		entry.SentAt = &now
	}
	if p.logs != nil {
		if err := p.logs.Record(ctx, entry); err != nil {
			p.logger.Warn("record email log failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if sendErr != nil {
		return sendErr
	}
	p.logger.Info("invitation sent", zap.String("job_id", job.ID), zap.String("poll_id", payload.PollID.String()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *InvitationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("invitation worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *InvitationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
