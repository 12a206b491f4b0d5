package emaillogs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/database"
)

// Recorder stores the outcome of an email delivery.
type Recorder interface {
	Record(ctx context.Context, l *models.EmailLog) error
}

// Repository handles email_logs persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an email logs repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Record inserts a delivery record. ID and CreatedAt are filled in.
func (r *Repository) Record(ctx context.Context, l *models.EmailLog) error {
	const q = `INSERT INTO email_logs (poll_id, email_type, recipient_email, subject, status, sent_at, error_message)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, q, l.PollID, l.EmailType, l.RecipientEmail, l.Subject, l.Status, l.SentAt, l.ErrorMessage).
		Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// ListByPoll returns email logs for a poll, newest first.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]*models.EmailLog, error) {
	const q = `SELECT id, poll_id, email_type, recipient_email, COALESCE(subject, ''), status, sent_at, COALESCE(error_message, ''), created_at
		FROM email_logs
		WHERE poll_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.EmailLog{}
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.PollID, &el.EmailType, &el.RecipientEmail, &el.Subject, &el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
