package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailTypeVoteInvitation is sent to an invitee with their personal vote link.
const EmailTypeVoteInvitation = "vote_invitation"

// EmailLogStatus for delivery.
const (
	EmailLogStatusPending = "pending"
	EmailLogStatusSent    = "sent"
	EmailLogStatusFailed  = "failed"
)

// EmailLog records sent invitation emails.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	PollID         uuid.UUID  `json:"poll_id"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
