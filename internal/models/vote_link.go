package models

import (
	"time"

	"github.com/google/uuid"
)

// VoteLink authorizes exactly one vote on one poll. Used only ever moves from false to true.
type VoteLink struct {
	Token        string     `json:"token"`
	PollID       uuid.UUID  `json:"poll_id"`
	InviteeEmail string     `json:"invitee_email,omitempty"`
	InviteeName  string     `json:"invitee_name,omitempty"`
	Used         bool       `json:"used"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
}

// Invitee identifies who a vote link is meant for. Both fields are optional.
type Invitee struct {
	Email string `json:"email,omitempty" binding:"omitempty,email,max=254"`
	Name  string `json:"name,omitempty" binding:"max=200"`
}

// Vote is recorded exactly once per redeemed vote link.
type Vote struct {
	ID            uuid.UUID `json:"id"`
	PollID        uuid.UUID `json:"poll_id"`
	ChoiceID      uuid.UUID `json:"choice_id"`
	VoteLinkToken string    `json:"-"`
	CastAt        time.Time `json:"cast_at"`
}
