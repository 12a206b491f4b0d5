package votelinks

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aura-polls/backend/internal/models"
)

// TokenBytes is the entropy of a vote link token.
const TokenBytes = 24

var (
	// ErrNotFound is returned when no vote link has the given token.
	ErrNotFound = errors.New("vote link not found")
)

// RedeemResult is the outcome of a redemption attempt.
type RedeemResult int

const (
	Redeemed RedeemResult = iota + 1
	AlreadyUsed
	NotFound
)

func (r RedeemResult) String() string {
	switch r {
	case Redeemed:
		return "redeemed"
	case AlreadyUsed:
		return "already_used"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// Ledger is the authoritative record of issued vote links.
//
// TryRedeem must be a compare-and-set at the storage layer (used: false -> true). Exactly one of
// any number of concurrent callers for the same token gets Redeemed; the rest get AlreadyUsed.
type Ledger interface {
	Issue(ctx context.Context, pollID uuid.UUID, invitee *models.Invitee) (*models.VoteLink, error)
	IssueBulk(ctx context.Context, pollID uuid.UUID, invitees []models.Invitee) ([]*models.VoteLink, error)
	Get(ctx context.Context, token string) (*models.VoteLink, error)
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]*models.VoteLink, error)
	TryRedeem(ctx context.Context, token string) (RedeemResult, error)
}
