package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/votelinks"
)

// DefaultCommitTimeout bounds a submission when none is configured.
const DefaultCommitTimeout = 5 * time.Second

// Reason is why a vote was rejected.
type Reason string

const (
	ReasonInvalidLink    Reason = "invalid_link"
	ReasonPollNotVotable Reason = "poll_not_votable"
	ReasonUnknownChoice  Reason = "unknown_choice"
	ReasonAlreadyVoted   Reason = "already_voted"
)

// Rejection is a permanent refusal of one vote attempt. It is returned as an error so callers
// cannot mistake it for success; the coordinator never retries it.
type Rejection struct {
	Reason Reason
	Window polls.WindowReason // set for ReasonPollNotVotable
}

func (r *Rejection) Error() string {
	if r.Reason == ReasonPollNotVotable {
		return fmt.Sprintf("vote rejected: %s (%s)", r.Reason, r.Window)
	}
	return "vote rejected: " + string(r.Reason)
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(reason Reason) error { return &Rejection{Reason: reason} }

// Tx is the storage a submission runs against. All calls made through one Tx commit together or not at all.
type Tx interface {
	GetVoteLink(ctx context.Context, token string) (*models.VoteLink, error)
	GetPoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, error)
	TryRedeem(ctx context.Context, token string) (votelinks.RedeemResult, error)
	InsertVote(ctx context.Context, v *models.Vote) error
	IncrementChoice(ctx context.Context, pollID, choiceID uuid.UUID) error
}

// Store opens atomic units. WithinTx commits when fn returns nil and rolls back otherwise,
// including when ctx expires before the commit.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// StatsPublisher receives the tally of a poll after a vote has been committed.
type StatsPublisher interface {
	PublishStats(pollID uuid.UUID, stats models.PollStats)
}

// Receipt describes an accepted vote.
type Receipt struct {
	Vote           models.Vote      `json:"vote"`
	Stats          models.PollStats `json:"stats"`
	ResultsVisible bool             `json:"results_visible"`
}

// Ballot is what a voter sees when opening a vote link.
type Ballot struct {
	Poll     *models.Poll `json:"poll"`
	Window   polls.Window `json:"window"`
	HasVoted bool         `json:"has_voted"`
}

// Coordinator validates and records votes. It is independent of user sessions: a vote is
// authorized only by possession of an unused link.
type Coordinator struct {
	store         Store
	publisher     StatsPublisher
	now           func() time.Time
	commitTimeout time.Duration
	logger        *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithCommitTimeout bounds each submission transaction.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.commitTimeout = d
		}
	}
}

// WithPublisher broadcasts tallies after accepted votes.
func WithPublisher(p StatsPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// NewCoordinator creates a vote submission coordinator.
func NewCoordinator(store Store, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		store:         store,
		now:           time.Now,
		commitTimeout: DefaultCommitTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit records one vote for choiceID using the link token. pollID may be uuid.Nil, in which case
// the link's own poll is used; otherwise it must match the link.
//
// Lookup, window check, choice check, redemption, vote insert and tally increment run in one
// atomic unit: a failure or timeout at any step leaves the link unused and the tally unchanged.
func (c *Coordinator) Submit(ctx context.Context, token string, pollID, choiceID uuid.UUID) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	defer cancel()

	var receipt *Receipt
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		link, err := tx.GetVoteLink(ctx, token)
		if errors.Is(err, votelinks.ErrNotFound) {
			return reject(ReasonInvalidLink)
		}
		if err != nil {
			return fmt.Errorf("load vote link: %w", err)
		}
		if pollID != uuid.Nil && link.PollID != pollID {
			return reject(ReasonInvalidLink)
		}

		poll, err := tx.GetPoll(ctx, link.PollID)
		if errors.Is(err, polls.ErrNotFound) {
			return reject(ReasonInvalidLink)
		}
		if err != nil {
			return fmt.Errorf("load poll: %w", err)
		}

		now := c.now()
		if w := polls.Evaluate(poll, now); !w.Votable {
			return &Rejection{Reason: ReasonPollNotVotable, Window: w.Reason}
		}
		if !poll.HasChoice(choiceID) {
			return reject(ReasonUnknownChoice)
		}

		res, err := tx.TryRedeem(ctx, token)
		if err != nil {
			return err
		}
		switch res {
		case votelinks.Redeemed:
		case votelinks.AlreadyUsed:
			return reject(ReasonAlreadyVoted)
		default:
			return reject(ReasonInvalidLink)
		}

		vote := models.Vote{
			ID:            uuid.New(),
			PollID:        poll.ID,
			ChoiceID:      choiceID,
			VoteLinkToken: token,
			CastAt:        now,
		}
		if err := tx.InsertVote(ctx, &vote); err != nil {
			if errors.Is(err, polls.ErrChoiceNotFound) {
				return reject(ReasonUnknownChoice)
			}
			return fmt.Errorf("insert vote: %w", err)
		}
		if err := tx.IncrementChoice(ctx, poll.ID, choiceID); err != nil {
			if errors.Is(err, polls.ErrNotFound) {
				return reject(ReasonUnknownChoice)
			}
			return fmt.Errorf("increment choice: %w", err)
		}

		updated, err := tx.GetPoll(ctx, poll.ID)
		if err != nil {
			return fmt.Errorf("reload poll: %w", err)
		}
		receipt = &Receipt{Vote: vote, Stats: updated.Stats(), ResultsVisible: polls.ResultsVisible(updated, now)}
		return nil
	})
	if err != nil {
		if rej, ok := AsRejection(err); ok {
			c.logger.Info("vote rejected", zap.String("reason", string(rej.Reason)), zap.String("window", string(rej.Window)))
			return nil, rej
		}
		c.logger.Error("vote submission failed", zap.Error(err))
		return nil, err
	}

	c.logger.Info("vote accepted",
		zap.String("poll_id", receipt.Vote.PollID.String()),
		zap.String("choice_id", receipt.Vote.ChoiceID.String()),
	)
	if c.publisher != nil {
		c.publisher.PublishStats(receipt.Vote.PollID, receipt.Stats)
	}
	return receipt, nil
}

// Lookup returns the poll behind a link together with its current window and whether the link was spent.
func (c *Coordinator) Lookup(ctx context.Context, token string) (*Ballot, error) {
	var ballot *Ballot
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		link, err := tx.GetVoteLink(ctx, token)
		if errors.Is(err, votelinks.ErrNotFound) {
			return reject(ReasonInvalidLink)
		}
		if err != nil {
			return err
		}
		poll, err := tx.GetPoll(ctx, link.PollID)
		if errors.Is(err, polls.ErrNotFound) {
			return reject(ReasonInvalidLink)
		}
		if err != nil {
			return err
		}
		ballot = &Ballot{Poll: poll, Window: polls.Evaluate(poll, c.now()), HasVoted: link.Used}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ballot, nil
}

// Now returns the coordinator's clock reading.
func (c *Coordinator) Now() time.Time { return c.now() }
