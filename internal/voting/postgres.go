package voting

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/votelinks"
	"github.com/aura-polls/backend/pkg/database"
)

// PostgresStore runs each submission in one database transaction.
type PostgresStore struct {
	db database.TxBeginner
}

// NewPostgresStore creates a Store backed by a pgx pool.
func NewPostgresStore(db database.TxBeginner) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinTx implements Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			tx:    tx,
			links: votelinks.NewRepository(tx),
			polls: polls.NewRepository(tx),
		})
	})
}

type pgTx struct {
	tx    pgx.Tx
	links *votelinks.Repository
	polls *polls.Repository
}

func (t *pgTx) GetVoteLink(ctx context.Context, token string) (*models.VoteLink, error) {
	return t.links.Get(ctx, token)
}

func (t *pgTx) GetPoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	return t.polls.GetByID(ctx, pollID)
}

func (t *pgTx) TryRedeem(ctx context.Context, token string) (votelinks.RedeemResult, error) {
	return t.links.TryRedeem(ctx, token)
}

func (t *pgTx) InsertVote(ctx context.Context, v *models.Vote) error {
	const q = `INSERT INTO votes (id, poll_id, choice_id, vote_link_token, cast_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := t.tx.Exec(ctx, q, v.ID, v.PollID, v.ChoiceID, v.VoteLinkToken, v.CastAt)
	// A foreign key violation means the choice was deleted after the poll was read.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return polls.ErrChoiceNotFound
	}
	return err
}

func (t *pgTx) IncrementChoice(ctx context.Context, pollID, choiceID uuid.UUID) error {
	return t.polls.IncrementChoice(ctx, pollID, choiceID)
}
