package votelinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/database"
	"github.com/aura-polls/backend/pkg/utils"
)

// Repository is the Postgres Ledger. Passed a pgx.Tx it takes part in the caller's transaction.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a vote link repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const linkColumns = `token, poll_id, COALESCE(invitee_email,''), COALESCE(invitee_name,''), used, used_at, issued_at`

func scanLink(row pgx.Row) (*models.VoteLink, error) {
	var l models.VoteLink
	if err := row.Scan(&l.Token, &l.PollID, &l.InviteeEmail, &l.InviteeName, &l.Used, &l.UsedAt, &l.IssuedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// Issue creates one unused link for the poll.
func (r *Repository) Issue(ctx context.Context, pollID uuid.UUID, invitee *models.Invitee) (*models.VoteLink, error) {
	var inv models.Invitee
	if invitee != nil {
		inv = *invitee
	}
	links, err := r.IssueBulk(ctx, pollID, []models.Invitee{inv})
	if err != nil {
		return nil, err
	}
	return links[0], nil
}

// IssueBulk creates one unused link per invitee in a single insert.
func (r *Repository) IssueBulk(ctx context.Context, pollID uuid.UUID, invitees []models.Invitee) ([]*models.VoteLink, error) {
	const q = `INSERT INTO vote_links (token, poll_id, invitee_email, invitee_name)
		SELECT t.token, $1, NULLIF(t.email, ''), NULLIF(t.name, '')
		FROM unnest($2::text[], $3::text[], $4::text[]) WITH ORDINALITY AS t(token, email, name, ord)
		ORDER BY t.ord
		RETURNING ` + linkColumns
	tokens := make([]string, len(invitees))
	emails := make([]string, len(invitees))
	names := make([]string, len(invitees))
	for i, inv := range invitees {
		tok, err := utils.GenerateToken(TokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		tokens[i], emails[i], names[i] = tok, inv.Email, inv.Name
	}
	rows, err := r.db.Query(ctx, q, pollID, tokens, emails, names)
	if err != nil {
		return nil, fmt.Errorf("insert vote links: %w", err)
	}
	defer rows.Close()
	byToken := make(map[string]*models.VoteLink, len(tokens))
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		byToken[l.Token] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert vote links: %w", err)
	}
	// RETURNING order is not guaranteed; keep the invitees' order.
	out := make([]*models.VoteLink, 0, len(tokens))
	for _, tok := range tokens {
		if l, ok := byToken[tok]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// Get returns a link by token.
func (r *Repository) Get(ctx context.Context, token string) (*models.VoteLink, error) {
	l, err := scanLink(r.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM vote_links WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// ListByPoll returns all links of a poll, oldest first.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]*models.VoteLink, error) {
	rows, err := r.db.Query(ctx, `SELECT `+linkColumns+` FROM vote_links WHERE poll_id = $1 ORDER BY issued_at, token`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.VoteLink{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// TryRedeem flips used from false to true with a conditional update. Under concurrency the row lock
// serializes the updates and every loser re-evaluates "used = FALSE" against the committed row.
func (r *Repository) TryRedeem(ctx context.Context, token string) (RedeemResult, error) {
	tag, err := r.db.Exec(ctx, `UPDATE vote_links SET used = TRUE, used_at = NOW() WHERE token = $1 AND used = FALSE`, token)
	if err != nil {
		return 0, fmt.Errorf("redeem vote link: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return Redeemed, nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vote_links WHERE token = $1)`, token).Scan(&exists); err != nil {
		return 0, fmt.Errorf("lookup vote link: %w", err)
	}
	if exists {
		return AlreadyUsed, nil
	}
	return NotFound, nil
}
