package polls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/database"
)

// MinChoices is the smallest number of choices a poll may have.
const MinChoices = 2

var (
	// ErrNotFound is returned when a poll or choice does not exist.
	ErrNotFound = errors.New("poll not found")
	// ErrChoiceNotFound is returned when the choice is not part of the poll.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrChoiceHasVotes is returned when deleting a choice that already received votes.
	ErrChoiceHasVotes = errors.New("choice has votes")
	// ErrTooFewChoices is returned when a delete would leave fewer than MinChoices.
	ErrTooFewChoices = errors.New("a poll needs at least two choices")
	// ErrTooManyChoices is returned when adding past MaxChoices.
	ErrTooManyChoices = errors.New("too many choices")
)

// Store is the poll persistence used by the HTTP handlers.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Poll, error)
	Update(ctx context.Context, p *models.Poll) error
	Delete(ctx context.Context, id uuid.UUID) error

	AddChoice(ctx context.Context, pollID uuid.UUID, text string) (*models.Choice, error)
	RenameChoice(ctx context.Context, pollID, choiceID uuid.UUID, text string) (*models.Choice, error)
	DeleteChoice(ctx context.Context, pollID, choiceID uuid.UUID) error
}

// Repository handles poll and choice persistence. It runs on a pool or inside a transaction.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a polls repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Create inserts a poll together with its choices in one statement. IDs are assigned here.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	const q = `WITH p AS (
			INSERT INTO polls (id, owner_id, title, description, start_at, end_at, is_active, show_results)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		), c AS (
			INSERT INTO choices (id, poll_id, position, text)
			SELECT t.id::uuid, $1, t.ord - 1, t.text
			FROM unnest($9::text[], $10::text[]) WITH ORDINALITY AS t(id, text, ord)
		)
		SELECT created_at, updated_at FROM p`
	p.ID = uuid.New()
	ids := make([]string, len(p.Choices))
	texts := make([]string, len(p.Choices))
	for i := range p.Choices {
		p.Choices[i].ID = uuid.New()
		p.Choices[i].PollID = p.ID
		p.Choices[i].Position = i
		p.Choices[i].VoteCount = 0
		ids[i] = p.Choices[i].ID.String()
		texts[i] = p.Choices[i].Text
	}
	err := r.db.QueryRow(ctx, q, p.ID, p.OwnerID, p.Title, p.Description, p.StartAt, p.EndAt, p.IsActive, p.ShowResults, ids, texts).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

// GetByID returns a poll with its choices in display order.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const q = `SELECT id, owner_id, title, description, start_at, end_at, is_active, show_results, created_at, updated_at
		FROM polls WHERE id = $1`
	var p models.Poll
	err := r.db.QueryRow(ctx, q, id).Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.StartAt, &p.EndAt,
		&p.IsActive, &p.ShowResults, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	choices, err := r.listChoices(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Choices = choices
	return &p, nil
}

func (r *Repository) listChoices(ctx context.Context, pollID uuid.UUID) ([]models.Choice, error) {
	rows, err := r.db.Query(ctx, `SELECT id, poll_id, position, text, vote_count FROM choices
		WHERE poll_id = $1 ORDER BY position`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Choice{}
	for rows.Next() {
		var c models.Choice
		if err := rows.Scan(&c.ID, &c.PollID, &c.Position, &c.Text, &c.VoteCount); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// ListByOwner returns the owner's polls, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Poll, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM polls WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	list := make([]*models.Poll, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // deleted concurrently
		}
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, nil
}

// Update writes the owner-editable fields. Choices and vote counts are not touched.
func (r *Repository) Update(ctx context.Context, p *models.Poll) error {
	const q = `UPDATE polls SET title = $2, description = $3, start_at = $4, end_at = $5,
		is_active = $6, show_results = $7, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err := r.db.QueryRow(ctx, q, p.ID, p.Title, p.Description, p.StartAt, p.EndAt, p.IsActive, p.ShowResults).
		Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Delete removes a poll; choices, links and votes cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementChoice adds exactly one vote to a choice of the given poll.
func (r *Repository) IncrementChoice(ctx context.Context, pollID, choiceID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE choices SET vote_count = vote_count + 1 WHERE id = $1 AND poll_id = $2`, choiceID, pollID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// inTx runs fn in a transaction, or directly when the repository already wraps one.
func (r *Repository) inTx(ctx context.Context, fn func(db database.DBTX) error) error {
	if b, ok := r.db.(database.TxBeginner); ok {
		return database.WithTx(ctx, b, func(tx pgx.Tx) error { return fn(tx) })
	}
	return fn(r.db)
}

// lockPoll takes the poll row lock that serializes choice edits and returns the choice count.
func lockPoll(ctx context.Context, db database.DBTX, pollID uuid.UUID) (int, error) {
	var id uuid.UUID
	err := db.QueryRow(ctx, `SELECT id FROM polls WHERE id = $1 FOR UPDATE`, pollID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM choices WHERE poll_id = $1`, pollID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func touchPoll(ctx context.Context, db database.DBTX, pollID uuid.UUID) error {
	_, err := db.Exec(ctx, `UPDATE polls SET updated_at = NOW() WHERE id = $1`, pollID)
	return err
}

// AddChoice appends a choice with zero votes after the current last position.
func (r *Repository) AddChoice(ctx context.Context, pollID uuid.UUID, text string) (*models.Choice, error) {
	c := &models.Choice{ID: uuid.New(), PollID: pollID, Text: text}
	err := r.inTx(ctx, func(db database.DBTX) error {
		n, err := lockPoll(ctx, db, pollID)
		if err != nil {
			return err
		}
		if n >= MaxChoices {
			return ErrTooManyChoices
		}
		const q = `INSERT INTO choices (id, poll_id, position, text)
			SELECT $1, $2, COALESCE(MAX(position) + 1, 0), $3 FROM choices WHERE poll_id = $2
			RETURNING position`
		if err := db.QueryRow(ctx, q, c.ID, pollID, text).Scan(&c.Position); err != nil {
			return fmt.Errorf("insert choice: %w", err)
		}
		return touchPoll(ctx, db, pollID)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RenameChoice changes the text of a choice. Its votes are kept.
func (r *Repository) RenameChoice(ctx context.Context, pollID, choiceID uuid.UUID, text string) (*models.Choice, error) {
	var c models.Choice
	err := r.inTx(ctx, func(db database.DBTX) error {
		const q = `UPDATE choices SET text = $3 WHERE id = $1 AND poll_id = $2
			RETURNING id, poll_id, position, text, vote_count`
		err := db.QueryRow(ctx, q, choiceID, pollID, text).Scan(&c.ID, &c.PollID, &c.Position, &c.Text, &c.VoteCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChoiceNotFound
		}
		if err != nil {
			return err
		}
		return touchPoll(ctx, db, pollID)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteChoice removes a choice that has no votes, keeping at least MinChoices on the poll.
// The choice row lock conflicts with the key-share lock taken by a concurrent vote insert,
// so a vote either lands first and blocks the delete, or fails its foreign key check.
func (r *Repository) DeleteChoice(ctx context.Context, pollID, choiceID uuid.UUID) error {
	return r.inTx(ctx, func(db database.DBTX) error {
		n, err := lockPoll(ctx, db, pollID)
		if err != nil {
			return err
		}
		var votes int
		err = db.QueryRow(ctx, `SELECT vote_count FROM choices WHERE id = $1 AND poll_id = $2 FOR UPDATE`, choiceID, pollID).
			Scan(&votes)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChoiceNotFound
		}
		if err != nil {
			return err
		}
		if votes > 0 {
			return ErrChoiceHasVotes
		}
		if n <= MinChoices {
			return ErrTooFewChoices
		}
		// Positions keep their gaps; ordering is all that matters.
		if _, err := db.Exec(ctx, `DELETE FROM choices WHERE id = $1`, choiceID); err != nil {
			return err
		}
		return touchPoll(ctx, db, pollID)
	})
}
