// Package memstore keeps polls, vote links and votes in process memory. It backs the
// "memory" storage driver and the tests of the packages that consume those stores.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/votelinks"
	"github.com/aura-polls/backend/internal/voting"
	"github.com/aura-polls/backend/pkg/utils"
)

// Store is safe for concurrent use. A single mutex guards all tables, so every operation and
// every transaction is serialized.
type Store struct {
	mu    sync.Mutex
	now   func() time.Time
	polls map[uuid.UUID]*models.Poll
	links map[string]*models.VoteLink
	votes map[string]models.Vote // keyed by vote link token
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:   time.Now,
		polls: make(map[uuid.UUID]*models.Poll),
		links: make(map[string]*models.VoteLink),
		votes: make(map[string]models.Vote),
	}
}

var (
	_ polls.Store      = (*Store)(nil)
	_ votelinks.Ledger = (*Store)(nil)
	_ voting.Store     = (*Store)(nil)
)

func clonePoll(p *models.Poll) *models.Poll {
	cp := *p
	cp.Choices = append([]models.Choice(nil), p.Choices...)
	return &cp
}

func cloneLink(l *models.VoteLink) *models.VoteLink {
	cp := *l
	return &cp
}

// Create implements polls.Store.
func (s *Store) Create(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	for i := range p.Choices {
		p.Choices[i].ID = uuid.New()
		p.Choices[i].PollID = p.ID
		p.Choices[i].Position = i
		p.Choices[i].VoteCount = 0
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.polls[p.ID] = clonePoll(p)
	return nil
}

// GetByID implements polls.Store.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPoll(id)
}

func (s *Store) getPoll(id uuid.UUID) (*models.Poll, error) {
	p, ok := s.polls[id]
	if !ok {
		return nil, polls.ErrNotFound
	}
	return clonePoll(p), nil
}

// ListByOwner implements polls.Store.
func (s *Store) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []*models.Poll{}
	for _, p := range s.polls {
		if p.OwnerID == ownerID {
			list = append(list, clonePoll(p))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// Update implements polls.Store.
func (s *Store) Update(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.polls[p.ID]
	if !ok {
		return polls.ErrNotFound
	}
	cur.Title = p.Title
	cur.Description = p.Description
	cur.StartAt = p.StartAt
	cur.EndAt = p.EndAt
	cur.IsActive = p.IsActive
	cur.ShowResults = p.ShowResults
	cur.UpdatedAt = s.now()
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

// Delete implements polls.Store. Links and votes of the poll go with it.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[id]; !ok {
		return polls.ErrNotFound
	}
	delete(s.polls, id)
	for tok, l := range s.links {
		if l.PollID == id {
			delete(s.links, tok)
			delete(s.votes, tok)
		}
	}
	return nil
}

// AddChoice implements polls.Store.
func (s *Store) AddChoice(_ context.Context, pollID uuid.UUID, text string) (*models.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return nil, polls.ErrNotFound
	}
	if len(p.Choices) >= polls.MaxChoices {
		return nil, polls.ErrTooManyChoices
	}
	pos := 0
	if n := len(p.Choices); n > 0 {
		pos = p.Choices[n-1].Position + 1
	}
	c := models.Choice{ID: uuid.New(), PollID: pollID, Position: pos, Text: text}
	p.Choices = append(p.Choices, c)
	p.UpdatedAt = s.now()
	return &c, nil
}

// RenameChoice implements polls.Store.
func (s *Store) RenameChoice(_ context.Context, pollID, choiceID uuid.UUID, text string) (*models.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return nil, polls.ErrNotFound
	}
	for i := range p.Choices {
		if p.Choices[i].ID == choiceID {
			p.Choices[i].Text = text
			p.UpdatedAt = s.now()
			c := p.Choices[i]
			return &c, nil
		}
	}
	return nil, polls.ErrChoiceNotFound
}

// DeleteChoice implements polls.Store.
func (s *Store) DeleteChoice(_ context.Context, pollID, choiceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return polls.ErrNotFound
	}
	idx := -1
	for i := range p.Choices {
		if p.Choices[i].ID == choiceID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return polls.ErrChoiceNotFound
	case p.Choices[idx].VoteCount > 0:
		return polls.ErrChoiceHasVotes
	case len(p.Choices) <= polls.MinChoices:
		return polls.ErrTooFewChoices
	}
	kept := make([]models.Choice, 0, len(p.Choices)-1)
	kept = append(kept, p.Choices[:idx]...)
	p.Choices = append(kept, p.Choices[idx+1:]...)
	p.UpdatedAt = s.now()
	return nil
}

// Issue implements votelinks.Ledger.
func (s *Store) Issue(ctx context.Context, pollID uuid.UUID, invitee *models.Invitee) (*models.VoteLink, error) {
	var inv models.Invitee
	if invitee != nil {
		inv = *invitee
	}
	links, err := s.IssueBulk(ctx, pollID, []models.Invitee{inv})
	if err != nil {
		return nil, err
	}
	return links[0], nil
}

// IssueBulk implements votelinks.Ledger.
func (s *Store) IssueBulk(_ context.Context, pollID uuid.UUID, invitees []models.Invitee) ([]*models.VoteLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[pollID]; !ok {
		return nil, polls.ErrNotFound
	}
	out := make([]*models.VoteLink, 0, len(invitees))
	for _, inv := range invitees {
		tok, err := utils.GenerateToken(votelinks.TokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		l := &models.VoteLink{
			Token:        tok,
			PollID:       pollID,
			InviteeEmail: inv.Email,
			InviteeName:  inv.Name,
			IssuedAt:     s.now(),
		}
		s.links[tok] = l
		out = append(out, cloneLink(l))
	}
	return out, nil
}

// Get implements votelinks.Ledger.
func (s *Store) Get(_ context.Context, token string) (*models.VoteLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLink(token)
}

func (s *Store) getLink(token string) (*models.VoteLink, error) {
	l, ok := s.links[token]
	if !ok {
		return nil, votelinks.ErrNotFound
	}
	return cloneLink(l), nil
}

// ListByPoll implements votelinks.Ledger.
func (s *Store) ListByPoll(_ context.Context, pollID uuid.UUID) ([]*models.VoteLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []*models.VoteLink{}
	for _, l := range s.links {
		if l.PollID == pollID {
			list = append(list, cloneLink(l))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].IssuedAt.Equal(list[j].IssuedAt) {
			return list[i].Token < list[j].Token
		}
		return list[i].IssuedAt.Before(list[j].IssuedAt)
	})
	return list, nil
}

// TryRedeem implements votelinks.Ledger.
func (s *Store) TryRedeem(_ context.Context, token string) (votelinks.RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, _ := s.redeem(token)
	return res, nil
}

// redeem flips the link and returns an undo func when it did.
func (s *Store) redeem(token string) (votelinks.RedeemResult, func()) {
	l, ok := s.links[token]
	if !ok {
		return votelinks.NotFound, nil
	}
	if l.Used {
		return votelinks.AlreadyUsed, nil
	}
	at := s.now()
	l.Used = true
	l.UsedAt = &at
	return votelinks.Redeemed, func() {
		l.Used = false
		l.UsedAt = nil
	}
}

// Votes returns the recorded votes of a poll.
func (s *Store) Votes(pollID uuid.UUID) []models.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vote
	for _, v := range s.votes {
		if v.PollID == pollID {
			out = append(out, v)
		}
	}
	return out
}

// WithinTx implements voting.Store. fn runs with the store lock held; on error, or when ctx is
// done by the time fn returns, every change made through the Tx is undone.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx voting.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	err := fn(ctx, tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetVoteLink(_ context.Context, token string) (*models.VoteLink, error) {
	return t.s.getLink(token)
}

func (t *memTx) GetPoll(_ context.Context, pollID uuid.UUID) (*models.Poll, error) {
	return t.s.getPoll(pollID)
}

func (t *memTx) TryRedeem(_ context.Context, token string) (votelinks.RedeemResult, error) {
	res, undo := t.s.redeem(token)
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	return res, nil
}

func (t *memTx) InsertVote(_ context.Context, v *models.Vote) error {
	if _, dup := t.s.votes[v.VoteLinkToken]; dup {
		return fmt.Errorf("vote for link already recorded")
	}
	t.s.votes[v.VoteLinkToken] = *v
	tok := v.VoteLinkToken
	t.undo = append(t.undo, func() { delete(t.s.votes, tok) })
	return nil
}

func (t *memTx) IncrementChoice(_ context.Context, pollID, choiceID uuid.UUID) error {
	p, ok := t.s.polls[pollID]
	if !ok {
		return polls.ErrNotFound
	}
	for i := range p.Choices {
		if p.Choices[i].ID == choiceID {
			c := &p.Choices[i]
			c.VoteCount++
			t.undo = append(t.undo, func() { c.VoteCount-- })
			return nil
		}
	}
	return polls.ErrNotFound
}
