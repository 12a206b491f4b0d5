package voting_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/memstore"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/voting"
)

var fixedNow = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newPoll(t *testing.T, store *memstore.Store, mutate func(p *models.Poll)) *models.Poll {
	t.Helper()
	p := &models.Poll{
		OwnerID:  uuid.New(),
		Title:    "Lunch?",
		IsActive: true,
		Choices:  []models.Choice{{Text: "A"}, {Text: "B"}},
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, store.Create(context.Background(), p))
	return p
}

func requireRejection(t *testing.T, err error, reason voting.Reason) *voting.Rejection {
	t.Helper()
	rej, ok := voting.AsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	require.Equal(t, reason, rej.Reason)
	return rej
}

func TestSubmitRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, zap.NewNop(), voting.WithClock(clock))
	p := newPoll(t, store, nil)

	link, err := store.Issue(ctx, p.ID, nil)
	require.NoError(t, err)
	require.False(t, link.Used)

	receipt, err := c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, p.Choices[0].ID, receipt.Vote.ChoiceID)
	assert.Equal(t, fixedNow, receipt.Vote.CastAt)
	assert.Equal(t, 1, receipt.Stats.TotalVotes)

	reread, err := store.Get(ctx, link.Token)
	require.NoError(t, err)
	assert.True(t, reread.Used)
	require.NotNil(t, reread.UsedAt)

	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[1].ID)
	requireRejection(t, err, voting.ReasonAlreadyVoted)

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Choices[0].VoteCount)
	assert.Equal(t, 0, got.Choices[1].VoteCount)
}

func TestSubmitDerivesPollFromLink(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock))
	p := newPoll(t, store, nil)
	link, err := store.Issue(ctx, p.ID, &models.Invitee{Email: "ann@example.com", Name: "Ann"})
	require.NoError(t, err)

	receipt, err := c.Submit(ctx, link.Token, uuid.Nil, p.Choices[1].ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, receipt.Vote.PollID)
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock))
	p := newPoll(t, store, nil)

	links, err := store.IssueBulk(ctx, p.ID, make([]models.Invitee, 3))
	require.NoError(t, err)
	require.Len(t, links, 3)

	var accepted, alreadyVoted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Submit(ctx, links[0].Token, p.ID, p.Choices[0].ID)
			if err == nil {
				accepted.Add(1)
				return
			}
			if rej, ok := voting.AsRejection(err); ok && rej.Reason == voting.ReasonAlreadyVoted {
				alreadyVoted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), alreadyVoted.Load())

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	stats := got.Stats()
	assert.Equal(t, 1, stats.TotalVotes)
	assert.Equal(t, 1, stats.PerChoice[0].Votes)
	assert.Equal(t, 0, stats.PerChoice[1].Votes)
}

func TestManyVotersKeepTallyConsistent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock))
	p := newPoll(t, store, nil)

	const voters = 50
	links, err := store.IssueBulk(ctx, p.ID, make([]models.Invitee, voters))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, l := range links {
		for attempt := 0; attempt < 3; attempt++ {
			wg.Add(1)
			go func(token string, choice uuid.UUID) {
				defer wg.Done()
				_, _ = c.Submit(ctx, token, p.ID, choice)
			}(l.Token, p.Choices[i%2].ID)
		}
	}
	wg.Wait()

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, got.Stats().TotalVotes)
	assert.Len(t, store.Votes(p.ID), voters)

	all, err := store.ListByPoll(ctx, p.ID)
	require.NoError(t, err)
	for _, l := range all {
		assert.True(t, l.Used)
	}
}

func TestSubmitOnClosedPollLeavesLinkUnused(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock))
	end := fixedNow.Add(-time.Hour)
	p := newPoll(t, store, func(p *models.Poll) { p.EndAt = &end })
	link, err := store.Issue(ctx, p.ID, nil)
	require.NoError(t, err)

	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	rej := requireRejection(t, err, voting.ReasonPollNotVotable)
	assert.Equal(t, polls.ReasonClosed, rej.Window)

	reread, err := store.Get(ctx, link.Token)
	require.NoError(t, err)
	assert.False(t, reread.Used)
	assert.Empty(t, store.Votes(p.ID))
	got, _ := store.GetByID(ctx, p.ID)
	assert.Equal(t, 0, got.Stats().TotalVotes)
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock))
	p := newPoll(t, store, nil)
	other := newPoll(t, store, nil)
	start := fixedNow.Add(time.Hour)
	future := newPoll(t, store, func(p *models.Poll) { p.StartAt = &start })
	disabled := newPoll(t, store, func(p *models.Poll) { p.IsActive = false })

	link, err := store.Issue(ctx, p.ID, nil)
	require.NoError(t, err)
	futureLink, _ := store.Issue(ctx, future.ID, nil)
	disabledLink, _ := store.Issue(ctx, disabled.ID, nil)

	_, err = c.Submit(ctx, "no-such-token", p.ID, p.Choices[0].ID)
	requireRejection(t, err, voting.ReasonInvalidLink)

	_, err = c.Submit(ctx, link.Token, other.ID, other.Choices[0].ID)
	requireRejection(t, err, voting.ReasonInvalidLink)

	_, err = c.Submit(ctx, link.Token, p.ID, other.Choices[0].ID)
	requireRejection(t, err, voting.ReasonUnknownChoice)

	_, err = c.Submit(ctx, futureLink.Token, future.ID, future.Choices[0].ID)
	rej := requireRejection(t, err, voting.ReasonPollNotVotable)
	assert.Equal(t, polls.ReasonNotStarted, rej.Window)

	_, err = c.Submit(ctx, disabledLink.Token, disabled.ID, disabled.Choices[0].ID)
	rej = requireRejection(t, err, voting.ReasonPollNotVotable)
	assert.Equal(t, polls.ReasonDisabled, rej.Window)

	reread, _ := store.Get(ctx, link.Token)
	assert.False(t, reread.Used, "rejected attempts must not spend the link")
}

// faultyStore wraps a Store and lets a test break one step of the atomic unit.
type faultyStore struct {
	voting.Store
	insertErr      error
	blockIncrement bool
}

type faultyTx struct {
	voting.Tx
	s *faultyStore
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx voting.Tx) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx voting.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, s: f})
	})
}

func (t *faultyTx) InsertVote(ctx context.Context, v *models.Vote) error {
	if t.s.insertErr != nil {
		return t.s.insertErr
	}
	return t.Tx.InsertVote(ctx, v)
}

func (t *faultyTx) IncrementChoice(ctx context.Context, pollID, choiceID uuid.UUID) error {
	if t.s.blockIncrement {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.Tx.IncrementChoice(ctx, pollID, choiceID)
}

func TestPartialFailureKeepsLinkRedeemable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	faulty := &faultyStore{Store: store, insertErr: errors.New("disk full")}
	c := voting.NewCoordinator(faulty, nil, voting.WithClock(clock))
	p := newPoll(t, store, nil)
	link, err := store.Issue(ctx, p.ID, nil)
	require.NoError(t, err)

	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	require.Error(t, err)
	_, isRejection := voting.AsRejection(err)
	assert.False(t, isRejection)

	reread, _ := store.Get(ctx, link.Token)
	assert.False(t, reread.Used)

	faulty.insertErr = nil
	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	require.NoError(t, err)
}

func TestCommitTimeoutRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	faulty := &faultyStore{Store: store, blockIncrement: true}
	c := voting.NewCoordinator(faulty, nil, voting.WithClock(clock), voting.WithCommitTimeout(20*time.Millisecond))
	p := newPoll(t, store, nil)
	link, err := store.Issue(ctx, p.ID, nil)
	require.NoError(t, err)

	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reread, _ := store.Get(ctx, link.Token)
	assert.False(t, reread.Used)
	assert.Empty(t, store.Votes(p.ID))
}

type recordingPublisher struct {
	mu    sync.Mutex
	stats []models.PollStats
}

func (r *recordingPublisher) PublishStats(_ uuid.UUID, s models.PollStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func TestPublisherReceivesStatsOnlyOnAccept(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	pub := &recordingPublisher{}
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock), voting.WithPublisher(pub))
	p := newPoll(t, store, nil)
	link, _ := store.Issue(ctx, p.ID, nil)

	_, err := c.Submit(ctx, link.Token, p.ID, p.Choices[1].ID)
	require.NoError(t, err)
	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[1].ID)
	require.Error(t, err)

	require.Len(t, pub.stats, 1)
	assert.Equal(t, 1, pub.stats[0].PerChoice[1].Votes)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := voting.NewCoordinator(store, nil, voting.WithClock(clock))
	p := newPoll(t, store, nil)
	link, _ := store.Issue(ctx, p.ID, nil)

	ballot, err := c.Lookup(ctx, link.Token)
	require.NoError(t, err)
	assert.False(t, ballot.HasVoted)
	assert.True(t, ballot.Window.Votable)
	assert.Equal(t, p.ID, ballot.Poll.ID)

	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	require.NoError(t, err)

	ballot, err = c.Lookup(ctx, link.Token)
	require.NoError(t, err)
	assert.True(t, ballot.HasVoted)

	_, err = c.Lookup(ctx, "missing")
	requireRejection(t, err, voting.ReasonInvalidLink)
}
