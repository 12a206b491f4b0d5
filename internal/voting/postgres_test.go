package voting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/testutil"
	"github.com/aura-polls/backend/internal/votelinks"
	"github.com/aura-polls/backend/internal/voting"
)

func TestPostgresConcurrentSubmissions(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, pool, "voting-owner")

	pollRepo := polls.NewRepository(pool)
	p := &models.Poll{OwnerID: owner, Title: "Lunch?", IsActive: true, Choices: []models.Choice{{Text: "A"}, {Text: "B"}}}
	require.NoError(t, pollRepo.Create(ctx, p))

	links, err := votelinks.NewRepository(pool).IssueBulk(ctx, p.ID, make([]models.Invitee, 3))
	require.NoError(t, err)

	c := voting.NewCoordinator(voting.NewPostgresStore(pool), zap.NewNop(), voting.WithCommitTimeout(10*time.Second))

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Submit(ctx, links[0].Token, p.ID, p.Choices[0].ID)
		}(i)
	}
	wg.Wait()

	accepted, already := 0, 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		rej, ok := voting.AsRejection(err)
		require.True(t, ok, "unexpected error: %v", err)
		if rej.Reason == voting.ReasonAlreadyVoted {
			already++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, racers-1, already)

	got, err := pollRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	stats := got.Stats()
	assert.Equal(t, 1, stats.TotalVotes)
	assert.Equal(t, 1, stats.PerChoice[0].Votes)

	var votes int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM votes WHERE poll_id = $1`, p.ID).Scan(&votes))
	assert.Equal(t, stats.TotalVotes, votes)
}

func TestPostgresClosedPollLeavesLinkUnused(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, pool, "voting-closed")

	end := time.Now().Add(-time.Minute)
	p := &models.Poll{OwnerID: owner, Title: "Old", IsActive: true, EndAt: &end, Choices: []models.Choice{{Text: "A"}}}
	require.NoError(t, polls.NewRepository(pool).Create(ctx, p))
	ledger := votelinks.NewRepository(pool)
	link, err := ledger.Issue(ctx, p.ID, nil)
	require.NoError(t, err)

	c := voting.NewCoordinator(voting.NewPostgresStore(pool), nil)
	_, err = c.Submit(ctx, link.Token, p.ID, p.Choices[0].ID)
	var rej *voting.Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, voting.ReasonPollNotVotable, rej.Reason)
	assert.Equal(t, polls.ReasonClosed, rej.Window)

	reread, err := ledger.Get(ctx, link.Token)
	require.NoError(t, err)
	assert.False(t, reread.Used)
}

func TestPostgresDeleteChoiceRacesVote(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, pool, "voting-choice-race")

	pollRepo := polls.NewRepository(pool)
	p := &models.Poll{OwnerID: owner, Title: "Race", IsActive: true,
		Choices: []models.Choice{{Text: "A"}, {Text: "B"}, {Text: "C"}}}
	require.NoError(t, pollRepo.Create(ctx, p))
	links, err := votelinks.NewRepository(pool).IssueBulk(ctx, p.ID, make([]models.Invitee, 1))
	require.NoError(t, err)

	c := voting.NewCoordinator(voting.NewPostgresStore(pool), zap.NewNop(), voting.WithCommitTimeout(10*time.Second))
	target := p.Choices[2].ID

	var voteErr, delErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, voteErr = c.Submit(ctx, links[0].Token, p.ID, target)
	}()
	go func() {
		defer wg.Done()
		delErr = pollRepo.DeleteChoice(ctx, p.ID, target)
	}()
	wg.Wait()

	if voteErr == nil {
		assert.ErrorIs(t, delErr, polls.ErrChoiceHasVotes)
	} else {
		require.NoError(t, delErr)
		rej, ok := voting.AsRejection(voteErr)
		require.True(t, ok, "unexpected error: %v", voteErr)
		assert.Equal(t, voting.ReasonUnknownChoice, rej.Reason)
	}

	got, err := pollRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	var votes int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM votes WHERE poll_id = $1`, p.ID).Scan(&votes))
	assert.Equal(t, got.Stats().TotalVotes, votes)
}

func TestPostgresChoiceEdits(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, pool, "voting-choice-edit")

	pollRepo := polls.NewRepository(pool)
	p := &models.Poll{OwnerID: owner, Title: "Edit", IsActive: true, Choices: []models.Choice{{Text: "A"}, {Text: "B"}}}
	require.NoError(t, pollRepo.Create(ctx, p))

	added, err := pollRepo.AddChoice(ctx, p.ID, "C")
	require.NoError(t, err)
	assert.Equal(t, 2, added.Position)

	renamed, err := pollRepo.RenameChoice(ctx, p.ID, p.Choices[0].ID, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", renamed.Text)

	require.NoError(t, pollRepo.DeleteChoice(ctx, p.ID, p.Choices[1].ID))
	assert.ErrorIs(t, pollRepo.DeleteChoice(ctx, p.ID, added.ID), polls.ErrTooFewChoices)
	assert.ErrorIs(t, pollRepo.DeleteChoice(ctx, p.ID, p.Choices[1].ID), polls.ErrChoiceNotFound)

	next, err := pollRepo.AddChoice(ctx, p.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, 3, next.Position)

	got, err := pollRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Choices, 3)
	assert.Equal(t, []string{"Alpha", "C", "D"}, []string{got.Choices[0].Text, got.Choices[1].Text, got.Choices[2].Text})
}
