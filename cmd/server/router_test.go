package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/auth"
	"github.com/aura-polls/backend/internal/memstore"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/realtime"
	"github.com/aura-polls/backend/internal/voting"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := memstore.New()
	hub := realtime.NewHub(logger, nil, nil)
	jwtSvc := auth.NewJWTService("test-secret", 15*time.Minute)
	d := deps{
		Logger:      logger,
		CORSOrigins: "*",
		JWT:         jwtSvc,
		Auth:        auth.NewService(memstore.NewUsers(), memstore.NewRefreshTokens(), jwtSvc, time.Hour, 32, logger),
		Polls:       store,
		Ledger:      store,
		Coordinator: voting.NewCoordinator(store, logger, voting.WithPublisher(hub)),
		Hub:         hub,
		BaseURL:     "https://polls.example.com",
		MaxBulk:     10,
	}
	return &testServer{t: t, router: newRouter(d), store: store}
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (s *testServer) register(username string) string {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "hunter22",
	})
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	var sess struct {
		Access string `json:"access"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &sess))
	return sess.Access
}

type pollView struct {
	ID      uuid.UUID `json:"id"`
	Choices []struct {
		ID        uuid.UUID `json:"id"`
		Text      string    `json:"text"`
		VoteCount int       `json:"vote_count"`
	} `json:"choices"`
	Window struct {
		Votable bool   `json:"votable"`
		Reason  string `json:"reason"`
	} `json:"window"`
}

func (s *testServer) createPoll(token string, body map[string]any) pollView {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/polls", token, body)
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	var p pollView
	require.NoError(s.t, json.Unmarshal(env.Data, &p))
	return p
}

func (s *testServer) issueLink(token string, pollID uuid.UUID) string {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/polls/"+pollID.String()+"/vote-links", token, nil)
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	var link struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &link))
	assert.Equal(s.t, "https://polls.example.com/vote/"+link.Token, link.URL)
	return link.Token
}

func TestVotingFlow(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")

	p := s.createPoll(owner, map[string]any{"title": "Lunch?", "choices": []string{"Pizza", "Sushi"}})
	require.Len(t, p.Choices, 2)
	assert.True(t, p.Window.Votable)

	tok := s.issueLink(owner, p.ID)

	code, env := s.do(http.MethodGet, "/vote/"+tok, "", nil)
	require.Equal(t, http.StatusOK, code)
	var ballot struct {
		HasVoted       bool `json:"has_voted"`
		ResultsVisible bool `json:"results_visible"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ballot))
	assert.False(t, ballot.HasVoted)
	assert.False(t, ballot.ResultsVisible)

	code, env = s.do(http.MethodGet, "/vote/"+tok+"/results", "", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "results_hidden", env.Code)

	code, env = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[1].ID.String()})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[0].ID.String()})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_voted", env.Code)

	code, env = s.do(http.MethodGet, "/polls/"+p.ID.String()+"/stats", owner, nil)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		TotalVotes int `json:"total_votes"`
		PerChoice  []struct {
			Votes int `json:"votes"`
		} `json:"per_choice"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.TotalVotes)
	assert.Equal(t, 1, stats.PerChoice[1].Votes)
	assert.Len(t, s.store.Votes(p.ID), 1)
}

func TestVoteRejections(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	p := s.createPoll(owner, map[string]any{"title": "Colour", "choices": []string{"Red", "Blue"}})
	tok := s.issueLink(owner, p.ID)

	code, env := s.do(http.MethodPost, "/vote/nope", "", map[string]string{"choice_id": p.Choices[0].ID.String()})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "invalid_link", env.Code)

	code, env = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_choice", env.Code)

	code, _ = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPut, "/polls/"+p.ID.String(), owner, map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[0].ID.String()})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "poll_disabled", env.Code)

	// The rejected attempt left the link redeemable.
	code, _ = s.do(http.MethodPut, "/polls/"+p.ID.String(), owner, map[string]any{"is_active": true})
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[0].ID.String()})
	assert.Equal(t, http.StatusCreated, code)
}

func TestClosedPollShowsResults(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	end := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	p := s.createPoll(owner, map[string]any{"title": "Past", "choices": []string{"A", "B"}, "start_at": start, "end_at": end})
	assert.False(t, p.Window.Votable)
	assert.Equal(t, "closed", p.Window.Reason)
	tok := s.issueLink(owner, p.ID)

	code, env := s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[0].ID.String()})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "poll_closed", env.Code)

	code, _ = s.do(http.MethodGet, "/vote/"+tok+"/results", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPollOwnership(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	other := s.register("other")
	p := s.createPoll(owner, map[string]any{"title": "Mine", "choices": []string{"A", "B"}})

	code, _ := s.do(http.MethodGet, "/polls/"+p.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodGet, "/polls/"+p.ID.String(), other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/polls/"+p.ID.String()+"/vote-links", other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/polls/"+uuid.NewString(), owner, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/polls/"+p.ID.String()+"/export", owner, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = s.do(http.MethodDelete, "/polls/"+p.ID.String(), owner, nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestBulkLinks(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	p := s.createPoll(owner, map[string]any{"title": "Bulk", "choices": []string{"A", "B"}})
	path := "/polls/" + p.ID.String() + "/vote-links"

	code, env := s.do(http.MethodPost, path+"/bulk", owner, map[string]any{"count": 3})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, _ = s.do(http.MethodPost, path+"/bulk", owner, map[string]any{"count": 11})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int `json:"total"`
		Used  int `json:"used"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 0, list.Used)
}

func TestHealthAndNoRoute(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, _ = s.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminQueueRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	code, _ := s.do(http.MethodGet, "/admin/queue", owner, nil)
	assert.Equal(t, http.StatusForbidden, code)

	admin, _, err := auth.NewJWTService("test-secret", time.Minute).Generate(uuid.New(), "root", string(models.RoleAdmin))
	require.NoError(t, err)
	code, _ = s.do(http.MethodGet, "/admin/queue", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

type choiceView struct {
	ID        uuid.UUID `json:"id"`
	Position  int       `json:"position"`
	Text      string    `json:"text"`
	VoteCount int       `json:"vote_count"`
}

func (s *testServer) getPoll(token string, id uuid.UUID) pollView {
	s.t.Helper()
	code, env := s.do(http.MethodGet, "/polls/"+id.String(), token, nil)
	require.Equal(s.t, http.StatusOK, code, env.Error)
	var p pollView
	require.NoError(s.t, json.Unmarshal(env.Data, &p))
	return p
}

func TestChoiceManagement(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	p := s.createPoll(owner, map[string]any{"title": "Dinner", "choices": []string{"Pasta", "Curry", "Tacos"}})
	base := "/polls/" + p.ID.String() + "/choices"

	code, env := s.do(http.MethodPost, base, owner, map[string]string{"text": "  Ramen "})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var added choiceView
	require.NoError(t, json.Unmarshal(env.Data, &added))
	assert.Equal(t, "Ramen", added.Text)
	assert.Equal(t, 3, added.Position)
	assert.Zero(t, added.VoteCount)

	code, env = s.do(http.MethodPatch, base+"/"+p.Choices[0].ID.String(), owner, map[string]string{"text": "Lasagne"})
	require.Equal(t, http.StatusOK, code, env.Error)

	got := s.getPoll(owner, p.ID)
	require.Len(t, got.Choices, 4)
	assert.Equal(t, "Lasagne", got.Choices[0].Text)
	assert.Equal(t, "Ramen", got.Choices[3].Text)

	code, _ = s.do(http.MethodDelete, base+"/"+added.ID.String(), owner, nil)
	assert.Equal(t, http.StatusNoContent, code)

	// A voted choice can still be renamed but not deleted.
	tok := s.issueLink(owner, p.ID)
	code, env = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[1].ID.String()})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = s.do(http.MethodPatch, base+"/"+p.Choices[1].ID.String(), owner, map[string]string{"text": "Green curry"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var renamed choiceView
	require.NoError(t, json.Unmarshal(env.Data, &renamed))
	assert.Equal(t, 1, renamed.VoteCount)

	code, env = s.do(http.MethodDelete, base+"/"+p.Choices[1].ID.String(), owner, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "choice_has_votes", env.Code)

	code, _ = s.do(http.MethodDelete, base+"/"+p.Choices[2].ID.String(), owner, nil)
	assert.Equal(t, http.StatusNoContent, code)

	// Two choices left: neither may go.
	code, env = s.do(http.MethodDelete, base+"/"+p.Choices[0].ID.String(), owner, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "too_few_choices", env.Code)

	got = s.getPoll(owner, p.ID)
	require.Len(t, got.Choices, 2)
	total := 0
	for _, c := range got.Choices {
		total += c.VoteCount
	}
	assert.Equal(t, len(s.store.Votes(p.ID)), total)

	// Votes for a removed choice are refused.
	tok = s.issueLink(owner, p.ID)
	code, env = s.do(http.MethodPost, "/vote/"+tok, "", map[string]string{"choice_id": p.Choices[2].ID.String()})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_choice", env.Code)
}

func TestChoiceManagementRejections(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	other := s.register("other")
	p := s.createPoll(owner, map[string]any{"title": "Pets", "choices": []string{"Cat", "Dog"}})
	base := "/polls/" + p.ID.String() + "/choices"

	code, _ := s.do(http.MethodPost, base, other, map[string]string{"text": "Fish"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodPatch, base+"/"+p.Choices[0].ID.String(), other, map[string]string{"text": "Lion"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodDelete, base+"/"+p.Choices[0].ID.String(), other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, base, owner, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodPost, base, owner, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPatch, base+"/"+uuid.NewString(), owner, map[string]string{"text": "Hamster"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodDelete, base+"/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPost, "/polls/"+uuid.NewString()+"/choices", owner, map[string]string{"text": "Fish"})
	assert.Equal(t, http.StatusNotFound, code)

	// PUT cannot replace the choice list.
	code, _ = s.do(http.MethodPut, "/polls/"+p.ID.String(), owner, map[string]any{"choices": []string{"X", "Y"}})
	assert.Equal(t, http.StatusBadRequest, code)
	got := s.getPoll(owner, p.ID)
	require.Len(t, got.Choices, 2)
	assert.Equal(t, "Cat", got.Choices[0].Text)

	texts := make([]string, polls.MaxChoices)
	for i := range texts {
		texts[i] = "option"
	}
	full := s.createPoll(owner, map[string]any{"title": "Many", "choices": texts})
	code, env := s.do(http.MethodPost, "/polls/"+full.ID.String()+"/choices", owner, map[string]string{"text": "one more"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "too_many_choices", env.Code)
}
