package voting

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/pkg/response"
)

// SubmitRequest is the body for POST /vote/:token.
type SubmitRequest struct {
	ChoiceID string `json:"choice_id" binding:"required,uuid"`
	PollID   string `json:"poll_id" binding:"omitempty,uuid"`
}

// BallotView is the voter-facing ballot. Vote counts are hidden unless results are visible.
type BallotView struct {
	Poll           *models.Poll `json:"poll"`
	Window         polls.Window `json:"window"`
	HasVoted       bool         `json:"has_voted"`
	ResultsVisible bool         `json:"results_visible"`
}

// Handler serves the unauthenticated voter endpoints. A vote link token is the only credential.
type Handler struct {
	coord  *Coordinator
	logger *zap.Logger
}

// NewHandler creates a voting handler.
func NewHandler(coord *Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, logger: logger}
}

// Code returns the stable API code of a rejection.
func (r *Rejection) Code() string {
	if r.Reason == ReasonPollNotVotable {
		return "poll_" + string(r.Window)
	}
	return string(r.Reason)
}

func (r *Rejection) status() int {
	switch r.Reason {
	case ReasonInvalidLink:
		return http.StatusNotFound
	case ReasonUnknownChoice:
		return http.StatusBadRequest
	case ReasonAlreadyVoted:
		return http.StatusConflict
	default:
		return http.StatusForbidden
	}
}

func (r *Rejection) message() string {
	switch r.Reason {
	case ReasonInvalidLink:
		return "vote link is not valid"
	case ReasonUnknownChoice:
		return "choice does not belong to this poll"
	case ReasonAlreadyVoted:
		return "this link has already been used to vote"
	}
	switch r.Window {
	case polls.ReasonNotStarted:
		return "voting has not started yet"
	case polls.ReasonClosed:
		return "voting has closed"
	default:
		return "poll is not accepting votes"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	if rej, ok := AsRejection(err); ok {
		response.Fail(c, rej.status(), rej.Code(), rej.message())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		response.ServiceUnavailable(c, "vote could not be recorded in time, please retry")
		return
	}
	response.Internal(c, "failed to process vote")
}

func hideCounts(p *models.Poll) *models.Poll {
	cp := *p
	cp.Choices = make([]models.Choice, len(p.Choices))
	for i, ch := range p.Choices {
		ch.VoteCount = 0
		cp.Choices[i] = ch
	}
	return &cp
}

// Ballot handles GET /vote/:token.
func (h *Handler) Ballot(c *gin.Context) {
	b, err := h.coord.Lookup(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	visible := polls.ResultsVisible(b.Poll, h.coord.Now())
	p := b.Poll
	if !visible {
		p = hideCounts(p)
	}
	response.OK(c, BallotView{Poll: p, Window: b.Window, HasVoted: b.HasVoted, ResultsVisible: visible})
}

// Submit handles POST /vote/:token.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	choiceID := uuid.MustParse(req.ChoiceID)
	pollID := uuid.Nil
	if req.PollID != "" {
		pollID = uuid.MustParse(req.PollID)
	}
	receipt, err := h.coord.Submit(c.Request.Context(), c.Param("token"), pollID, choiceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"accepted": true, "vote": receipt.Vote}
	if receipt.ResultsVisible {
		body["stats"] = receipt.Stats
	}
	response.Created(c, body)
}

// Results handles GET /vote/:token/results. Available when the owner shows results or the poll has closed.
func (h *Handler) Results(c *gin.Context) {
	b, err := h.coord.Lookup(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !polls.ResultsVisible(b.Poll, h.coord.Now()) {
		response.Fail(c, http.StatusForbidden, "results_hidden", "results are not available yet")
		return
	}
	response.OK(c, b.Poll.Stats())
}
