package polls

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/pkg/response"
)

// ChoiceRequest is the body for POST /polls/:id/choices and PATCH /polls/:id/choices/:choiceId.
type ChoiceRequest struct {
	Text string `json:"text" binding:"required,max=200"`
}

func bindChoice(c *gin.Context) (string, bool) {
	var req ChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return "", false
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		response.BadRequest(c, "choice text must not be empty")
		return "", false
	}
	return text, true
}

func choiceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("choiceId"))
	if err != nil {
		response.NotFound(c, "choice not found")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) choiceError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "poll not found")
	case errors.Is(err, ErrChoiceNotFound):
		response.NotFound(c, "choice not found")
	case errors.Is(err, ErrChoiceHasVotes):
		response.Fail(c, http.StatusConflict, "choice_has_votes", "choice already has votes")
	case errors.Is(err, ErrTooFewChoices):
		response.Fail(c, http.StatusConflict, "too_few_choices", err.Error())
	case errors.Is(err, ErrTooManyChoices):
		response.Fail(c, http.StatusBadRequest, "too_many_choices", err.Error())
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.Internal(c, "failed to "+op)
	}
}

// AddChoice handles POST /polls/:id/choices. Mount after RequireOwner.
func (h *Handler) AddChoice(c *gin.Context) {
	text, ok := bindChoice(c)
	if !ok {
		return
	}
	p := FromContext(c)
	choice, err := h.store.AddChoice(c.Request.Context(), p.ID, text)
	if err != nil {
		h.choiceError(c, err, "add choice")
		return
	}
	h.logger.Info("choice added", zap.String("poll_id", p.ID.String()), zap.String("choice_id", choice.ID.String()))
	response.Created(c, choice)
}

// UpdateChoice handles PATCH /polls/:id/choices/:choiceId. Only the text changes.
func (h *Handler) UpdateChoice(c *gin.Context) {
	id, ok := choiceID(c)
	if !ok {
		return
	}
	text, ok := bindChoice(c)
	if !ok {
		return
	}
	choice, err := h.store.RenameChoice(c.Request.Context(), FromContext(c).ID, id, text)
	if err != nil {
		h.choiceError(c, err, "rename choice")
		return
	}
	response.OK(c, choice)
}

// DeleteChoice handles DELETE /polls/:id/choices/:choiceId. Choices with votes stay.
func (h *Handler) DeleteChoice(c *gin.Context) {
	id, ok := choiceID(c)
	if !ok {
		return
	}
	p := FromContext(c)
	if err := h.store.DeleteChoice(c.Request.Context(), p.ID, id); err != nil {
		h.choiceError(c, err, "delete choice")
		return
	}
	h.logger.Info("choice deleted", zap.String("poll_id", p.ID.String()), zap.String("choice_id", id.String()))
	response.NoContent(c)
}
