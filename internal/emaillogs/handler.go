package emaillogs

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-polls/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListByPoll handles GET /polls/:id/emails. Mount after the poll owner check.
func (h *Handler) ListByPoll(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	logs, err := h.repo.ListByPoll(c.Request.Context(), pollID)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}
