package polls

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/middleware"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/response"
)

// MaxChoices bounds the number of choices of one poll.
const MaxChoices = 50

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateRequest is the body for POST /polls.
type CreateRequest struct {
	Title       string   `json:"title" binding:"required,max=200"`
	Description string   `json:"description"`
	Choices     []string `json:"choices" binding:"required,min=2"`
	StartAt     *string  `json:"start_at"`
	EndAt       *string  `json:"end_at"`
	IsActive    *bool    `json:"is_active"`
	ShowResults bool     `json:"show_results"`
}

// UpdateRequest is the body for PUT /polls/:id. Absent fields keep their value; an empty
// start_at or end_at string clears that bound. Choices are edited through /polls/:id/choices.
type UpdateRequest struct {
	Choices     json.RawMessage `json:"choices"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	StartAt     *string         `json:"start_at"`
	EndAt       *string         `json:"end_at"`
	IsActive    *bool           `json:"is_active"`
	ShowResults *bool           `json:"show_results"`
}

// View is a poll together with its window verdict at response time.
type View struct {
	*models.Poll
	Window Window `json:"window"`
}

// Exporter stores a JSON document and returns a download URL for it.
type Exporter interface {
	Export(ctx context.Context, pollID string, doc []byte) (key, url string, err error)
}

// ExportDocument is what POST /polls/:id/export uploads.
type ExportDocument struct {
	Poll       *models.Poll     `json:"poll"`
	Stats      models.PollStats `json:"stats"`
	ExportedAt time.Time        `json:"exported_at"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	store    Store
	exporter Exporter
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a poll handler. exporter may be nil, which disables exports.
func NewHandler(store Store, exporter Exporter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, exporter: exporter, now: time.Now, logger: logger}
}

func (h *Handler) view(p *models.Poll) View {
	return View{Poll: p, Window: Evaluate(p, h.now())}
}

func validateBounds(start, end *time.Time) string {
	if start != nil && end != nil && !end.After(*start) {
		return "end_at must be after start_at"
	}
	return ""
}

// Create handles POST /polls.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Choices) > MaxChoices {
		response.BadRequest(c, "too many choices")
		return
	}
	choices := make([]models.Choice, 0, len(req.Choices))
	for _, text := range req.Choices {
		text = strings.TrimSpace(text)
		if text == "" {
			response.BadRequest(c, "choice text must not be empty")
			return
		}
		choices = append(choices, models.Choice{Text: text})
	}
	start, err := parseTime(req.StartAt)
	if err != nil {
		response.BadRequest(c, "invalid start_at")
		return
	}
	end, err := parseTime(req.EndAt)
	if err != nil {
		response.BadRequest(c, "invalid end_at")
		return
	}
	if msg := validateBounds(start, end); msg != "" {
		response.BadRequest(c, msg)
		return
	}

	userID, _ := middleware.UserID(c)
	p := &models.Poll{
		OwnerID:     userID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Choices:     choices,
		StartAt:     start,
		EndAt:       end,
		IsActive:    req.IsActive == nil || *req.IsActive,
		ShowResults: req.ShowResults,
	}
	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create poll failed", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}
	h.logger.Info("poll created", zap.String("poll_id", p.ID.String()), zap.String("owner_id", userID.String()))
	response.Created(c, h.view(p))
}

// ListMine handles GET /polls.
func (h *Handler) ListMine(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	list, err := h.store.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list polls")
		return
	}
	views := make([]View, 0, len(list))
	for _, p := range list {
		views = append(views, h.view(p))
	}
	response.OK(c, views)
}

// Get handles GET /polls/:id. Mount after RequireOwner.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, h.view(FromContext(c)))
}

// Update handles PUT /polls/:id. Mount after RequireOwner.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Choices != nil {
		response.BadRequest(c, "choices cannot be replaced here, use /polls/:id/choices")
		return
	}
	p := FromContext(c)
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			response.BadRequest(c, "title must not be empty")
			return
		}
		p.Title = title
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.StartAt != nil {
		t, err := parseTime(req.StartAt)
		if err != nil {
			response.BadRequest(c, "invalid start_at")
			return
		}
		p.StartAt = t
	}
	if req.EndAt != nil {
		t, err := parseTime(req.EndAt)
		if err != nil {
			response.BadRequest(c, "invalid end_at")
			return
		}
		p.EndAt = t
	}
	if msg := validateBounds(p.StartAt, p.EndAt); msg != "" {
		response.BadRequest(c, msg)
		return
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.ShowResults != nil {
		p.ShowResults = *req.ShowResults
	}
	if err := h.store.Update(c.Request.Context(), p); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		response.Internal(c, "failed to update poll")
		return
	}
	response.OK(c, h.view(p))
}

// Delete handles DELETE /polls/:id. Mount after RequireOwner.
func (h *Handler) Delete(c *gin.Context) {
	p := FromContext(c)
	if err := h.store.Delete(c.Request.Context(), p.ID); err != nil && !errors.Is(err, ErrNotFound) {
		response.Internal(c, "failed to delete poll")
		return
	}
	h.logger.Info("poll deleted", zap.String("poll_id", p.ID.String()))
	response.NoContent(c)
}

// Stats handles GET /polls/:id/stats. Mount after RequireOwner.
func (h *Handler) Stats(c *gin.Context) {
	response.OK(c, FromContext(c).Stats())
}

// Export handles POST /polls/:id/export: stores a snapshot of the poll and its tally and
// returns a time-limited download URL. Mount after RequireOwner.
func (h *Handler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	p := FromContext(c)
	doc, err := json.Marshal(ExportDocument{Poll: p, Stats: p.Stats(), ExportedAt: h.now().UTC()})
	if err != nil {
		response.Internal(c, "failed to encode export")
		return
	}
	key, url, err := h.exporter.Export(c.Request.Context(), p.ID.String(), doc)
	if err != nil {
		h.logger.Error("export failed", zap.String("poll_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to store export")
		return
	}
	response.Created(c, gin.H{"key": key, "url": url})
}
