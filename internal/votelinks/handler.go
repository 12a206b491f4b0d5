package votelinks

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/pkg/queue"
	"github.com/aura-polls/backend/pkg/response"
)

// DefaultMaxBulk bounds one bulk issuance when the handler is not configured otherwise.
const DefaultMaxBulk = 500

// InvitationQueue accepts invitation email jobs.
type InvitationQueue interface {
	EnqueueInvitation(ctx context.Context, payload queue.InvitationPayload) error
}

// IssueRequest is the body for POST /polls/:id/vote-links.
type IssueRequest struct {
	Invitee *models.Invitee `json:"invitee"`
}

// BulkRequest is the body for POST /polls/:id/vote-links/bulk. Either invitees or count is given;
// count issues that many anonymous links.
type BulkRequest struct {
	Invitees []models.Invitee `json:"invitees" binding:"dive"`
	Count    int              `json:"count"`
}

// IssuedLink is a link plus the URL a voter opens.
type IssuedLink struct {
	*models.VoteLink
	URL string `json:"url"`
}

// Handler handles vote link issuance. Every route is mounted after polls.RequireOwner.
type Handler struct {
	ledger  Ledger
	invites InvitationQueue
	baseURL string
	maxBulk int
	logger  *zap.Logger
}

// NewHandler creates a vote link handler. invites may be nil, in which case no emails are sent.
// baseURL is the public origin voters open links on.
func NewHandler(ledger Ledger, invites InvitationQueue, baseURL string, maxBulk int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBulk <= 0 {
		maxBulk = DefaultMaxBulk
	}
	return &Handler{ledger: ledger, invites: invites, baseURL: strings.TrimRight(baseURL, "/"), maxBulk: maxBulk, logger: logger}
}

// VoteURL returns the voter-facing URL of a token.
func (h *Handler) VoteURL(token string) string {
	return h.baseURL + "/vote/" + token
}

func (h *Handler) present(links []*models.VoteLink) []IssuedLink {
	out := make([]IssuedLink, 0, len(links))
	for _, l := range links {
		out = append(out, IssuedLink{VoteLink: l, URL: h.VoteURL(l.Token)})
	}
	return out
}

// invite enqueues an email for every link with an invitee address. Failures are logged; the
// links stay valid and can be shared by hand.
func (h *Handler) invite(ctx context.Context, p *models.Poll, links []*models.VoteLink) int {
	if h.invites == nil {
		return 0
	}
	queued := 0
	for _, l := range links {
		if l.InviteeEmail == "" {
			continue
		}
		err := h.invites.EnqueueInvitation(ctx, queue.InvitationPayload{
			PollID:         p.ID,
			PollTitle:      p.Title,
			RecipientEmail: l.InviteeEmail,
			RecipientName:  l.InviteeName,
			VoteURL:        h.VoteURL(l.Token),
		})
		if err != nil {
			h.logger.Warn("enqueue invitation failed", zap.String("poll_id", p.ID.String()), zap.Error(err))
			continue
		}
		queued++
	}
	return queued
}

func normalize(inv models.Invitee) models.Invitee {
	return models.Invitee{Email: strings.TrimSpace(strings.ToLower(inv.Email)), Name: strings.TrimSpace(inv.Name)}
}

// Issue handles POST /polls/:id/vote-links.
func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var invitee *models.Invitee
	if req.Invitee != nil {
		inv := normalize(*req.Invitee)
		invitee = &inv
	}
	p := polls.FromContext(c)
	link, err := h.ledger.Issue(c.Request.Context(), p.ID, invitee)
	if err != nil {
		h.logger.Error("issue vote link failed", zap.String("poll_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to issue vote link")
		return
	}
	h.invite(c.Request.Context(), p, []*models.VoteLink{link})
	response.Created(c, h.present([]*models.VoteLink{link})[0])
}

// IssueBulk handles POST /polls/:id/vote-links/bulk.
func (h *Handler) IssueBulk(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	invitees := make([]models.Invitee, 0, len(req.Invitees))
	for _, inv := range req.Invitees {
		invitees = append(invitees, normalize(inv))
	}
	if len(invitees) == 0 {
		if req.Count <= 0 {
			response.BadRequest(c, "invitees or count required")
			return
		}
		if req.Count > h.maxBulk {
			response.BadRequest(c, "too many links requested")
			return
		}
		invitees = make([]models.Invitee, req.Count)
	}
	if len(invitees) > h.maxBulk {
		response.BadRequest(c, "too many invitees")
		return
	}

	p := polls.FromContext(c)
	links, err := h.ledger.IssueBulk(c.Request.Context(), p.ID, invitees)
	if err != nil {
		h.logger.Error("bulk issue failed", zap.String("poll_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to issue vote links")
		return
	}
	queued := h.invite(c.Request.Context(), p, links)
	h.logger.Info("vote links issued", zap.String("poll_id", p.ID.String()), zap.Int("count", len(links)), zap.Int("invitations", queued))
	response.Created(c, gin.H{"links": h.present(links), "invitations_queued": queued})
}

// List handles GET /polls/:id/vote-links.
func (h *Handler) List(c *gin.Context) {
	p := polls.FromContext(c)
	links, err := h.ledger.ListByPoll(c.Request.Context(), p.ID)
	if err != nil {
		response.Internal(c, "failed to list vote links")
		return
	}
	used := 0
	for _, l := range links {
		if l.Used {
			used++
		}
	}
	response.OK(c, gin.H{"links": h.present(links), "total": len(links), "used": used})
}
