package polls

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-polls/backend/internal/middleware"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/response"
)

// ContextPoll is the gin context key of the poll loaded by RequireOwner.
const ContextPoll = "poll"

// RequireOwner loads the poll named by :id and lets only its owner or an admin through.
// Call after JWT.
func RequireOwner(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		pollID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid poll id")
			c.Abort()
			return
		}
		p, err := store.GetByID(c.Request.Context(), pollID)
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "poll not found")
			c.Abort()
			return
		}
		if err != nil {
			response.Internal(c, "failed to load poll")
			c.Abort()
			return
		}
		userID, _ := middleware.UserID(c)
		if p.OwnerID != userID && !middleware.IsAdmin(c) {
			response.Forbidden(c, "not the owner of this poll")
			c.Abort()
			return
		}
		c.Set(ContextPoll, p)
		c.Next()
	}
}

// FromContext returns the poll loaded by RequireOwner.
func FromContext(c *gin.Context) *models.Poll {
	p, _ := c.MustGet(ContextPoll).(*models.Poll)
	return p
}
