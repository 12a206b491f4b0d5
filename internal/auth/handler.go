package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	FullName string `json:"full_name"`
}

// LoginRequest is the body for POST /auth/login. Username may also be the account email.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is the body for POST /auth/refresh and POST /auth/logout.
type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Register(c.Request.Context(), req.Username, req.Email, req.Password, req.FullName)
	if errors.Is(err, ErrUserExists) {
		response.Conflict(c, "username or email already registered")
		return
	}
	if err != nil {
		h.logger.Error("register failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}
	response.Created(c, sess)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		response.Unauthorized(c, "invalid username or password")
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		response.Internal(c, "failed to log in")
		return
	}
	response.OK(c, sess)
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Refresh(c.Request.Context(), req.Refresh)
	if errors.Is(err, ErrRefreshTokenInvalid) {
		response.Unauthorized(c, "refresh token invalid or expired")
		return
	}
	if err != nil {
		h.logger.Error("refresh failed", zap.Error(err))
		response.Internal(c, "failed to refresh session")
		return
	}
	response.OK(c, sess)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.Logout(c.Request.Context(), req.Refresh); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		response.Internal(c, "failed to log out")
		return
	}
	response.NoContent(c)
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id, ok := c.Get("user_id")
	userID, _ := id.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		response.Unauthorized(c, "missing user context")
		return
	}
	u, err := h.svc.UserByID(c.Request.Context(), userID)
	if errors.Is(err, ErrUserNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load user")
		return
	}
	response.OK(c, u.ToPublic())
}
