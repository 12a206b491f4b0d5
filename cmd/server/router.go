package main

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/auth"
	"github.com/aura-polls/backend/internal/emaillogs"
	"github.com/aura-polls/backend/internal/middleware"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/internal/polls"
	"github.com/aura-polls/backend/internal/realtime"
	"github.com/aura-polls/backend/internal/votelinks"
	"github.com/aura-polls/backend/internal/voting"
	"github.com/aura-polls/backend/pkg/response"
)

// deps is everything the router needs. EmailLogs may be nil.
type deps struct {
	Logger      *zap.Logger
	CORSOrigins string
	JWT         *auth.JWTService
	Auth        *auth.Service
	Polls       polls.Store
	Ledger      votelinks.Ledger
	Coordinator *voting.Coordinator
	Hub         *realtime.Hub
	Exporter    polls.Exporter
	Invitations votelinks.InvitationQueue
	Queue       queueInspector
	EmailLogs   *emaillogs.Repository
	BaseURL     string
	MaxBulk     int
}

type queueInspector interface {
	Pending(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context) (int64, error)
}

// queueStats handles GET /admin/queue.
func queueStats(q queueInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if q == nil {
			response.ServiceUnavailable(c, "job queue is not configured")
			return
		}
		pending, err := q.Pending(c.Request.Context())
		if err != nil {
			response.Internal(c, "failed to read queue")
			return
		}
		dead, err := q.DeadLetters(c.Request.Context())
		if err != nil {
			response.Internal(c, "failed to read queue")
			return
		}
		response.OK(c, gin.H{"pending": pending, "dead_letters": dead})
	}
}

var errViewerDenied = errors.New("not allowed to watch this poll")

// viewerAuthorizer admits the poll owner (access_token query parameter) or a voter holding a link
// for the poll once its results are visible (vote_token query parameter).
func viewerAuthorizer(d deps) realtime.Authorizer {
	return func(c *gin.Context, pollID uuid.UUID) error {
		ctx := c.Request.Context()
		if tok := c.Query("access_token"); tok != "" {
			claims, err := d.JWT.Validate(tok)
			if err != nil {
				return errViewerDenied
			}
			p, err := d.Polls.GetByID(ctx, pollID)
			if err != nil {
				return errViewerDenied
			}
			if p.OwnerID == claims.UserID || claims.Role == string(models.RoleAdmin) {
				return nil
			}
			return errViewerDenied
		}
		if tok := c.Query("vote_token"); tok != "" {
			b, err := d.Coordinator.Lookup(ctx, tok)
			if err != nil || b.Poll.ID != pollID {
				return errViewerDenied
			}
			if polls.ResultsVisible(b.Poll, d.Coordinator.Now()) {
				return nil
			}
		}
		return errViewerDenied
	}
}

func statsSource(store polls.Store) realtime.StatsSource {
	return func(ctx context.Context, pollID uuid.UUID) (models.PollStats, error) {
		p, err := store.GetByID(ctx, pollID)
		if err != nil {
			return models.PollStats{}, err
		}
		return p.Stats(), nil
	}
}

func newRouter(d deps) *gin.Engine {
	authHandler := auth.NewHandler(d.Auth, d.Logger)
	pollHandler := polls.NewHandler(d.Polls, d.Exporter, d.Logger)
	linkHandler := votelinks.NewHandler(d.Ledger, d.Invitations, d.BaseURL, d.MaxBulk, d.Logger)
	voteHandler := voting.NewHandler(d.Coordinator, d.Logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.CORSOrigins))
	router.Use(middleware.Logger(d.Logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", middleware.JWT(d.JWT), authHandler.Me)
	}

	// Voters: the link token is the only credential.
	vote := router.Group("/vote")
	{
		vote.GET("/:token", voteHandler.Ballot)
		vote.POST("/:token", voteHandler.Submit)
		vote.GET("/:token/results", voteHandler.Results)
	}

	api := router.Group("")
	api.Use(middleware.JWT(d.JWT))
	{
		api.POST("/polls", pollHandler.Create)
		api.GET("/polls", pollHandler.ListMine)

		owned := api.Group("/polls/:id")
		owned.Use(polls.RequireOwner(d.Polls))
		owned.GET("", pollHandler.Get)
		owned.PUT("", pollHandler.Update)
		owned.DELETE("", pollHandler.Delete)
		owned.GET("/stats", pollHandler.Stats)
		owned.POST("/choices", pollHandler.AddChoice)
		owned.PATCH("/choices/:choiceId", pollHandler.UpdateChoice)
		owned.DELETE("/choices/:choiceId", pollHandler.DeleteChoice)
		owned.POST("/export", pollHandler.Export)
		owned.POST("/vote-links", linkHandler.Issue)
		owned.POST("/vote-links/bulk", linkHandler.IssueBulk)
		owned.GET("/vote-links", linkHandler.List)
		if d.EmailLogs != nil {
			owned.GET("/emails", emaillogs.NewHandler(d.EmailLogs).ListByPoll)
		}
	}

	admin := router.Group("/admin")
	admin.Use(middleware.JWT(d.JWT), middleware.RequireRole(models.RoleAdmin))
	admin.GET("/queue", queueStats(d.Queue))

	// Live tallies; credentials travel in the query string.
	router.GET("/ws/polls/:id", realtime.ServeWs(d.Hub, d.Logger, viewerAuthorizer(d), statsSource(d.Polls)))

	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "route not found") })
	return router
}
