package apiclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-polls/backend/internal/models"
)

// DefaultRefreshTimeout bounds one refresh round trip.
const DefaultRefreshTimeout = 10 * time.Second

// RefreshFunc exchanges a refresh token for a new credential.
type RefreshFunc func(ctx context.Context, refreshToken string) (*models.Credential, error)

// RefreshCoordinator runs at most one refresh per session at a time. Callers arriving while a
// refresh is in flight wait for and share its outcome.
type RefreshCoordinator struct {
	session *Session
	refresh RefreshFunc
	timeout time.Duration
	group   singleflight.Group
	logger  *zap.Logger
}

// NewRefreshCoordinator creates a coordinator. timeout <= 0 uses DefaultRefreshTimeout.
func NewRefreshCoordinator(session *Session, refresh RefreshFunc, timeout time.Duration, logger *zap.Logger) *RefreshCoordinator {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshCoordinator{session: session, refresh: refresh, timeout: timeout, logger: logger}
}

// EnsureFresh returns a credential newer than the one whose access token was rejected (stale).
// If the stored credential already differs from stale, another caller refreshed it and it is
// returned as is. On failure the store is cleared, the session becomes Expired and the error
// wraps ErrRefreshFailed.
func (r *RefreshCoordinator) EnsureFresh(ctx context.Context, stale string) (*models.Credential, error) {
	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		return r.run(stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Credential), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run uses its own deadline so a cancelled caller cannot abort a refresh other callers wait on.
func (r *RefreshCoordinator) run(stale string) (*models.Credential, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cur, err := r.session.Credential(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		r.session.transition(StateExpired)
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}
	if stale != "" && cur.AccessToken != stale {
		return cur, nil
	}

	r.session.transition(StateRefreshing)
	next, err := r.refresh(ctx, cur.RefreshToken)
	if err != nil {
		r.logger.Warn("credential refresh failed, session expired", zap.Error(err))
		if clearErr := r.session.end(context.Background(), StateExpired); clearErr != nil {
			r.logger.Error("clear credential failed", zap.Error(clearErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if err := r.session.begin(ctx, *next); err != nil {
		r.session.transition(StateExpired)
		return nil, fmt.Errorf("%w: store credential: %w", ErrRefreshFailed, err)
	}
	r.logger.Debug("credential refreshed")
	return next, nil
}
