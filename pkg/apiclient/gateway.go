package apiclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestGateway sends authenticated requests. A 401 on the first attempt triggers one
// coordinated refresh and exactly one retry with the new access token.
type RequestGateway struct {
	session   *Session
	refresher *RefreshCoordinator
	http      Doer
	logger    *zap.Logger
}

// NewRequestGateway creates a gateway.
func NewRequestGateway(session *Session, refresher *RefreshCoordinator, doer Doer, logger *zap.Logger) *RequestGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestGateway{session: session, refresher: refresher, http: doer, logger: logger}
}

// Do sends req with the session's bearer token. Requests with a body must set GetBody
// (http.NewRequest does for bytes and strings readers) so they can be replayed.
// Network failures are returned as *TransientError.
func (g *RequestGateway) Do(req *http.Request) (*http.Response, error) {
	if g.session.State() == StateExpired {
		return nil, ErrSessionExpired
	}
	ctx := req.Context()
	cred, err := g.session.Credential(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrSessionExpired
	}

	resp, err := g.send(req, cred.AccessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	fresh, err := g.refresher.EnsureFresh(ctx, cred.AccessToken)
	if errors.Is(err, ErrRefreshFailed) {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body cannot be replayed")
		}
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	resp, err = g.send(retry, fresh.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		g.logger.Warn("request unauthorized after refresh", zap.String("path", req.URL.Path))
		return nil, ErrSessionExpired
	}
	return resp, nil
}

func (g *RequestGateway) send(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := g.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, &TransientError{err: fmt.Errorf("http request failed: %w", err)}
	}
	return resp, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
