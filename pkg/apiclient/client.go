// Package apiclient is a Go client for the polls API. Authenticated calls go through a
// RequestGateway that refreshes the session credential on 401, single-flighted per session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
)

const maxResponseSize = 1 << 20

// IssuedLink is a vote link with its shareable URL.
type IssuedLink struct {
	models.VoteLink
	URL string `json:"url"`
}

// VoteResult is the answer to an accepted vote. Stats is set when results are visible to voters.
type VoteResult struct {
	Accepted bool              `json:"accepted"`
	Vote     models.Vote       `json:"vote"`
	Stats    *models.PollStats `json:"stats,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport used for every call.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRefreshTimeout bounds each credential refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// WithRetryPolicy sets the backoff used for idempotent reads that fail transiently.
func WithRetryPolicy(policy func() backoff.BackOff) Option {
	return func(c *Client) { c.retryPolicy = policy }
}

func defaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// Client calls the polls API on behalf of one session.
type Client struct {
	baseURL        string
	http           Doer
	logger         *zap.Logger
	refreshTimeout time.Duration
	retryPolicy    func() backoff.BackOff

	session   *Session
	refresher *RefreshCoordinator
	gateway   *RequestGateway
}

// NewClient creates a client whose session is persisted in store.
func NewClient(ctx context.Context, baseURL string, store CredentialStore, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      zap.NewNop(),
		retryPolicy: defaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	session, err := NewSession(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	c.session = session
	c.refresher = NewRefreshCoordinator(session, c.refreshCredential, c.refreshTimeout, c.logger)
	c.gateway = NewRequestGateway(session, c.refresher, c.http, c.logger)
	return c, nil
}

// Session returns the client's session.
func (c *Client) Session() *Session { return c.session }

// Gateway returns the authenticated request gateway, for endpoints without a typed method.
func (c *Client) Gateway() *RequestGateway { return c.gateway }

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// decode reads the response envelope into out, or returns the API error.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransientError{err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(env.Data, out)
}

// public sends an unauthenticated request.
func (c *Client) public(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{err: fmt.Errorf("http request failed: %w", err)}
	}
	return decode(resp, out)
}

// authed sends a request through the gateway.
func (c *Client) authed(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.gateway.Do(req)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// authedRead retries transient failures of an idempotent authenticated call.
func (c *Client) authedRead(ctx context.Context, path string, out any) error {
	op := func() error {
		err := c.authed(ctx, http.MethodGet, path, nil, out)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request", zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.retryPolicy(), ctx), notify)
}

// Login exchanges a username and password for a credential and starts the session.
func (c *Client) Login(ctx context.Context, username, password string) (*models.Credential, error) {
	var cred models.Credential
	err := c.public(ctx, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password}, &cred)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := c.session.begin(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return &cred, nil
}

// Refresh forces a credential refresh, joining one already in flight.
func (c *Client) Refresh(ctx context.Context) (*models.Credential, error) {
	return c.refresher.EnsureFresh(ctx, "")
}

// Logout revokes the refresh token server-side and clears the session. The local credential
// is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	cred, err := c.session.Credential(ctx)
	if err != nil {
		return err
	}
	var callErr error
	if cred != nil {
		callErr = c.public(ctx, http.MethodPost, "/auth/logout", map[string]string{"refresh": cred.RefreshToken}, nil)
	}
	if err := c.session.end(ctx, StateUnauthenticated); err != nil {
		return err
	}
	return callErr
}

func (c *Client) refreshCredential(ctx context.Context, refreshToken string) (*models.Credential, error) {
	var cred models.Credential
	if err := c.public(ctx, http.MethodPost, "/auth/refresh", map[string]string{"refresh": refreshToken}, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// IssueVoteLink issues one vote link for a poll the session owns. invitee may be nil.
func (c *Client) IssueVoteLink(ctx context.Context, pollID uuid.UUID, invitee *models.Invitee) (*IssuedLink, error) {
	var link IssuedLink
	body := map[string]any{}
	if invitee != nil {
		body["invitee"] = invitee
	}
	if err := c.authed(ctx, http.MethodPost, "/polls/"+pollID.String()+"/vote-links", body, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// IssueVoteLinksBulk issues one link per invitee.
func (c *Client) IssueVoteLinksBulk(ctx context.Context, pollID uuid.UUID, invitees []models.Invitee) ([]IssuedLink, error) {
	var out struct {
		Links []IssuedLink `json:"links"`
	}
	err := c.authed(ctx, http.MethodPost, "/polls/"+pollID.String()+"/vote-links/bulk", map[string]any{"invitees": invitees}, &out)
	if err != nil {
		return nil, err
	}
	return out.Links, nil
}

// SubmitVote casts a vote with a link token. It is not authenticated and never retried:
// rejections come back as *APIError with codes such as "already_voted" or "poll_closed".
func (c *Client) SubmitVote(ctx context.Context, token string, choiceID uuid.UUID) (*VoteResult, error) {
	var res VoteResult
	if err := c.public(ctx, http.MethodPost, "/vote/"+token, map[string]string{"choice_id": choiceID.String()}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPollStats returns the tally of a poll the session owns.
func (c *Client) GetPollStats(ctx context.Context, pollID uuid.UUID) (*models.PollStats, error) {
	var stats models.PollStats
	if err := c.authedRead(ctx, "/polls/"+pollID.String()+"/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
