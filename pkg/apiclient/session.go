package apiclient

import (
	"context"
	"sync"

	"github.com/aura-polls/backend/internal/models"
)

// SessionState is the client's view of its authentication.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateAuthenticated   SessionState = "authenticated"
	StateRefreshing      SessionState = "refreshing"
	StateExpired         SessionState = "expired"
)

// Session binds a CredentialStore to the state machine driven by login, refresh and logout.
// State is only changed from inside this package.
type Session struct {
	store CredentialStore

	mu    sync.RWMutex
	state SessionState
	subs  []func(SessionState)
}

// NewSession loads any persisted credential: a stored credential resumes as Authenticated.
// The session then follows the store, so a Clear or Set by another holder of it is seen here.
func NewSession(ctx context.Context, store CredentialStore) (*Session, error) {
	s := &Session{store: store, state: StateUnauthenticated}
	cred, err := store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		s.state = StateAuthenticated
	}
	store.Watch(s.observe)
	return s, nil
}

// observe applies a credential change made through the store. A refresh in flight decides
// the outcome itself, and an expired session only comes back with a new credential.
func (s *Session) observe(cred *models.Credential) {
	if cred == nil {
		s.transitionFrom(StateAuthenticated, StateUnauthenticated)
		return
	}
	s.transitionFrom(StateUnauthenticated, StateAuthenticated)
	s.transitionFrom(StateExpired, StateAuthenticated)
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn for state changes.
func (s *Session) Subscribe(fn func(SessionState)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Credential returns the stored credential, or nil.
func (s *Session) Credential(ctx context.Context) (*models.Credential, error) {
	return s.store.Get(ctx)
}

func (s *Session) transition(to SessionState) {
	s.mu.Lock()
	s.setLocked(to)
}

// transitionFrom moves to the target state only when the session is currently in from.
func (s *Session) transitionFrom(from, to SessionState) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.setLocked(to)
}

// setLocked is called with mu held and releases it before notifying subscribers.
func (s *Session) setLocked(to SessionState) {
	if s.state == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	subs := append([]func(SessionState){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(to)
	}
}

func (s *Session) begin(ctx context.Context, cred models.Credential) error {
	if err := s.store.Set(ctx, cred); err != nil {
		return err
	}
	s.transition(StateAuthenticated)
	return nil
}

// end moves to final before clearing, so the store's nil notification finds the session
// already settled.
func (s *Session) end(ctx context.Context, final SessionState) error {
	s.transition(final)
	return s.store.Clear(ctx)
}
