package client

import (
	"context"
	"sync"

	"github.com/avieira/authgate/internal/domain/user"
)

// State is the explicit session lifecycle. Loading exists so consumers can
// hold back interactive UI until the startup check against /me settles,
// instead of flashing an unauthenticated view.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Session mirrors the server's idea of "current user" on the client side.
// It is updated optimistically from login/register responses and refreshed
// authoritatively once at startup via Bootstrap.
type Session struct {
	api *Client

	mu      sync.RWMutex
	state   State
	current *user.Public
	subs    []func(State, *user.Public)
}

func NewSession(api *Client) *Session {
	return &Session{
		api:   api,
		state: StateUnauthenticated,
	}
}

// OnChange registers a callback fired after every state transition.
// Callbacks run outside the session lock.
func (s *Session) OnChange(fn func(State, *user.Public)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) CurrentUser() (user.Public, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return user.Public{}, false
	}
	return *s.current, true
}

// Bootstrap performs the one authoritative refresh: ask the server who the
// held cookie belongs to. Any failure settles to unauthenticated; the error
// is returned for logging but needs no handling beyond that.
func (s *Session) Bootstrap(ctx context.Context) error {
	s.transition(StateLoading, nil)

	u, err := s.api.Profile(ctx)
	if err != nil {
		s.transition(StateUnauthenticated, nil)
		return err
	}

	s.transition(StateAuthenticated, &u)
	return nil
}

// Login authenticates and adopts the user from the response body directly,
// with no extra round trip.
func (s *Session) Login(ctx context.Context, email, password string) error {
	u, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	s.transition(StateAuthenticated, &u)
	return nil
}

func (s *Session) Register(ctx context.Context, email, password, name string) error {
	u, err := s.api.Register(ctx, email, password, name)
	if err != nil {
		return err
	}

	s.transition(StateAuthenticated, &u)
	return nil
}

// Logout tells the server best-effort, then clears local state regardless
// of the network outcome: locally, logout always succeeds.
func (s *Session) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)

	s.transition(StateUnauthenticated, nil)

	return err
}

func (s *Session) transition(state State, u *user.Public) {
	s.mu.Lock()
	s.state = state
	s.current = u
	subs := make([]func(State, *user.Public), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state, u)
	}
}
