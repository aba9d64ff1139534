package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Session is the signed-in state of one client.
type Session struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Authenticator is the account API a client signs in through. *Service
// implements it.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (AuthResponse, error)
	SignIn(ctx context.Context, email, password string) (AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (AuthResponse, error)
	SignOut(ctx context.Context, refreshToken string) error
}

// SessionHolder owns the current session of a client and tells listeners
// when it changes. A nil session means signed out.
type SessionHolder struct {
	auth Authenticator

	mu        sync.Mutex
	current   *Session
	listeners map[int]func(*Session)
	nextID    int
}

func NewSessionHolder(a Authenticator) *SessionHolder {
	return &SessionHolder{auth: a, listeners: map[int]func(*Session){}}
}

// GetSession returns a copy of the current session, or nil when signed out.
func (h *SessionHolder) GetSession() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil
	}
	s := *h.current
	return &s
}

// OnSessionChange registers fn for every sign-in, refresh and sign-out.
func (h *SessionHolder) OnSessionChange(fn func(*Session)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *SessionHolder) SignIn(ctx context.Context, email, password string) (*Session, error) {
	resp, err := h.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return h.set(resp), nil
}

func (h *SessionHolder) SignUp(ctx context.Context, email, password string) (*Session, error) {
	resp, err := h.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return h.set(resp), nil
}

// Refresh swaps the session for a fresh token pair. A rejected refresh
// token signs the client out.
func (h *SessionHolder) Refresh(ctx context.Context) (*Session, error) {
	cur := h.GetSession()
	if cur == nil {
		return nil, ErrRefreshTokenMissing
	}
	resp, err := h.auth.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			h.clear()
		}
		return nil, err
	}
	return h.set(resp), nil
}

// SignOut revokes the refresh token and clears the session. The local
// session is cleared even when revocation fails.
func (h *SessionHolder) SignOut(ctx context.Context) error {
	cur := h.GetSession()
	if cur == nil {
		return nil
	}
	err := h.auth.SignOut(ctx, cur.RefreshToken)
	h.clear()
	return err
}

func (h *SessionHolder) set(resp AuthResponse) *Session {
	s := &Session{
		UserID:       resp.UserID,
		Email:        resp.Email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}
	h.publish(s)
	out := *s
	return &out
}

func (h *SessionHolder) clear() {
	h.publish(nil)
}

func (h *SessionHolder) publish(s *Session) {
	h.mu.Lock()
	h.current = s
	fns := make([]func(*Session), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		if s == nil {
			fn(nil)
			continue
		}
		cp := *s
		fn(&cp)
	}
}
