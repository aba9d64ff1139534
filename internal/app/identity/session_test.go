package identity

import (
	"context"
	"errors"
	"testing"
)

func TestSessionHolder_Lifecycle(t *testing.T) {
	svc := newTestService(newFakeRepo())
	h := NewSessionHolder(svc)

	if h.GetSession() != nil {
		t.Fatal("expected no session before sign-in")
	}

	var events []string
	unsubscribe := h.OnSessionChange(func(s *Session) {
		if s == nil {
			events = append(events, "signed-out")
			return
		}
		events = append(events, "signed-in:"+s.Email)
	})

	if _, err := h.SignUp(context.Background(), "alice@example.com", "password123"); err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	first := h.GetSession()
	if first == nil || first.UserID == "" {
		t.Fatalf("expected session, got %+v", first)
	}

	refreshed, err := h.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if refreshed.RefreshToken == first.RefreshToken {
		t.Fatal("expected rotated refresh token")
	}

	if err := h.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
	if h.GetSession() != nil {
		t.Fatal("expected session cleared")
	}

	want := []string{"signed-in:alice@example.com", "signed-in:alice@example.com", "signed-out"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("unexpected events %v", events)
		}
	}

	unsubscribe()
	if _, err := h.SignIn(context.Background(), "alice@example.com", "password123"); err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if len(events) != len(want) {
		t.Fatal("expected unsubscribed listener to stay quiet")
	}
}

func TestSessionHolder_FailedSignInKeepsState(t *testing.T) {
	h := NewSessionHolder(newTestService(newFakeRepo()))
	calls := 0
	h.OnSessionChange(func(*Session) { calls++ })

	if _, err := h.SignIn(context.Background(), "ghost@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if calls != 0 || h.GetSession() != nil {
		t.Fatal("expected no session change")
	}
}

func TestSessionHolder_RejectedRefreshSignsOut(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	h := NewSessionHolder(svc)
	s, err := h.SignUp(context.Background(), "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if err := svc.SignOut(context.Background(), s.RefreshToken); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}

	if _, err := h.Refresh(context.Background()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if h.GetSession() != nil {
		t.Fatal("expected session cleared after rejected refresh")
	}
}
