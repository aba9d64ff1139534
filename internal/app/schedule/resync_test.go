package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dragcal/project/internal/logging"
)

type countingReloader struct {
	calls    atomic.Int32
	triggers chan string
}

func (r *countingReloader) Reload(_ context.Context, trigger string) error {
	r.calls.Add(1)
	select {
	case r.triggers <- trigger:
	default:
	}
	return nil
}

func TestNewResyncer_RejectsBadSpec(t *testing.T) {
	if _, err := NewResyncer("every so often", logging.Discard()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResyncer_Next(t *testing.T) {
	rs, err := NewResyncer("@every 5m", logging.Discard())
	if err != nil {
		t.Fatalf("NewResyncer error: %v", err)
	}
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	if got := rs.Next(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected next run %s", got)
	}
}

func TestResyncer_ReloadsRegisteredStores(t *testing.T) {
	rs, err := NewResyncer("@every 1s", logging.Discard())
	if err != nil {
		t.Fatalf("NewResyncer error: %v", err)
	}
	r := &countingReloader{triggers: make(chan string, 1)}
	remove := rs.Add(r, "test")
	rs.Start()
	defer rs.Stop()

	select {
	case trigger := <-r.triggers:
		if trigger != TriggerResync {
			t.Fatalf("unexpected trigger %q", trigger)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for resync")
	}
	remove()
}
