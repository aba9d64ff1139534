package env

import (
	"testing"
	"time"
)

func TestHelpersFallBack(t *testing.T) {
	t.Setenv("CAL_TEST_INT", "nope")
	t.Setenv("CAL_TEST_DURATION", "-5s")
	t.Setenv("CAL_TEST_BOOL", "maybe")
	t.Setenv("CAL_TEST_STRING", "   ")

	if got := Int("CAL_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if got := Duration("CAL_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback 1s, got %s", got)
	}
	if got := Bool("CAL_TEST_BOOL", true); !got {
		t.Fatal("expected fallback true")
	}
	if got := String("CAL_TEST_STRING", "x"); got != "x" {
		t.Fatalf("expected blank value to fall back, got %q", got)
	}
}

func TestHelpersParse(t *testing.T) {
	t.Setenv("CAL_TEST_INT", "42")
	t.Setenv("CAL_TEST_DURATION", "90s")
	t.Setenv("CAL_TEST_BOOL", "false")

	if got := Int("CAL_TEST_INT", 0); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := Duration("CAL_TEST_DURATION", 0); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if got := Bool("CAL_TEST_BOOL", true); got {
		t.Fatal("expected false")
	}
}
