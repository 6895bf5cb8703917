package env

import (
	"testing"
	"time"
)

func TestString_Fallback(t *testing.T) {
	t.Setenv("LISTSYNC_TEST_STRING", "")
	if got := String("LISTSYNC_TEST_STRING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("LISTSYNC_TEST_STRING", "value")
	if got := String("LISTSYNC_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestDuration_RejectsNonPositive(t *testing.T) {
	t.Setenv("LISTSYNC_TEST_DURATION", "-5s")
	if got := Duration("LISTSYNC_TEST_DURATION", 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected fallback for negative duration, got %s", got)
	}
	t.Setenv("LISTSYNC_TEST_DURATION", "250ms")
	if got := Duration("LISTSYNC_TEST_DURATION", 30*time.Second); got != 250*time.Millisecond {
		t.Fatalf("unexpected duration: %s", got)
	}
}

func TestInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("LISTSYNC_TEST_INT", "abc")
	if got := Int("LISTSYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"ON", true},
		{"0", false},
		{"no", false},
		{"", true},
		{"maybe", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("LISTSYNC_TEST_BOOL", tt.raw)
			if got := Bool("LISTSYNC_TEST_BOOL", true); got != tt.want {
				t.Fatalf("Bool(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
