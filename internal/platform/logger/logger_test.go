package logger

import "testing"

func TestRedact_MasksSecretKeys(t *testing.T) {
	got := redact([]any{"list_id", "l1", "api_key", "k-123", "Authorization", "Bearer x"})
	if got[1] != "l1" {
		t.Fatalf("list_id should pass through, got %v", got[1])
	}
	if got[3] != "[REDACTED]" || got[5] != "[REDACTED]" {
		t.Fatalf("expected secrets redacted, got %v", got)
	}
}

func TestRedact_DoesNotMutateInput(t *testing.T) {
	in := []any{"token", "abc"}
	_ = redact(in)
	if in[1] != "abc" {
		t.Fatalf("input slice mutated: %v", in)
	}
}

func TestNop(t *testing.T) {
	log := Nop().With("component", "test")
	log.Info("hello", "k", "v")
	log.Sync()
}
