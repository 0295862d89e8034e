package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vgpt/internal/dialog"
	"vgpt/internal/middleware"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "audit", "turns.db"), "llama3.2:1b")
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRecordTurnAndReadSession(t *testing.T) {
	log := openTestLog(t)
	ctx := middleware.WithRequestID(context.Background(), "req-1")

	records := []dialog.TurnRecord{
		{SessionID: "s1", UserText: "hello", Reply: "hi there", Outcome: dialog.OutcomeGenerated, Duration: 120 * time.Millisecond},
		{SessionID: "s1", UserText: "???", Reply: "Hmm...", Outcome: dialog.OutcomeFallback},
		{SessionID: "s2", UserText: "x", Outcome: dialog.OutcomeError, Err: errors.New("backend down")},
	}
	for _, rec := range records {
		if err := log.RecordTurn(ctx, rec); err != nil {
			t.Fatalf("record turn: %v", err)
		}
	}

	entries, err := log.Session(context.Background(), "s1")
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.UserText != "hello" || first.Reply != "hi there" || first.Outcome != "generated" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if first.RequestID != "req-1" || first.Model != "llama3.2:1b" {
		t.Fatalf("unexpected metadata: %+v", first)
	}
	if first.Duration != 120*time.Millisecond {
		t.Fatalf("unexpected duration: %s", first.Duration)
	}

	failed, err := log.Session(context.Background(), "s2")
	if err != nil || len(failed) != 1 || failed[0].Error != "backend down" {
		t.Fatalf("unexpected error entry: %+v, %v", failed, err)
	}

	n, err := log.Count(context.Background(), dialog.OutcomeFallback)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 fallback, got %d, %v", n, err)
	}
}
