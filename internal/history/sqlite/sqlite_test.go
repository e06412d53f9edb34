package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/botvisr/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	base := time.Now().Add(-time.Minute).UTC()
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: base, BotID: "b1", Name: "alpha", Kind: "telegram_bot", PID: 100, Status: "running"},
		{Type: history.EventCrash, OccurredAt: base.Add(time.Second), BotID: "b1", Name: "alpha", Kind: "telegram_bot", PID: 100, Status: "crashed", Error: "exit status 1"},
		{Type: history.EventStart, OccurredAt: base.Add(2 * time.Second), BotID: "b2", Name: "beta", Kind: "discord_bot", PID: 200, Status: "running"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	got, err := sink.Events(ctx, "b1", 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for b1, got %d", len(got))
	}
	if got[0].Type != history.EventCrash || got[0].Error != "exit status 1" {
		t.Fatalf("newest event should be the crash, got %+v", got[0])
	}
	if got[1].Type != history.EventStart || got[1].Error != "" || got[1].PID != 100 {
		t.Fatalf("unexpected start event %+v", got[1])
	}

	limited, err := sink.Events(ctx, "b1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit not applied: %d %v", len(limited), err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("sqlite://"); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
