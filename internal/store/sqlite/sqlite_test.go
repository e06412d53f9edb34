package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	storetest.Run(t, db)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.db")
	ctx := context.Background()

	db, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	rec := bot.Record{Name: "persist", Kind: bot.KindDiscordBot}
	if err := db.Create(ctx, &rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.UpdateState(ctx, rec.ID, bot.State{Status: bot.StatusRunning, ProcessID: 99}); err != nil {
		t.Fatalf("update: %v", err)
	}
	_ = db.Close()

	db, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema again: %v", err)
	}
	got, err := db.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != bot.StatusRunning || got.ProcessID != 99 {
		t.Fatalf("state lost across reopen: %+v", got)
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigNumbersKeepTheirForm(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	rec := bot.Record{Name: "nums", Kind: bot.KindTelegramUserbot,
		Config: map[string]any{"api_id": json.Number("12345"), "ratio": json.Number("1.0")}}
	if err := db.Create(ctx, &rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := db.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	env := got.EnvConfig()
	if env["API_ID"] != "12345" || env["RATIO"] != "1.0" {
		t.Fatalf("config numbers changed form: %v", env)
	}
}
