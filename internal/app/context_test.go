package app_test

import (
	"context"
	"testing"
	"time"

	"lightspeed/internal/app"
	"lightspeed/internal/config"
	"lightspeed/internal/db"
	"lightspeed/internal/engine"
	"lightspeed/internal/migrate"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return eng
}

func TestResolveSaveCreatesDefault(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	s, err := app.ResolveSave(ctx, eng, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Name != app.DefaultSaveName || eng.SaveID() != s.ID {
		t.Fatalf("unexpected save %+v", s)
	}
	again, err := app.ResolveSave(ctx, eng, "")
	if err != nil || again.ID != s.ID {
		t.Fatalf("single save should be reused: %v %+v", err, again)
	}
}

func TestResolveSaveNeedsOverrideWithManySaves(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	if _, err := eng.NewGame(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	beta, err := eng.NewGame(ctx, "beta")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.ResolveSave(ctx, eng, ""); err == nil {
		t.Fatalf("expected ambiguity error")
	}
	s, err := app.ResolveSave(ctx, eng, "beta")
	if err != nil || s.ID != beta.ID {
		t.Fatalf("override by name: %v %+v", err, s)
	}
}
