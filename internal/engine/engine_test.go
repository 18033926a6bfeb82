package engine_test

import (
	"context"
	"testing"
	"time"

	"lightspeed/internal/config"
	"lightspeed/internal/db"
	"lightspeed/internal/domain"
	"lightspeed/internal/engine"
	"lightspeed/internal/errs"
	"lightspeed/internal/events"
	"lightspeed/internal/migrate"
	"lightspeed/internal/quantity"
	"lightspeed/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.NewGame(ctx, "test"); err != nil {
		t.Fatalf("new game: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func (env testEnv) advanceClock(d time.Duration) {
	*env.Clock = env.Clock.Add(d)
}

func (env testEnv) view(t *testing.T) domain.View {
	t.Helper()
	v, err := env.Engine.View()
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return v
}

func (env testEnv) eventTypes(t *testing.T) map[string]int {
	t.Helper()
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{SaveID: env.Engine.SaveID(), Limit: 500})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	out := map[string]int{}
	for _, e := range evts {
		out[e.Type]++
	}
	return out
}

func TestBuildAndTickDeparts(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.Build(env.Ctx, domain.Combustion, quantity.FromInt(100))
	if err != nil || !out.OK || !out.Committed.Equal(quantity.FromInt(100)) {
		t.Fatalf("build: %v %+v", err, out)
	}
	if err := env.Engine.SetThrottle(env.Ctx, domain.Combustion, 100); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	env.advanceClock(3 * time.Second)
	rep, err := env.Engine.Tick(env.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !rep.Departed || rep.Steps != 3 {
		t.Fatalf("report = %+v", rep)
	}
	v := env.view(t)
	if !v.State.Rocket.Velocity.IsPositive() || !v.State.HorizonTime.Equal(quantity.FromInt(3)) {
		t.Fatalf("velocity %s horizon %s", v.State.Rocket.Velocity, v.State.HorizonTime)
	}
	if len(v.State.Research.Available) != 4 {
		t.Fatalf("research not seeded")
	}
	types := env.eventTypes(t)
	for _, want := range []string{events.TypeGameCreated, events.TypeEngineBuilt, events.TypeThrottleSet, events.TypeDeparted} {
		if types[want] != 1 {
			t.Fatalf("expected one %s event, got %v", want, types)
		}
	}
}

func TestInsufficientResourcesIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Engine.Build(env.Ctx, domain.Combustion, quantity.FromInt(1))
	if err != nil || !out.OK {
		t.Fatalf("first build: %v %+v", err, out)
	}
	// spend everything
	if _, err := env.Engine.Build(env.Ctx, domain.Combustion, quantity.FromInt(10_000)); err != nil {
		t.Fatal(err)
	}
	before := env.view(t).State.Rocket
	out, err = env.Engine.Build(env.Ctx, domain.Combustion, quantity.FromInt(1))
	if err != nil || out.OK {
		t.Fatalf("expected ok=false without error: %v %+v", err, out)
	}
	after := env.view(t).State.Rocket
	if !after.Material.Equal(before.Material) || !after.Engines[domain.Combustion].Count.Equal(before.Engines[domain.Combustion].Count) {
		t.Fatalf("failed build mutated state")
	}
}

func TestLockedFeatures(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Build(env.Ctx, domain.Fusion, quantity.One); !errs.Is(err, errs.TypeLocked) {
		t.Fatalf("fusion should be locked, got %v", err)
	}
	if _, err := env.Engine.Expand(env.Ctx, quantity.One); !errs.Is(err, errs.TypeLocked) {
		t.Fatalf("capture should be locked, got %v", err)
	}
	if err := env.Engine.SetEngineAutomation(env.Ctx, domain.Combustion, domain.ModeBuild, quantity.One); !errs.Is(err, errs.TypeLocked) {
		t.Fatalf("engine automation should be locked, got %v", err)
	}
	if err := env.Engine.SetEngineAutomation(env.Ctx, domain.Combustion, domain.ModeOff, quantity.One); err != nil {
		t.Fatalf("turning automation off is always allowed: %v", err)
	}
	if err := env.Engine.SetCaptureAutomation(env.Ctx, domain.ModeBuild, quantity.One); !errs.Is(err, errs.TypeValidation) {
		t.Fatalf("build is not a collector mode, got %v", err)
	}
	if _, err := env.Engine.Build(env.Ctx, domain.Combustion, quantity.FromInt(-2)); !errs.Is(err, errs.TypeValidation) {
		t.Fatalf("negative count should be a validation error, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetThrottle(env.Ctx, domain.Combustion, 100); err != nil {
		t.Fatal(err)
	}
	env.advanceClock(2 * time.Second)
	if _, err := env.Engine.Tick(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.ActivateTask(env.Ctx, "fuelCapture"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	want := env.view(t)
	if err := env.Engine.Save(env.Ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	other := engine.New(env.Engine.DB, config.Default())
	other.Now = env.Engine.Now
	if _, err := other.Load(env.Ctx, "test"); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := other.View()
	if err != nil {
		t.Fatal(err)
	}
	if !got.State.Rocket.Velocity.Equal(want.State.Rocket.Velocity) || !got.State.EarthTime.Equal(want.State.EarthTime) {
		t.Fatalf("state drifted across save/load")
	}
	if got.State.Research.Active["fuelCapture"] == nil || !got.State.Progression.Departed {
		t.Fatalf("research or progression lost")
	}
	if got.State.LastUpdate != want.State.LastUpdate {
		t.Fatalf("last update %d vs %d", got.State.LastUpdate, want.State.LastUpdate)
	}
}

func TestCorruptSaveFallsBackToDefaults(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE saves SET state_json='{"rocket":{"fuel":"lots"}}'`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Load(env.Ctx, "test"); err != nil {
		t.Fatalf("load should recover, got %v", err)
	}
	v := env.view(t)
	if !v.State.Rocket.Fuel.Equal(quantity.FromInt(1_000_000)) {
		t.Fatalf("expected default fuel, got %s", v.State.Rocket.Fuel)
	}
	if env.eventTypes(t)[events.TypeLoadFailed] != 1 {
		t.Fatalf("load failure not recorded")
	}
}

func TestListenersReceiveViews(t *testing.T) {
	env := newTestEnv(t)
	var got []domain.View
	cancel := env.Engine.Subscribe(func(v domain.View) { got = append(got, v) })
	if err := env.Engine.SetThrottle(env.Ctx, domain.Combustion, 40); err != nil {
		t.Fatal(err)
	}
	env.advanceClock(time.Second)
	if _, err := env.Engine.Tick(env.Ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	env.advanceClock(time.Second)
	if _, err := env.Engine.Tick(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	// views are copies
	got[1].State.Rocket.Engines[domain.Combustion].Count = quantity.Zero
	if env.view(t).State.Rocket.Engines[domain.Combustion].Count.IsZero() {
		t.Fatalf("listener mutated the live state")
	}
}

func TestAdvanceRunsResearchToCompletion(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetThrottle(env.Ctx, domain.Combustion, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Advance(env.Ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.ActivateTask(env.Ctx, "combustionEfficiency"); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.Advance(env.Ctx, 2*time.Minute)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(rep.Completed) != 1 || rep.Completed[0] != "combustionEfficiency" {
		t.Fatalf("completed = %v", rep.Completed)
	}
	v := env.view(t)
	if v.State.Research.Completed["combustionEfficiency"] == nil || v.State.Research.Available["combustionEfficiency-2"] == nil {
		t.Fatalf("research partitions not updated")
	}
	types := env.eventTypes(t)
	if types[events.TypeTaskCompleted] != 1 || types[events.TypeOfflineAdvanced] != 2 {
		t.Fatalf("events = %v", types)
	}
}

func TestResetStartsOver(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Build(env.Ctx, domain.Combustion, quantity.FromInt(5)); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Reset(env.Ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if c := env.view(t).State.Rocket.Engines[domain.Combustion].Count; !c.Equal(quantity.FromInt(10)) {
		t.Fatalf("count after reset = %s", c)
	}
}
