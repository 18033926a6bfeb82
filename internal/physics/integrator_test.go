package physics_test

import (
	"testing"
	"time"

	"lightspeed/internal/config"
	"lightspeed/internal/domain"
	"lightspeed/internal/economy"
	"lightspeed/internal/physics"
	"lightspeed/internal/quantity"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func newTestEnv(t *testing.T) (physics.Integrator, *domain.State) {
	t.Helper()
	cfg := config.Default()
	st := cfg.NewState(epoch)
	in := physics.Integrator{
		Research:  cfg.ResearchService(),
		Threshold: cfg.Integrator.Threshold,
		MaxSteps:  cfg.Integrator.MaxSteps,
	}
	return in, &st
}

func relDiff(a, b quantity.Quantity) float64 {
	d := a.Sub(b).Float64()
	if d < 0 {
		d = -d
	}
	return d / b.Float64()
}

func TestLorentz(t *testing.T) {
	if !physics.Lorentz(quantity.Zero).Equal(quantity.One) {
		t.Fatalf("lorentz(0) must be exactly 1")
	}
	half := physics.Lorentz(quantity.C.Div(quantity.FromInt(2)))
	if f := half.Float64(); f < 1.1547 || f > 1.1548 {
		t.Fatalf("lorentz(c/2) = %s", half)
	}
	slow := physics.Lorentz(quantity.FromInt(1))
	if slow.LessThan(quantity.One) || slow.Sub(quantity.One).GreaterThan(quantity.MustParse("1e-16")) {
		t.Fatalf("lorentz near zero velocity = %s", slow)
	}
	at := physics.Lorentz(quantity.C)
	if !at.IsPositive() || at.LessThan(quantity.One) {
		t.Fatalf("lorentz(c) should clamp to a finite value, got %s", at)
	}
}

func TestSingleTickFromRest(t *testing.T) {
	in, st := newTestEnv(t)
	economy.SetThrottle(&st.Rocket, domain.Combustion, 100)
	fuel := st.Rocket.Fuel
	if _, err := in.Process(st, quantity.One); err != nil {
		t.Fatalf("process: %v", err)
	}
	r := st.Rocket
	if !r.Velocity.IsPositive() || !r.Distance.IsPositive() {
		t.Fatalf("velocity %s distance %s", r.Velocity, r.Distance)
	}
	if v := r.Velocity.Float64(); v < 300 || v > 350 {
		t.Fatalf("velocity after one second = %s", r.Velocity)
	}
	burned := fuel.Sub(r.Fuel)
	if !burned.IsPositive() || burned.GreaterThan(quantity.FromInt(300)) {
		t.Fatalf("fuel burned = %s", burned)
	}
}

func TestNoAccrualBeforeDeparture(t *testing.T) {
	in, st := newTestEnv(t)
	rep, err := in.Tick(st, epoch.Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Departed || st.Progression.Departed || !st.HorizonTime.IsZero() {
		t.Fatalf("idle craft must not accrue time")
	}
	if len(st.Research.Available) != 0 {
		t.Fatalf("research must not be seeded before departure")
	}
	economy.SetThrottle(&st.Rocket, domain.Combustion, 50)
	rep, err = in.Tick(st, epoch.Add(7*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Departed || !st.Progression.Departed {
		t.Fatalf("first positive thrust should depart")
	}
	if len(st.Research.Available) != 4 {
		t.Fatalf("seed tasks = %d", len(st.Research.Available))
	}
	if !st.HorizonTime.Equal(quantity.FromInt(2)) {
		t.Fatalf("horizon time = %s", st.HorizonTime)
	}
	if st.LastUpdate != epoch.Add(7*time.Second).UnixMilli() {
		t.Fatalf("last update not advanced")
	}
	// throttling down never returns to idle
	economy.SetThrottle(&st.Rocket, domain.Combustion, 0)
	if _, err := in.Tick(st, epoch.Add(8*time.Second)); err != nil {
		t.Fatal(err)
	}
	if !st.Progression.Departed || !st.HorizonTime.Equal(quantity.FromInt(3)) {
		t.Fatalf("departed craft keeps accruing: %s", st.HorizonTime)
	}
}

func TestClockGoingBackwardsIsIgnored(t *testing.T) {
	in, st := newTestEnv(t)
	st.Progression.Departed = true
	if _, err := in.Tick(st, epoch.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !st.HorizonTime.IsZero() || st.LastUpdate != epoch.UnixMilli() {
		t.Fatalf("negative delta must not move time: %s %d", st.HorizonTime, st.LastUpdate)
	}
}

func TestEarthTimeDilates(t *testing.T) {
	in, st := newTestEnv(t)
	st.Progression.Departed = true
	st.Rocket.Velocity = quantity.C.Div(quantity.FromInt(2))
	if _, err := in.Process(st, quantity.FromInt(10)); err != nil {
		t.Fatal(err)
	}
	if !st.HorizonTime.Equal(quantity.FromInt(10)) {
		t.Fatalf("horizon = %s", st.HorizonTime)
	}
	want := st.Lorentz.Mul(quantity.FromInt(10))
	if !st.EarthTime.Equal(want) || !st.EarthTime.GreaterThan(st.HorizonTime) {
		t.Fatalf("earth = %s want %s", st.EarthTime, want)
	}
}

func TestSubStepsConverge(t *testing.T) {
	run := func(threshold int64) (*domain.State, physics.Report) {
		in, st := newTestEnv(t)
		in.Threshold = quantity.FromInt(threshold)
		economy.SetThrottle(&st.Rocket, domain.Combustion, 100)
		rep, err := in.Step(st, quantity.FromInt(10_000))
		if err != nil {
			t.Fatal(err)
		}
		return st, rep
	}
	coarse, rc := run(100)
	fine, rf := run(50)
	if rc.Steps != 100 || rf.Steps != 200 {
		t.Fatalf("steps = %d / %d", rc.Steps, rf.Steps)
	}
	if d := relDiff(coarse.Rocket.Velocity, fine.Rocket.Velocity); d > 1e-2 {
		t.Fatalf("velocity diverges: %s vs %s", coarse.Rocket.Velocity, fine.Rocket.Velocity)
	}
	if d := relDiff(coarse.Rocket.Distance, fine.Rocket.Distance); d > 1e-2 {
		t.Fatalf("distance diverges: %s vs %s", coarse.Rocket.Distance, fine.Rocket.Distance)
	}
	if !coarse.HorizonTime.Equal(quantity.FromInt(10_000)) || !fine.HorizonTime.Equal(quantity.FromInt(10_000)) {
		t.Fatalf("sub-steps must cover the whole delta")
	}
}

func TestOneStepAgreesWithHundredSteps(t *testing.T) {
	run := func(steps int) *domain.State {
		in, st := newTestEnv(t)
		st.Rocket.Material = quantity.FromInt(1_000_000_000)
		st.Rocket.Fuel = quantity.FromInt(10_000_000)
		st.Rocket.Velocity = quantity.FromInt(1000)
		economy.SetThrottle(&st.Rocket, domain.Combustion, 100)
		delta := quantity.FromInt(10_000)
		if steps == 1 {
			if _, err := in.Process(st, delta); err != nil {
				t.Fatal(err)
			}
			return st
		}
		in.Threshold = delta.Div(quantity.FromInt(int64(steps)))
		rep, err := in.Step(st, delta)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Steps != steps {
			t.Fatalf("steps = %d", rep.Steps)
		}
		return st
	}
	one, hundred := run(1), run(100)
	if d := relDiff(one.Rocket.Velocity, hundred.Rocket.Velocity); d > 1e-2 {
		t.Fatalf("velocity: %s vs %s", one.Rocket.Velocity, hundred.Rocket.Velocity)
	}
	if d := relDiff(one.Rocket.Distance, hundred.Rocket.Distance); d > 5e-2 {
		t.Fatalf("distance: %s vs %s", one.Rocket.Distance, hundred.Rocket.Distance)
	}
	if !one.Rocket.Fuel.Equal(hundred.Rocket.Fuel) {
		t.Fatalf("fuel burned differs: %s vs %s", one.Rocket.Fuel, hundred.Rocket.Fuel)
	}
}

func TestCaptureScalesWithDistanceTravelled(t *testing.T) {
	in, st := newTestEnv(t)
	r := &st.Rocket
	r.Velocity = quantity.FromInt(1000)
	r.Fuel = quantity.Zero
	r.Capture.Area = quantity.FromInt(4)
	r.Capture.Rate = quantity.MustParse("0.000001")
	if _, err := in.Process(st, quantity.FromInt(10)); err != nil {
		t.Fatal(err)
	}
	if !r.Distance.IsPositive() {
		t.Fatalf("distance = %s", r.Distance)
	}
	want := r.Capture.Area.Mul(r.Capture.Rate).Mul(r.Distance)
	if !r.Fuel.Equal(want) {
		t.Fatalf("captured %s, want area x rate x distance = %s", r.Fuel, want)
	}
}

func TestVelocityForClampsAtBoundaries(t *testing.T) {
	m := quantity.FromInt(1000)
	fallback := quantity.FromInt(7)
	mc2 := m.Mul(quantity.CSquared)
	cases := []struct {
		name string
		k, m quantity.Quantity
		want quantity.Quantity
	}{
		{"massless keeps velocity", quantity.One, quantity.Zero, fallback},
		{"zero energy is rest", quantity.Zero, m, quantity.Zero},
		{"ratio below zero", mc2.Mul(quantity.FromInt(-2)), m, quantity.C.Sub(quantity.Epsilon)},
		{"ratio exactly zero", mc2.Neg(), m, quantity.C.Sub(quantity.Epsilon)},
		{"negative radicand", mc2.Div(quantity.FromInt(-2)), m, quantity.Zero},
	}
	for _, tc := range cases {
		if got := physics.VelocityFor(tc.k, tc.m, fallback); !got.Equal(tc.want) {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
	huge := physics.VelocityFor(mc2.Mul(quantity.MustParse("1e90")), m, fallback)
	if huge.GreaterThanOrEqual(quantity.C) || huge.LessThan(quantity.C.Sub(quantity.One)) {
		t.Fatalf("ultra-relativistic velocity = %s", huge)
	}
}

func TestLargeDeltaClampsToMaxSteps(t *testing.T) {
	in, st := newTestEnv(t)
	in.MaxSteps = 10
	st.Progression.Departed = true
	rep, err := in.Step(st, quantity.MustParse("1000.5"))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Steps != 10 {
		t.Fatalf("steps = %d", rep.Steps)
	}
	if !st.HorizonTime.Equal(quantity.MustParse("1000.5")) {
		t.Fatalf("horizon = %s", st.HorizonTime)
	}
}

func TestAutomationBatchesElapsedIntervals(t *testing.T) {
	in, st := newTestEnv(t)
	st.Rocket.Engines[domain.Combustion].Automation = domain.Automation{Mode: domain.ModeBuild, Interval: quantity.One}
	rep, err := in.Process(st, quantity.MustParse("5.5"))
	if err != nil {
		t.Fatal(err)
	}
	if c := st.Rocket.Engines[domain.Combustion].Count; !c.Equal(quantity.FromInt(15)) {
		t.Fatalf("count = %s", c)
	}
	if timer := st.Rocket.Engines[domain.Combustion].Automation.Timer; !timer.Equal(quantity.MustParse("0.5")) {
		t.Fatalf("timer = %s", timer)
	}
	if len(rep.Actions) != 1 || rep.Actions[0].Target != "combustion" || !rep.Actions[0].Committed.Equal(quantity.FromInt(5)) {
		t.Fatalf("actions = %+v", rep.Actions)
	}

	st.Rocket.Capture.Automation = domain.Automation{Mode: domain.ModeExpand, Interval: quantity.FromInt(2)}
	if _, err := in.Process(st, quantity.FromInt(4)); err != nil {
		t.Fatal(err)
	}
	if !st.Rocket.Capture.Count.Equal(quantity.FromInt(2)) {
		t.Fatalf("capture count = %s", st.Rocket.Capture.Count)
	}
}

func TestVelocityStaysBelowC(t *testing.T) {
	in, st := newTestEnv(t)
	e := st.Rocket.Engines[domain.Antimatter]
	e.Count = quantity.FromInt(1_000_000)
	st.Rocket.Fuel = quantity.MustParse("1e13")
	economy.SetThrottle(&st.Rocket, domain.Antimatter, 100)
	for i := 0; i < 25; i++ {
		if _, err := in.Process(st, quantity.FromInt(1000)); err != nil {
			t.Fatal(err)
		}
		v := st.Rocket.Velocity
		if v.IsNegative() || v.GreaterThanOrEqual(quantity.C) {
			t.Fatalf("velocity out of range: %s", v)
		}
		if st.Lorentz.LessThan(quantity.One) {
			t.Fatalf("lorentz below 1: %s", st.Lorentz)
		}
	}
	if relDiff(st.Rocket.Velocity, quantity.C) > 1e-3 {
		t.Fatalf("sustained thrust should approach c, got %s", st.Rocket.Velocity)
	}
}

func TestResearchAccruesEarthTime(t *testing.T) {
	in, st := newTestEnv(t)
	economy.SetThrottle(&st.Rocket, domain.Combustion, 100)
	if _, err := in.Step(st, quantity.Zero); err != nil {
		t.Fatal(err)
	}
	if err := in.Research.SetActive(st, "fuelCapture"); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Step(st, quantity.FromInt(3)); err != nil {
		t.Fatal(err)
	}
	got := st.Research.Active["fuelCapture"].Progress
	if !got.Equal(st.EarthTime) {
		t.Fatalf("single task progress %s should equal earth time %s", got, st.EarthTime)
	}
}
