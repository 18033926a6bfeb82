// Package physics advances the simulation: relativistic velocity under thrust,
// fuel capture and burn, automation timers, the two time references and
// research progress.
package physics

import (
	"time"

	"lightspeed/internal/domain"
	"lightspeed/internal/economy"
	"lightspeed/internal/quantity"
	"lightspeed/internal/research"
)

type Q = quantity.Quantity

var two = quantity.FromInt(2)

// Integrator is stateless; everything it mutates lives in the domain.State it is handed.
type Integrator struct {
	Research *research.Service
	// Threshold is the largest simulated delta integrated in one step.
	Threshold Q
	// MaxSteps bounds the sub-steps of a single Step call.
	MaxSteps int
}

// Action is an automation batch dispatched during a tick.
type Action struct {
	Target    string                `json:"target"`
	Mode      domain.AutomationMode `json:"mode"`
	Batches   int                   `json:"batches"`
	Requested Q                     `json:"requested"`
	Committed Q                     `json:"committed"`
	Failed    int                   `json:"failed"`
}

// Report summarises one Tick or Step.
type Report struct {
	Delta     Q              `json:"delta"`
	Steps     int            `json:"steps"`
	Departed  bool           `json:"departed"`
	Completed []string       `json:"completed,omitempty"`
	Actions   []Action       `json:"actions,omitempty"`
	Derived   domain.Derived `json:"derived"`
}

func (r *Report) record(a Action) {
	for i := range r.Actions {
		if r.Actions[i].Target == a.Target && r.Actions[i].Mode == a.Mode {
			r.Actions[i].Batches += a.Batches
			r.Actions[i].Requested = r.Actions[i].Requested.Add(a.Requested)
			r.Actions[i].Committed = r.Actions[i].Committed.Add(a.Committed)
			r.Actions[i].Failed += a.Failed
			return
		}
	}
	r.Actions = append(r.Actions, a)
}

// Lorentz returns 1/√(1 − v²/c²). The radicand is clamped to Epsilon so
// velocities at or above c stay finite.
func Lorentz(v Q) Q {
	r := quantity.One.Sub(v.Mul(v).Div(quantity.CSquared))
	if r.LessThan(quantity.Epsilon) {
		r = quantity.Epsilon
	}
	return quantity.One.Div(r.Sqrt())
}

// Tick advances the state to now. The wall-clock delta since LastUpdate is
// scaled by TimeUnit; a clock that went backwards yields a zero delta. The
// first tick of a fresh state only records the timestamp.
func (in Integrator) Tick(st *domain.State, now time.Time) (Report, error) {
	ms := now.UnixMilli()
	delta := quantity.Zero
	if st.LastUpdate > 0 && ms > st.LastUpdate {
		delta = quantity.FromInt(ms - st.LastUpdate).Mul(quantity.TimeUnit)
	}
	rep, err := in.Step(st, delta)
	if ms > st.LastUpdate {
		st.LastUpdate = ms
	}
	return rep, err
}

// Step handles departure and integrates delta simulated seconds, split into
// equal sub-steps no longer than Threshold and at most MaxSteps of them.
func (in Integrator) Step(st *domain.State, delta Q) (Report, error) {
	rep := Report{Delta: delta}
	derived := economy.Derive(&st.Rocket)
	rep.Derived = derived
	if !st.Progression.Departed && derived.Thrust.IsPositive() {
		st.Progression.Departed = true
		rep.Departed = true
		if in.Research != nil {
			if err := in.Research.SeedTasks(st); err != nil {
				return rep, err
			}
		}
	}
	if !st.Progression.Departed || !delta.IsPositive() {
		return rep, nil
	}

	steps := in.steps(delta)
	sub := delta.Div(quantity.FromInt(int64(steps)))
	covered := quantity.Zero
	for i := 0; i < steps; i++ {
		d := sub
		if i == steps-1 {
			// floor division leaves a remainder; the last step absorbs it
			d = delta.Sub(covered)
		}
		covered = covered.Add(d)
		if err := in.process(st, d, &rep); err != nil {
			return rep, err
		}
		rep.Steps++
	}
	rep.Derived = economy.Derive(&st.Rocket)
	return rep, nil
}

func (in Integrator) steps(delta Q) int {
	if !in.Threshold.IsPositive() || delta.LessThanOrEqual(in.Threshold) {
		return 1
	}
	n := delta.Div(in.Threshold)
	steps := n.Floor()
	if n.GreaterThan(steps) {
		steps = steps.Add(quantity.One)
	}
	if in.MaxSteps > 0 && steps.GreaterThan(quantity.FromInt(int64(in.MaxSteps))) {
		return in.MaxSteps
	}
	return int(steps.Int64())
}

// Process integrates a single step of delta simulated seconds without subdividing it.
func (in Integrator) Process(st *domain.State, delta Q) (Report, error) {
	rep := Report{Delta: delta, Steps: 1}
	err := in.process(st, delta, &rep)
	rep.Derived = economy.Derive(&st.Rocket)
	return rep, err
}

func (in Integrator) process(st *domain.State, delta Q, rep *Report) error {
	r := &st.Rocket
	d := economy.Derive(r)
	v := r.Velocity
	gamma := Lorentz(v)
	st.Lorentz = gamma

	currentK := gamma.Sub(quantity.One).Mul(d.Mass).Mul(quantity.CSquared)
	burn := func(captured Q) (consumed, newV Q) {
		consumed = quantity.Min(d.Consumption.Mul(delta), r.Fuel.Add(captured))
		fueled := quantity.Zero
		if d.Consumption.IsPositive() {
			fueled = consumed.Div(d.Consumption)
		}
		newK := currentK.Add(d.Thrust.Mul(fueled))
		return consumed, velocityFor(newK, d.Mass.Add(captured), v)
	}
	scoop := func(traveled Q) Q {
		return r.Capture.Area.Mul(r.Capture.Rate).Mul(traveled)
	}

	// The end velocity is predicted from the distance covered at the start
	// velocity; distance and capture then share the trapezoid of both.
	_, predicted := burn(scoop(v.Mul(gamma).Mul(delta)))
	traveled := v.Mul(gamma).Add(predicted.Mul(Lorentz(predicted))).Mul(delta).Div(two)
	captured := scoop(traveled)
	consumed, newV := burn(captured)

	r.Distance = r.Distance.Add(traveled)
	r.Velocity = newV
	r.Fuel = quantity.Max(quantity.Zero, r.Fuel.Add(captured).Sub(consumed))

	in.automate(r, delta, rep)

	st.HorizonTime = st.HorizonTime.Add(delta)
	earthDelta := gamma.Mul(delta)
	st.EarthTime = st.EarthTime.Add(earthDelta)

	if in.Research == nil {
		return nil
	}
	done, err := in.Research.Allocate(st, earthDelta)
	rep.Completed = append(rep.Completed, done...)
	return err
}

// velocityFor inverts the kinetic term K for mass m. Boundary cases clamp to
// [0, c − Epsilon] instead of producing an undefined root.
func velocityFor(k, m, fallback Q) Q {
	if !m.IsPositive() {
		return fallback
	}
	ratio := k.Div(m).Div(quantity.CSquared).Add(quantity.One)
	if !ratio.IsPositive() {
		return quantity.C.Sub(quantity.Epsilon)
	}
	inv := quantity.One.Div(ratio)
	radicand := quantity.One.Sub(inv.Mul(inv))
	if !radicand.IsPositive() {
		return quantity.Zero
	}
	v := quantity.C.Mul(radicand.Sqrt())
	if v.GreaterThanOrEqual(quantity.C) {
		return quantity.C.Sub(quantity.Epsilon)
	}
	return v
}

func (in Integrator) automate(r *domain.Rocket, delta Q, rep *Report) {
	for _, kind := range domain.EngineKinds() {
		e := r.Engines[kind]
		if e == nil {
			continue
		}
		kind := kind
		tickAutomation(&e.Automation, delta, string(kind), rep, func(mode domain.AutomationMode, n Q) (Q, bool) {
			switch mode {
			case domain.ModeBuild:
				return economy.TryBuild(r, kind, n)
			case domain.ModeRecycle:
				return economy.TryRecycle(r, kind, n)
			}
			return quantity.Zero, false
		})
	}
	tickAutomation(&r.Capture.Automation, delta, "capture", rep, func(mode domain.AutomationMode, n Q) (Q, bool) {
		switch mode {
		case domain.ModeExpand:
			return economy.TryExpand(r, n)
		case domain.ModeReduce:
			return economy.TryReduce(r, n)
		}
		return quantity.Zero, false
	})
}

// tickAutomation accumulates delta and dispatches every elapsed interval as one batch.
func tickAutomation(a *domain.Automation, delta Q, target string, rep *Report, dispatch func(domain.AutomationMode, Q) (Q, bool)) {
	if !a.Active() || !a.Interval.IsPositive() {
		return
	}
	a.Timer = a.Timer.Add(delta)
	if a.Timer.LessThan(a.Interval) {
		return
	}
	count := a.Timer.Div(a.Interval).Floor()
	committed, ok := dispatch(a.Mode, count)
	a.Timer = a.Timer.Sub(a.Interval.Mul(count))
	act := Action{Target: target, Mode: a.Mode, Batches: 1, Requested: count, Committed: committed}
	if !ok {
		act.Failed = 1
	}
	rep.record(act)
}
