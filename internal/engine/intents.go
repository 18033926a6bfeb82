package engine

import (
	"context"

	"lightspeed/internal/domain"
	"lightspeed/internal/economy"
	"lightspeed/internal/errs"
	"lightspeed/internal/events"
	"lightspeed/internal/quantity"
)

type Q = quantity.Quantity

// Outcome is the result of a stock operation. OK is false when the rocket
// could not afford it; the state is then unchanged.
type Outcome struct {
	OK        bool `json:"ok"`
	Committed Q    `json:"committed"`
}

// mutate runs fn under the writer lock, records evt when fn reports a change,
// and notifies listeners.
func (e *Engine) mutate(ctx context.Context, evt, kind, id string, fn func(st *domain.State) (events.EventPayload, bool, error)) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return errNoGame
	}
	payload, changed, err := fn(e.state)
	saveID := e.save.ID
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if changed && evt != "" {
		if err := e.Events.AppendDB(ctx, evt, saveID, kind, id, payload); err != nil {
			return err
		}
	}
	e.notify()
	return nil
}

func requireUnlocked(st *domain.State, flag string) error {
	if !st.Progression.Unlocked(flag) {
		return errs.Locked(flag)
	}
	return nil
}

func validCount(n Q) error {
	if !n.IsPositive() {
		return errs.Validationf("count must be positive, got %s", n)
	}
	return nil
}

func (e *Engine) SetThrottle(ctx context.Context, kind domain.EngineKind, pct int) error {
	if pct < 0 || pct > 100 {
		return errs.Validationf("throttle must be within [0, 100], got %d", pct)
	}
	return e.mutate(ctx, events.TypeThrottleSet, "engine", string(kind), func(st *domain.State) (events.EventPayload, bool, error) {
		if err := requireUnlocked(st, domain.EngineUnlock(kind)); err != nil {
			return nil, false, err
		}
		if !economy.SetThrottle(&st.Rocket, kind, pct) {
			return nil, false, errs.NotFoundf("engine %s not found", kind)
		}
		return events.EventPayload{"throttle": pct}, true, nil
	})
}

func (e *Engine) Build(ctx context.Context, kind domain.EngineKind, n Q) (Outcome, error) {
	var out Outcome
	if err := validCount(n); err != nil {
		return out, err
	}
	err := e.mutate(ctx, events.TypeEngineBuilt, "engine", string(kind), func(st *domain.State) (events.EventPayload, bool, error) {
		if err := requireUnlocked(st, domain.EngineUnlock(kind)); err != nil {
			return nil, false, err
		}
		if st.Rocket.Engines[kind] == nil {
			return nil, false, errs.NotFoundf("engine %s not found", kind)
		}
		out.Committed, out.OK = economy.TryBuild(&st.Rocket, kind, n)
		return events.EventPayload{"requested": n.String(), "committed": out.Committed.String()}, out.OK, nil
	})
	return out, err
}

func (e *Engine) Recycle(ctx context.Context, kind domain.EngineKind, n Q) (Outcome, error) {
	var out Outcome
	if err := validCount(n); err != nil {
		return out, err
	}
	err := e.mutate(ctx, events.TypeEngineRecycled, "engine", string(kind), func(st *domain.State) (events.EventPayload, bool, error) {
		if st.Rocket.Engines[kind] == nil {
			return nil, false, errs.NotFoundf("engine %s not found", kind)
		}
		out.Committed, out.OK = economy.TryRecycle(&st.Rocket, kind, n)
		return events.EventPayload{"requested": n.String(), "committed": out.Committed.String()}, out.OK, nil
	})
	return out, err
}

func (e *Engine) Expand(ctx context.Context, n Q) (Outcome, error) {
	var out Outcome
	if err := validCount(n); err != nil {
		return out, err
	}
	err := e.mutate(ctx, events.TypeCaptureExpanded, "capture", "", func(st *domain.State) (events.EventPayload, bool, error) {
		if err := requireUnlocked(st, domain.UnlockCapture); err != nil {
			return nil, false, err
		}
		out.Committed, out.OK = economy.TryExpand(&st.Rocket, n)
		return events.EventPayload{"requested": n.String(), "committed": out.Committed.String()}, out.OK && out.Committed.IsPositive(), nil
	})
	return out, err
}

func (e *Engine) Reduce(ctx context.Context, n Q) (Outcome, error) {
	var out Outcome
	if err := validCount(n); err != nil {
		return out, err
	}
	err := e.mutate(ctx, events.TypeCaptureReduced, "capture", "", func(st *domain.State) (events.EventPayload, bool, error) {
		out.Committed, out.OK = economy.TryReduce(&st.Rocket, n)
		return events.EventPayload{"requested": n.String(), "committed": out.Committed.String()}, out.OK && out.Committed.IsPositive(), nil
	})
	return out, err
}

func validInterval(mode domain.AutomationMode, interval Q) error {
	if mode != domain.ModeOff && !interval.IsPositive() {
		return errs.Validationf("automation interval must be positive")
	}
	return nil
}

// SetEngineAutomation changes the policy of one engine kind. The timer restarts
// whenever the mode changes.
func (e *Engine) SetEngineAutomation(ctx context.Context, kind domain.EngineKind, mode domain.AutomationMode, interval Q) error {
	if !mode.ValidForEngine() {
		return errs.Validationf("mode %q is not valid for engines", mode)
	}
	if err := validInterval(mode, interval); err != nil {
		return err
	}
	return e.mutate(ctx, events.TypeAutomationSet, "engine", string(kind), func(st *domain.State) (events.EventPayload, bool, error) {
		if mode != domain.ModeOff {
			if err := requireUnlocked(st, domain.UnlockEngineAutomation); err != nil {
				return nil, false, err
			}
		}
		eng := st.Rocket.Engines[kind]
		if eng == nil {
			return nil, false, errs.NotFoundf("engine %s not found", kind)
		}
		setAutomation(&eng.Automation, mode, interval)
		return events.EventPayload{"mode": string(mode), "interval": eng.Automation.Interval.String()}, true, nil
	})
}

func (e *Engine) SetCaptureAutomation(ctx context.Context, mode domain.AutomationMode, interval Q) error {
	if !mode.ValidForCapture() {
		return errs.Validationf("mode %q is not valid for the collector", mode)
	}
	if err := validInterval(mode, interval); err != nil {
		return err
	}
	return e.mutate(ctx, events.TypeAutomationSet, "capture", "", func(st *domain.State) (events.EventPayload, bool, error) {
		if mode != domain.ModeOff {
			if err := requireUnlocked(st, domain.UnlockCaptureAutomation); err != nil {
				return nil, false, err
			}
		}
		setAutomation(&st.Rocket.Capture.Automation, mode, interval)
		return events.EventPayload{"mode": string(mode), "interval": st.Rocket.Capture.Automation.Interval.String()}, true, nil
	})
}

func setAutomation(a *domain.Automation, mode domain.AutomationMode, interval Q) {
	if a.Mode != mode {
		a.Timer = quantity.Zero
	}
	a.Mode = mode
	if interval.IsPositive() {
		a.Interval = interval
	}
}

func (e *Engine) ActivateTask(ctx context.Context, id string) error {
	return e.mutate(ctx, events.TypeTaskActivated, "research", id, func(st *domain.State) (events.EventPayload, bool, error) {
		if err := e.research.SetActive(st, id); err != nil {
			return nil, false, err
		}
		return events.EventPayload{"active": len(st.Research.Active)}, true, nil
	})
}

func (e *Engine) DeactivateTask(ctx context.Context, id string) error {
	return e.mutate(ctx, events.TypeTaskDeactivated, "research", id, func(st *domain.State) (events.EventPayload, bool, error) {
		if err := e.research.SetAvailable(st, id); err != nil {
			return nil, false, err
		}
		return events.EventPayload{"active": len(st.Research.Active)}, true, nil
	})
}
