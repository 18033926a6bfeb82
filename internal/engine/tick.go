package engine

import (
	"context"
	"time"

	"lightspeed/internal/domain"
	"lightspeed/internal/events"
	"lightspeed/internal/physics"
	"lightspeed/internal/quantity"
)

// Tick advances the loaded game to the current wall-clock time.
func (e *Engine) Tick(ctx context.Context) (physics.Report, error) {
	now := e.now()
	return e.advance(ctx, func(st *domain.State) (physics.Report, error) {
		return e.integrator.Tick(st, now)
	})
}

// Advance integrates d of simulated time without consulting the clock, for
// offline catch-up and scripted runs.
func (e *Engine) Advance(ctx context.Context, d time.Duration) (physics.Report, error) {
	if d < 0 {
		d = 0
	}
	delta := quantity.FromInt(d.Milliseconds()).Mul(quantity.TimeUnit)
	rep, err := e.advance(ctx, func(st *domain.State) (physics.Report, error) {
		return e.integrator.Step(st, delta)
	})
	if err != nil {
		return rep, err
	}
	saveID := e.SaveID()
	if err := e.Events.AppendDB(ctx, events.TypeOfflineAdvanced, saveID, "save", saveID, events.EventPayload{
		"delta": rep.Delta.String(),
		"steps": rep.Steps,
	}); err != nil {
		return rep, err
	}
	return rep, nil
}

func (e *Engine) advance(ctx context.Context, step func(*domain.State) (physics.Report, error)) (physics.Report, error) {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return physics.Report{}, errNoGame
	}
	rep, err := step(e.state)
	saveID := e.save.ID
	e.mu.Unlock()
	if err != nil {
		e.log().Error("tick failed", "save", saveID, "err", err)
		return rep, err
	}
	if err := e.record(ctx, saveID, rep); err != nil {
		return rep, err
	}
	e.notify()
	return rep, nil
}

// record appends the noteworthy outcomes of a tick to the event log.
func (e *Engine) record(ctx context.Context, saveID string, rep physics.Report) error {
	if !rep.Departed && len(rep.Completed) == 0 && len(rep.Actions) == 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	l := e.log()
	if rep.Departed {
		l.Info("departed", "save", saveID, "thrust", rep.Derived.Thrust.Float64())
		if err := e.Events.Append(ctx, tx, events.TypeDeparted, saveID, "rocket", "", events.EventPayload{
			"thrust": rep.Derived.Thrust.String(),
		}); err != nil {
			return err
		}
	}
	for _, id := range rep.Completed {
		l.Info("research completed", "save", saveID, "task", id)
		if err := e.Events.Append(ctx, tx, events.TypeTaskCompleted, saveID, "research", id, nil); err != nil {
			return err
		}
	}
	for _, a := range rep.Actions {
		l.Debug("automation", "save", saveID, "target", a.Target, "mode", a.Mode, "committed", a.Committed.String())
		if err := e.Events.Append(ctx, tx, events.TypeAutomationRun, saveID, "automation", a.Target, events.EventPayload{
			"mode":      string(a.Mode),
			"batches":   a.Batches,
			"requested": a.Requested.String(),
			"committed": a.Committed.String(),
			"failed":    a.Failed,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Subscribe registers l and returns a function removing it.
func (e *Engine) Subscribe(l Listener) func() {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

func (e *Engine) notify() {
	e.lmu.Lock()
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.lmu.Unlock()
	if len(ls) == 0 {
		return
	}
	v, err := e.View()
	if err != nil {
		return
	}
	for _, l := range ls {
		l(v)
	}
}

// Run ticks at the configured interval and autosaves until ctx is done, then
// saves one last time.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.Config.Loop.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var autosave <-chan time.Time
	if every := e.Config.Loop.AutosaveInterval; every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		autosave = t.C
	}
	l := e.log()
	l.Info("loop started", "save", e.SaveID(), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			l.Info("loop stopping", "save", e.SaveID())
			return e.Save(context.WithoutCancel(ctx))
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
		case <-autosave:
			if err := e.Save(ctx); err != nil {
				l.Error("autosave failed", "err", err)
			}
		}
	}
}
