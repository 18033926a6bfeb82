// Package snapshot encodes the full game state tree to JSON and restores it.
// Quantities are stored as decimal strings so a round trip keeps every digit.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"lightspeed/internal/domain"
	"lightspeed/internal/errs"
	"lightspeed/internal/quantity"
)

func Encode(st domain.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, errs.WrapInternal("encode snapshot", err)
	}
	return data, nil
}

// Decode restores a snapshot on top of defaults: keys absent from data keep
// their default values. A non-numeric string in a quantity position, malformed
// JSON or a state violating the model invariants is a deserialization error.
func Decode(data []byte, defaults domain.State) (domain.State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return defaults, errs.Deserialization("decode snapshot", fmt.Errorf("empty snapshot"))
	}
	st := defaults.Clone()
	if err := json.Unmarshal(data, &st); err != nil {
		return defaults, errs.Deserialization("decode snapshot", err)
	}
	fill(&st)
	if err := Check(st); err != nil {
		return defaults, errs.Deserialization("decode snapshot", err)
	}
	return st, nil
}

func fill(st *domain.State) {
	if st.Progression.Unlocks == nil {
		st.Progression.Unlocks = map[string]bool{}
	}
	r := &st.Research
	if r.Available == nil {
		r.Available = map[string]*domain.Task{}
	}
	if r.Active == nil {
		r.Active = map[string]*domain.Task{}
	}
	if r.Completed == nil {
		r.Completed = map[string]*domain.Task{}
	}
	if st.Rocket.Engines == nil {
		st.Rocket.Engines = map[domain.EngineKind]*domain.Engine{}
	}
	if st.Lorentz.LessThan(quantity.One) {
		st.Lorentz = quantity.One
	}
}

// Check verifies the invariants every restored state must satisfy.
func Check(st domain.State) error {
	r := st.Rocket
	if r.Velocity.IsNegative() || r.Velocity.GreaterThanOrEqual(quantity.C) {
		return fmt.Errorf("velocity %s outside [0, c)", r.Velocity)
	}
	if r.Fuel.IsNegative() || r.Material.IsNegative() || r.Distance.IsNegative() {
		return fmt.Errorf("negative stock")
	}
	if r.Capture.Area.IsNegative() || r.Capture.Count.IsNegative() {
		return fmt.Errorf("negative capture area or count")
	}
	for kind, e := range r.Engines {
		if _, err := domain.ParseEngineKind(string(kind)); err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("engine %s is null", kind)
		}
		if e.Count.IsNegative() {
			return fmt.Errorf("engine %s has a negative count", kind)
		}
	}
	if st.EarthTime.IsNegative() || st.HorizonTime.IsNegative() {
		return fmt.Errorf("negative time reference")
	}
	seen := map[string]bool{}
	for _, part := range []map[string]*domain.Task{st.Research.Available, st.Research.Active, st.Research.Completed} {
		for id, t := range part {
			if t == nil {
				return fmt.Errorf("task %s is null", id)
			}
			if seen[id] {
				return fmt.Errorf("task %s appears in more than one partition", id)
			}
			seen[id] = true
		}
	}
	return nil
}
