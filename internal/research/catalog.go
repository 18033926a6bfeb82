package research

import (
	"fmt"
	"sort"

	"lightspeed/internal/domain"
	"lightspeed/internal/economy"
	"lightspeed/internal/quantity"
)

type Q = quantity.Quantity

type EffectKind string

const (
	EffectScaleEngine  EffectKind = "scale_engine"
	EffectScaleCapture EffectKind = "scale_capture"
	EffectUnlock       EffectKind = "unlock"
	EffectCreateTasks  EffectKind = "create_tasks"
)

// Effect is one permanent change applied when a task completes.
type Effect struct {
	Kind   EffectKind        `yaml:"kind" json:"kind"`
	Engine domain.EngineKind `yaml:"engine,omitempty" json:"engine,omitempty"`
	Field  string            `yaml:"field,omitempty" json:"field,omitempty"`
	Factor Q                 `yaml:"factor,omitempty" json:"factor,omitempty"`
	Flag   string            `yaml:"flag,omitempty" json:"flag,omitempty"`
	Tasks  []string          `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

type Template struct {
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Duration    Q        `yaml:"duration" json:"duration"`
	Repeatable  bool     `yaml:"repeatable,omitempty" json:"repeatable,omitempty"`
	Effects     []Effect `yaml:"effects,omitempty" json:"effects,omitempty"`
}

// Catalog maps a base task id to its template.
type Catalog map[string]Template

func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var engineFields = map[string]bool{"mass": true, "output": true, "consumption": true, "loss": true}
var captureFields = map[string]bool{"step": true, "mass": true, "rate": true}

// Validate checks every effect is well formed and every referenced task exists.
func (c Catalog) Validate() error {
	for _, id := range c.IDs() {
		t := c[id]
		if !t.Duration.IsPositive() {
			return fmt.Errorf("research task %s: duration must be positive", id)
		}
		for i, e := range t.Effects {
			if err := c.validateEffect(e); err != nil {
				return fmt.Errorf("research task %s effect %d: %w", id, i, err)
			}
		}
	}
	return nil
}

func (c Catalog) validateEffect(e Effect) error {
	switch e.Kind {
	case EffectScaleEngine:
		if _, err := domain.ParseEngineKind(string(e.Engine)); err != nil {
			return err
		}
		if !engineFields[e.Field] {
			return fmt.Errorf("unknown engine field %q", e.Field)
		}
		if !e.Factor.IsPositive() {
			return fmt.Errorf("factor must be positive")
		}
	case EffectScaleCapture:
		if !captureFields[e.Field] {
			return fmt.Errorf("unknown capture field %q", e.Field)
		}
		if !e.Factor.IsPositive() {
			return fmt.Errorf("factor must be positive")
		}
	case EffectUnlock:
		if e.Flag == "" {
			return fmt.Errorf("unlock effect requires a flag")
		}
	case EffectCreateTasks:
		for _, id := range e.Tasks {
			if _, ok := c[id]; !ok {
				return fmt.Errorf("unknown task %q", id)
			}
		}
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
	return nil
}

// apply interprets one effect against the state. Engine and collector stats
// go through the economy's atomic re-scale so the cost basis follows the new stats.
func (s *Service) apply(st *domain.State, e Effect) error {
	switch e.Kind {
	case EffectScaleEngine:
		eng := st.Rocket.Engines[e.Engine]
		if eng == nil {
			return fmt.Errorf("engine %s not present", e.Engine)
		}
		var patch economy.EnginePatch
		switch e.Field {
		case "mass":
			v := eng.Mass.Mul(e.Factor)
			patch.Mass = &v
		case "output":
			v := eng.Output.Mul(e.Factor)
			patch.Output = &v
		case "consumption":
			v := eng.Consumption.Mul(e.Factor)
			patch.Consumption = &v
		case "loss":
			v := quantity.Min(eng.Loss.Mul(e.Factor), quantity.One)
			patch.Loss = &v
		default:
			return fmt.Errorf("unknown engine field %q", e.Field)
		}
		economy.UpgradeEngines(&st.Rocket, e.Engine, patch)
	case EffectScaleCapture:
		c := st.Rocket.Capture
		var patch economy.CapturePatch
		switch e.Field {
		case "step":
			v := c.Step.Mul(e.Factor)
			patch.Step = &v
		case "mass":
			v := c.Mass.Mul(e.Factor)
			patch.Mass = &v
		case "rate":
			v := c.Rate.Mul(e.Factor)
			patch.Rate = &v
		default:
			return fmt.Errorf("unknown capture field %q", e.Field)
		}
		economy.UpgradeCapture(&st.Rocket, patch)
	case EffectUnlock:
		st.Progression.Unlock(e.Flag)
	case EffectCreateTasks:
		for _, id := range e.Tasks {
			if _, err := s.CreateTask(st, id, 0); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
	return nil
}
