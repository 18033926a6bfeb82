package domain

import (
	"fmt"
	"sort"

	"lightspeed/internal/quantity"
)

type Q = quantity.Quantity

// EngineKind identifies a propulsion technology.
type EngineKind string

const (
	Combustion EngineKind = "combustion"
	Fusion     EngineKind = "fusion"
	Antimatter EngineKind = "antimatter"
)

// EngineKinds returns every kind in progression order.
func EngineKinds() []EngineKind {
	return []EngineKind{Combustion, Fusion, Antimatter}
}

func ParseEngineKind(s string) (EngineKind, error) {
	for _, k := range EngineKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown engine kind %q", s)
}

type AutomationMode string

const (
	ModeOff     AutomationMode = "off"
	ModeBuild   AutomationMode = "build"
	ModeRecycle AutomationMode = "recycle"
	ModeExpand  AutomationMode = "expand"
	ModeReduce  AutomationMode = "reduce"
)

func (m AutomationMode) ValidForEngine() bool {
	return m == ModeOff || m == ModeBuild || m == ModeRecycle
}

func (m AutomationMode) ValidForCapture() bool {
	return m == ModeOff || m == ModeExpand || m == ModeReduce
}

// Automation triggers an action every Interval simulated seconds.
type Automation struct {
	Mode     AutomationMode `json:"mode" yaml:"mode" enum:"off,build,recycle,expand,reduce"`
	Interval Q              `json:"interval" yaml:"interval"`
	Timer    Q              `json:"timer" yaml:"timer"`
}

// Active reports whether the policy should accumulate time.
func (a Automation) Active() bool {
	return a.Mode != "" && a.Mode != ModeOff
}

type Engine struct {
	Count       Q          `json:"count" yaml:"count"`
	Mass        Q          `json:"mass" yaml:"mass"`
	Output      Q          `json:"output" yaml:"output"`
	Consumption Q          `json:"consumption" yaml:"consumption"`
	Loss        Q          `json:"loss" yaml:"loss"`
	Throttle    int        `json:"throttle" yaml:"throttle"`
	Thrust      Q          `json:"thrust" yaml:"-"`
	Automation  Automation `json:"automation" yaml:"automation"`
}

// Capture is the interstellar fuel collector. Area is the square of its linear size.
type Capture struct {
	Count      Q          `json:"count" yaml:"count"`
	Step       Q          `json:"step" yaml:"step"`
	Mass       Q          `json:"mass" yaml:"mass"`
	Area       Q          `json:"area" yaml:"area"`
	Rate       Q          `json:"rate" yaml:"rate"`
	Automation Automation `json:"automation" yaml:"automation"`
}

type Rocket struct {
	Material Q                      `json:"material" yaml:"material"`
	Fuel     Q                      `json:"fuel" yaml:"fuel"`
	Capture  Capture                `json:"capture" yaml:"capture"`
	Engines  map[EngineKind]*Engine `json:"engines" yaml:"engines"`
	Velocity Q                      `json:"velocity" yaml:"-"`
	Distance Q                      `json:"distance" yaml:"-"`
}

// Unlock flags consulted by the host and the research effects.
const (
	UnlockCombustion         = "engine.combustion"
	UnlockFusion             = "engine.fusion"
	UnlockAntimatter         = "engine.antimatter"
	UnlockCapture            = "capture"
	UnlockEngineAutomation   = "automation.engines"
	UnlockCaptureAutomation  = "automation.capture"
	UnlockResearchAutomation = "research.automation"
)

// EngineUnlock returns the flag gating construction of an engine kind.
func EngineUnlock(kind EngineKind) string {
	return "engine." + string(kind)
}

type Progression struct {
	Departed bool            `json:"departed"`
	Unlocks  map[string]bool `json:"unlocks"`
}

func (p Progression) Unlocked(flag string) bool {
	return p.Unlocks[flag]
}

// Unlock sets a flag. Flags are never cleared except by a full reset.
func (p *Progression) Unlock(flag string) {
	if p.Unlocks == nil {
		p.Unlocks = map[string]bool{}
	}
	p.Unlocks[flag] = true
}

type Task struct {
	ID          string `json:"id"`
	Base        string `json:"base"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Duration    Q      `json:"duration"`
	Progress    Q      `json:"progress"`
	Iteration   int    `json:"iteration"`
}

// Research holds the three disjoint task partitions keyed by task id.
type Research struct {
	Available map[string]*Task `json:"available"`
	Active    map[string]*Task `json:"active"`
	Completed map[string]*Task `json:"completed"`
}

// Partition returns the name of the partition holding id, or "".
func (r Research) Partition(id string) string {
	switch {
	case r.Available[id] != nil:
		return "available"
	case r.Active[id] != nil:
		return "active"
	case r.Completed[id] != nil:
		return "completed"
	}
	return ""
}

// ActiveIDs returns active task ids in a stable order.
func (r Research) ActiveIDs() []string {
	return sortedKeys(r.Active)
}

func sortedKeys(m map[string]*Task) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State is the full persisted game tree.
type State struct {
	Lorentz         Q           `json:"lorentz"`
	EarthTime       Q           `json:"earthTime"`
	HorizonTime     Q           `json:"horizonTime"`
	MultitaskFactor Q           `json:"multitaskFactor"`
	Progression     Progression `json:"progression"`
	Research        Research    `json:"research"`
	Rocket          Rocket      `json:"rocket"`
	// LastUpdate is the wall-clock time of the last tick in Unix milliseconds.
	LastUpdate int64 `json:"lastUpdate"`
}

// Derived is the per-step aggregate computed from the rocket.
type Derived struct {
	Distance    Q       `json:"distance"`
	Velocity    Q       `json:"velocity"`
	Mass        Q       `json:"mass"`
	Fuel        Q       `json:"fuel"`
	Thrust      Q       `json:"thrust"`
	Consumption Q       `json:"consumption"`
	Capture     Capture `json:"capture"`
}

// View is an immutable copy of the state handed to display readers.
type View struct {
	SaveID  string  `json:"save_id,omitempty"`
	State   State   `json:"state"`
	Derived Derived `json:"derived"`
}

type Save struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LastUpdate int64  `json:"last_update"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SaveID     string `json:"save_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
