package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lightspeed/internal/domain"
	"lightspeed/internal/quantity"
	"lightspeed/internal/research"
)

// Config models lightspeed.yml.
type Config struct {
	Game struct {
		Unlocks []string      `yaml:"unlocks"`
		Rocket  domain.Rocket `yaml:"rocket"`
	} `yaml:"game"`
	Research struct {
		GrowthFactor quantity.Quantity `yaml:"growth_factor"`
		Seed         []string          `yaml:"seed"`
		Automation   struct {
			Task      string `yaml:"task"`
			Threshold int    `yaml:"threshold"`
		} `yaml:"automation"`
		Catalog research.Catalog `yaml:"catalog"`
	} `yaml:"research"`
	Integrator struct {
		Threshold quantity.Quantity `yaml:"threshold"`
		MaxSteps  int               `yaml:"max_steps"`
	} `yaml:"integrator"`
	Loop struct {
		TickInterval     time.Duration `yaml:"tick_interval"`
		AutosaveInterval time.Duration `yaml:"autosave_interval"`
	} `yaml:"loop"`
	Server struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
		RateLimit   float64  `yaml:"rate_limit"`
		RateBurst   int      `yaml:"rate_burst"`
		DevLogin    bool     `yaml:"dev_login"`
	} `yaml:"server"`
	Redis struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Channel string `yaml:"channel"`
		Key     string `yaml:"key"`
	} `yaml:"redis"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	r := c.Game.Rocket
	if r.Material.IsNegative() || r.Fuel.IsNegative() {
		return fmt.Errorf("config.game.rocket material and fuel must be non-negative")
	}
	for _, kind := range domain.EngineKinds() {
		e := r.Engines[kind]
		if e == nil {
			return fmt.Errorf("config.game.rocket.engines.%s is required", kind)
		}
		if !e.Mass.IsPositive() {
			return fmt.Errorf("engine %s: mass must be positive", kind)
		}
		if e.Count.IsNegative() || e.Output.IsNegative() || e.Consumption.IsNegative() {
			return fmt.Errorf("engine %s: count, output and consumption must be non-negative", kind)
		}
		if e.Loss.IsNegative() || e.Loss.GreaterThan(quantity.One) {
			return fmt.Errorf("engine %s: loss must be within [0, 1]", kind)
		}
		if e.Throttle < 0 || e.Throttle > 100 {
			return fmt.Errorf("engine %s: throttle must be within [0, 100]", kind)
		}
		if err := validateAutomation(e.Automation, domain.AutomationMode.ValidForEngine); err != nil {
			return fmt.Errorf("engine %s: %w", kind, err)
		}
	}
	for kind := range r.Engines {
		if _, err := domain.ParseEngineKind(string(kind)); err != nil {
			return fmt.Errorf("config.game.rocket.engines: %w", err)
		}
	}
	capture := r.Capture
	if !capture.Step.IsPositive() || !capture.Mass.IsPositive() {
		return fmt.Errorf("config.game.rocket.capture step and mass must be positive")
	}
	if capture.Rate.IsNegative() || capture.Area.IsNegative() || capture.Count.IsNegative() {
		return fmt.Errorf("config.game.rocket.capture rate, area and count must be non-negative")
	}
	if err := validateAutomation(capture.Automation, domain.AutomationMode.ValidForCapture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	for _, flag := range c.Game.Unlocks {
		if flag == "" {
			return fmt.Errorf("config.game.unlocks contains an empty flag")
		}
	}

	if c.Research.GrowthFactor.LessThan(quantity.One) {
		return fmt.Errorf("config.research.growth_factor must be at least 1")
	}
	if err := c.Research.Catalog.Validate(); err != nil {
		return err
	}
	for _, id := range c.Research.Seed {
		if _, ok := c.Research.Catalog[id]; !ok {
			return fmt.Errorf("config.research.seed references unknown task %s", id)
		}
	}
	if task := c.Research.Automation.Task; task != "" {
		if _, ok := c.Research.Catalog[task]; !ok {
			return fmt.Errorf("config.research.automation.task references unknown task %s", task)
		}
	}
	if c.Research.Automation.Threshold < 0 {
		return fmt.Errorf("config.research.automation.threshold must be non-negative")
	}

	if !c.Integrator.Threshold.IsPositive() {
		return fmt.Errorf("config.integrator.threshold must be positive")
	}
	if c.Integrator.MaxSteps <= 0 {
		return fmt.Errorf("config.integrator.max_steps must be positive")
	}
	if c.Loop.TickInterval <= 0 {
		return fmt.Errorf("config.loop.tick_interval must be positive")
	}
	if c.Loop.AutosaveInterval < 0 {
		return fmt.Errorf("config.loop.autosave_interval must be non-negative")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config.server rate limits must be non-negative")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("config.redis.url is required when redis is enabled")
	}
	if c.Logging.Level != "" && !logLevels[c.Logging.Level] {
		return fmt.Errorf("config.logging.level %q is not one of debug, info, warn, error, fatal", c.Logging.Level)
	}
	return nil
}

func validateAutomation(a domain.Automation, valid func(domain.AutomationMode) bool) error {
	if a.Mode != "" && !valid(a.Mode) {
		return fmt.Errorf("automation mode %q not allowed", a.Mode)
	}
	if a.Interval.IsNegative() || a.Timer.IsNegative() {
		return fmt.Errorf("automation interval and timer must be non-negative")
	}
	return nil
}

// NewState returns a fresh game state built from the configured initial rocket.
func (c *Config) NewState(now time.Time) domain.State {
	st := domain.State{
		Lorentz:         quantity.One,
		MultitaskFactor: quantity.One,
		Progression:     domain.Progression{Unlocks: map[string]bool{}},
		Research: domain.Research{
			Available: map[string]*domain.Task{},
			Active:    map[string]*domain.Task{},
			Completed: map[string]*domain.Task{},
		},
		Rocket:     c.Game.Rocket.Clone(),
		LastUpdate: now.UnixMilli(),
	}
	for _, flag := range c.Game.Unlocks {
		st.Progression.Unlock(flag)
	}
	for _, e := range st.Rocket.Engines {
		if e.Automation.Mode == "" {
			e.Automation.Mode = domain.ModeOff
		}
	}
	if st.Rocket.Capture.Automation.Mode == "" {
		st.Rocket.Capture.Automation.Mode = domain.ModeOff
	}
	return st
}

// ResearchService returns the task scheduler configured by the research section.
func (c *Config) ResearchService() *research.Service {
	return &research.Service{
		Catalog:             c.Research.Catalog,
		GrowthFactor:        c.Research.GrowthFactor,
		Seed:                append([]string(nil), c.Research.Seed...),
		AutomationTask:      c.Research.Automation.Task,
		AutomationThreshold: c.Research.Automation.Threshold,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "lightspeed.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace, falling back to the defaults
// when no file exists.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `game:
  unlocks: [engine.combustion]
  rocket:
    material: "1000000"
    fuel: "1000000"
    capture:
      count: "0"
      step: "2"
      mass: "0.5"
      area: "0"
      rate: "1.4e-12"
      automation: {mode: "off", interval: "1", timer: "0"}
    engines:
      combustion:
        count: "10"
        mass: "500"
        output: "140000000"
        consumption: "30"
        loss: "0.75"
        throttle: 0
        automation: {mode: "off", interval: "1", timer: "0"}
      fusion:
        count: "0"
        mass: "5000"
        output: "640000000000000"
        consumption: "10"
        loss: "0.75"
        throttle: 0
        automation: {mode: "off", interval: "1", timer: "0"}
      antimatter:
        count: "0"
        mass: "25000"
        output: "89875517873681764"
        consumption: "1"
        loss: "0.75"
        throttle: 0
        automation: {mode: "off", interval: "1", timer: "0"}

research:
  growth_factor: "1.12"
  seed: [combustionEfficiency, combustionLightweight, fuelCapture, engineAutomation]
  automation:
    task: researchAutomation
    threshold: 3
  catalog:
    combustionEfficiency:
      title: "Combustion Efficiency"
      description: "Reduce throttle losses of combustion engines"
      duration: "60"
      repeatable: true
      effects:
        - {kind: scale_engine, engine: combustion, field: loss, factor: "0.9"}
    combustionLightweight:
      title: "Lightweight Combustion"
      description: "Lighter combustion engine casings"
      duration: "120"
      repeatable: true
      effects:
        - {kind: scale_engine, engine: combustion, field: mass, factor: "0.9"}
    fuelCapture:
      title: "Fuel Capture"
      description: "Scoop interstellar hydrogen while travelling"
      duration: "300"
      effects:
        - {kind: unlock, flag: capture}
        - {kind: create_tasks, tasks: [captureEfficiency, captureAutomation, fusionEngine]}
    captureEfficiency:
      title: "Capture Efficiency"
      description: "Improve the collector capture rate"
      duration: "240"
      repeatable: true
      effects:
        - {kind: scale_capture, field: rate, factor: "1.5"}
    captureAutomation:
      title: "Capture Automation"
      description: "Expand or reduce the collector automatically"
      duration: "600"
      effects:
        - {kind: unlock, flag: automation.capture}
    engineAutomation:
      title: "Engine Automation"
      description: "Build or recycle engines automatically"
      duration: "600"
      effects:
        - {kind: unlock, flag: automation.engines}
    fusionEngine:
      title: "Fusion Engine"
      description: "Unlock fusion propulsion"
      duration: "1800"
      effects:
        - {kind: unlock, flag: engine.fusion}
        - {kind: create_tasks, tasks: [fusionEfficiency, antimatterEngine]}
    fusionEfficiency:
      title: "Fusion Efficiency"
      description: "Reduce throttle losses of fusion engines"
      duration: "1200"
      repeatable: true
      effects:
        - {kind: scale_engine, engine: fusion, field: loss, factor: "0.9"}
    antimatterEngine:
      title: "Antimatter Engine"
      description: "Unlock antimatter propulsion"
      duration: "36000"
      effects:
        - {kind: unlock, flag: engine.antimatter}
    researchAutomation:
      title: "Research Automation"
      description: "Repeatable research restarts on its own"
      duration: "900"
      effects:
        - {kind: unlock, flag: research.automation}

integrator:
  threshold: "1"
  max_steps: 1000

loop:
  tick_interval: 100ms
  autosave_interval: 30s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: ["*"]
  rate_limit: 20
  rate_burst: 40
  dev_login: true

redis:
  enabled: false
  url: redis://localhost:6379/0
  channel: lightspeed.view
  key: lightspeed:view

logging:
  level: info
  json: false
`
