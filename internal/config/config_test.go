package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lightspeed/internal/config"
	"lightspeed/internal/domain"
	"lightspeed/internal/quantity"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	comb := cfg.Game.Rocket.Engines[domain.Combustion]
	if comb == nil || !comb.Count.Equal(quantity.FromInt(10)) || !comb.Mass.Equal(quantity.FromInt(500)) {
		t.Fatalf("unexpected combustion defaults: %+v", comb)
	}
	if !cfg.Game.Rocket.Engines[domain.Antimatter].Output.Equal(quantity.CSquared) {
		t.Fatalf("antimatter output should be c²")
	}
	if !cfg.Game.Rocket.Capture.Rate.Equal(quantity.MustParse("1.4e-12")) {
		t.Fatalf("capture rate = %s", cfg.Game.Rocket.Capture.Rate)
	}
	if cfg.Loop.TickInterval != 100*time.Millisecond {
		t.Fatalf("tick interval = %s", cfg.Loop.TickInterval)
	}
	if cfg.Integrator.MaxSteps != 1000 {
		t.Fatalf("max steps = %d", cfg.Integrator.MaxSteps)
	}
}

func TestNewStateIsIndependentOfConfig(t *testing.T) {
	cfg := config.Default()
	now := time.UnixMilli(1_700_000_000_000)
	st := cfg.NewState(now)
	if st.LastUpdate != now.UnixMilli() {
		t.Fatalf("last update not stamped")
	}
	if !st.Progression.Unlocked(domain.UnlockCombustion) {
		t.Fatalf("combustion should start unlocked")
	}
	if !st.Lorentz.Equal(quantity.One) {
		t.Fatalf("lorentz should start at 1")
	}
	st.Rocket.Engines[domain.Combustion].Count = quantity.FromInt(99)
	if cfg.Game.Rocket.Engines[domain.Combustion].Count.Equal(quantity.FromInt(99)) {
		t.Fatalf("state shares engines with config")
	}
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("integrator:\n  threshold: \"0.5\"\n  max_steps: 10\nlogging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Integrator.MaxSteps != 10 || !cfg.Integrator.Threshold.Equal(quantity.MustParse("0.5")) {
		t.Fatalf("integrator override lost: %+v", cfg.Integrator)
	}
	if len(cfg.Research.Catalog) == 0 {
		t.Fatalf("catalog default lost")
	}
}

func TestInvalidConfigs(t *testing.T) {
	cases := map[string]string{
		"negative growth":  "research:\n  growth_factor: \"0.5\"\n",
		"unknown seed":     "research:\n  seed: [warpDrive]\n",
		"zero max steps":   "integrator:\n  max_steps: 0\n",
		"bad log level":    "logging:\n  level: loud\n",
		"bad effect field": "research:\n  catalog:\n    broken:\n      title: x\n      duration: \"1\"\n      effects:\n        - {kind: scale_engine, engine: combustion, field: color, factor: \"2\"}\n",
		"redis no url":     "redis:\n  enabled: true\n  url: \"\"\n",
		"non numeric":      "game:\n  rocket:\n    material: lots\n",
	}
	for name, doc := range cases {
		if _, err := config.FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load without file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lightspeed.yml"), []byte("loop:\n  tick_interval: 1s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Loop.TickInterval != time.Second {
		t.Fatalf("tick interval = %s", cfg.Loop.TickInterval)
	}
	if !strings.Contains(config.GenerateDefault(), "researchAutomation") {
		t.Fatalf("template should ship the catalog")
	}
}
