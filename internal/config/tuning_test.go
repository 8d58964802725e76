package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/holonomy-labs/pathwise/internal/amp"
	"github.com/holonomy-labs/pathwise/internal/endgame"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.SafetyDigits1 == nil || *cfg.SafetyDigits1 != 1 {
		t.Errorf("SafetyDigits1 = %v, want 1", cfg.SafetyDigits1)
	}
	if cfg.NumSamplePoints == nil || *cfg.NumSamplePoints != 3 {
		t.Errorf("NumSamplePoints = %v, want 3", cfg.NumSamplePoints)
	}
	if cfg.FinalTolerance == nil || *cfg.FinalTolerance != 1e-11 {
		t.Errorf("FinalTolerance = %v, want 1e-11", cfg.FinalTolerance)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	t.Run("partial config leaves other fields unset", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.json", `{"final_tolerance": 1e-9, "workers": 8}`)
		cfg, err := LoadTuningConfig(path)
		if err != nil {
			t.Fatalf("LoadTuningConfig: %v", err)
		}
		want := &TuningConfig{
			FinalTolerance: ptrFloat64(1e-9),
			Workers:        ptrInt(8),
		}
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects non-json extension", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.yaml", `{}`)
		if _, err := LoadTuningConfig(path); err == nil {
			t.Error("expected error for non-.json extension")
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.json", `{"num_sample_points": 0}`)
		if _, err := LoadTuningConfig(path); err == nil {
			t.Error("expected validation error for num_sample_points 0")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.json", `{"workers": `)
		if _, err := LoadTuningConfig(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("rejects negative history capacity", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.json", `{"history_capacity": -4}`)
		if _, err := LoadTuningConfig(path); err == nil {
			t.Error("expected validation error for negative history_capacity")
		}
	})

	t.Run("rejects history capacity smaller than the window", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.json", `{"num_sample_points": 10, "history_capacity": 8}`)
		if _, err := LoadTuningConfig(path); err == nil {
			t.Error("expected validation error when the ring cannot hold the window")
		}
	})

	t.Run("accepts history capacity covering the window", func(t *testing.T) {
		path := writeConfigFile(t, "tuning.json", `{"num_sample_points": 10, "history_capacity": 32}`)
		if _, err := LoadTuningConfig(path); err != nil {
			t.Errorf("LoadTuningConfig: %v", err)
		}
	})
}

func TestTuningConfigMerge(t *testing.T) {
	base := DefaultTuningConfig()
	overlay := &TuningConfig{
		FinalTolerance: ptrFloat64(1e-8),
		Workers:        ptrInt(2),
	}
	base.Merge(overlay)

	if *base.FinalTolerance != 1e-8 {
		t.Errorf("FinalTolerance = %v, want overlay value 1e-8", *base.FinalTolerance)
	}
	if *base.Workers != 2 {
		t.Errorf("Workers = %v, want overlay value 2", *base.Workers)
	}
	if *base.NumSamplePoints != 3 {
		t.Errorf("NumSamplePoints = %v, want untouched default 3", *base.NumSamplePoints)
	}
}

func TestTuningConfigApply(t *testing.T) {
	tc := &TuningConfig{
		Epsilon:        ptrFloat64(25),
		MaxRefinements: ptrInt(20),
	}

	ampCfg := amp.DefaultConfig()
	tc.ApplyAMP(&ampCfg)
	if ampCfg.Epsilon != 25 {
		t.Errorf("Epsilon = %v, want 25", ampCfg.Epsilon)
	}
	if ampCfg.SafetyDigits1 != 1 {
		t.Errorf("SafetyDigits1 = %v, want untouched default 1", ampCfg.SafetyDigits1)
	}

	egCfg := endgame.DefaultConfig()
	tc.ApplyEndgame(&egCfg)
	if egCfg.MaxRefinements != 20 {
		t.Errorf("MaxRefinements = %v, want 20", egCfg.MaxRefinements)
	}
	if egCfg.NumSamplePoints != 3 {
		t.Errorf("NumSamplePoints = %v, want untouched default 3", egCfg.NumSamplePoints)
	}
}

func TestTuningConfigGetters(t *testing.T) {
	empty := EmptyTuningConfig()
	if empty.GetWorkers() != 4 {
		t.Errorf("GetWorkers = %d, want default 4", empty.GetWorkers())
	}
	if empty.GetPlotOutputDir() != "" {
		t.Errorf("GetPlotOutputDir = %q, want empty", empty.GetPlotOutputDir())
	}
	if empty.GetDatabasePath() != "" {
		t.Errorf("GetDatabasePath = %q, want empty", empty.GetDatabasePath())
	}
}
