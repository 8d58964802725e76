// Package config loads the JSON tuning file that parameterizes the
// precision criteria and the endgame loop. All fields are optional
// pointers so partial configs merge cleanly over the built-in
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holonomy-labs/pathwise/internal/amp"
	"github.com/holonomy-labs/pathwise/internal/endgame"
)

// TuningConfig represents the root configuration for a tracking run.
// The same JSON shape is accepted by the replay tool's -config flag
// and by programmatic embedding.
type TuningConfig struct {
	// Precision criteria params
	SafetyDigits1 *int     `json:"safety_digits_1,omitempty"`
	SafetyDigits2 *int     `json:"safety_digits_2,omitempty"`
	Epsilon       *float64 `json:"epsilon,omitempty"`
	Phi           *float64 `json:"phi,omitempty"`
	Psi           *float64 `json:"psi,omitempty"`

	// Endgame params
	NumSamplePoints *int     `json:"num_sample_points,omitempty"`
	MaxCycleNumber  *int     `json:"max_cycle_number,omitempty"`
	MaxRefinements  *int     `json:"max_refinements,omitempty"`
	FinalTolerance  *float64 `json:"final_tolerance,omitempty"`
	HistoryCapacity *int     `json:"history_capacity,omitempty"`

	// Batch runner params
	Workers *int `json:"workers,omitempty"`

	// Output params
	PlotOutputDir *string `json:"plot_output_dir,omitempty"`
	DatabasePath  *string `json:"database_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a fully populated config mirroring the
// library defaults.
func DefaultTuningConfig() *TuningConfig {
	ampCfg := amp.DefaultConfig()
	egCfg := endgame.DefaultConfig()
	return &TuningConfig{
		SafetyDigits1:   ptrInt(ampCfg.SafetyDigits1),
		SafetyDigits2:   ptrInt(ampCfg.SafetyDigits2),
		Epsilon:         ptrFloat64(ampCfg.Epsilon),
		Phi:             ptrFloat64(ampCfg.Phi),
		Psi:             ptrFloat64(ampCfg.Psi),
		NumSamplePoints: ptrInt(egCfg.NumSamplePoints),
		MaxCycleNumber:  ptrInt(egCfg.MaxCycleNumber),
		MaxRefinements:  ptrInt(egCfg.MaxRefinements),
		FinalTolerance:  ptrFloat64(egCfg.FinalTolerance),
		HistoryCapacity: ptrInt(egCfg.HistoryCapacity),
		Workers:         ptrInt(4),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields
// omitted from the file stay unset, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set values are usable.
func (c *TuningConfig) Validate() error {
	if c.Epsilon != nil && *c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %f", *c.Epsilon)
	}
	if c.NumSamplePoints != nil && *c.NumSamplePoints < 1 {
		return fmt.Errorf("num_sample_points must be at least 1, got %d", *c.NumSamplePoints)
	}
	if c.MaxCycleNumber != nil && *c.MaxCycleNumber < 1 {
		return fmt.Errorf("max_cycle_number must be at least 1, got %d", *c.MaxCycleNumber)
	}
	if c.MaxRefinements != nil && *c.MaxRefinements < 1 {
		return fmt.Errorf("max_refinements must be at least 1, got %d", *c.MaxRefinements)
	}
	if c.FinalTolerance != nil && *c.FinalTolerance <= 0 {
		return fmt.Errorf("final_tolerance must be positive, got %g", *c.FinalTolerance)
	}
	if c.HistoryCapacity != nil {
		if *c.HistoryCapacity < 2 {
			return fmt.Errorf("history_capacity must be at least 2, got %d", *c.HistoryCapacity)
		}
		if c.NumSamplePoints != nil && *c.HistoryCapacity < *c.NumSamplePoints+1 {
			return fmt.Errorf("history_capacity %d cannot hold num_sample_points %d plus the cycle probe sample",
				*c.HistoryCapacity, *c.NumSamplePoints)
		}
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	return nil
}

// Merge overlays other's set fields onto c, returning c for chaining.
func (c *TuningConfig) Merge(other *TuningConfig) *TuningConfig {
	if other == nil {
		return c
	}
	if other.SafetyDigits1 != nil {
		c.SafetyDigits1 = other.SafetyDigits1
	}
	if other.SafetyDigits2 != nil {
		c.SafetyDigits2 = other.SafetyDigits2
	}
	if other.Epsilon != nil {
		c.Epsilon = other.Epsilon
	}
	if other.Phi != nil {
		c.Phi = other.Phi
	}
	if other.Psi != nil {
		c.Psi = other.Psi
	}
	if other.NumSamplePoints != nil {
		c.NumSamplePoints = other.NumSamplePoints
	}
	if other.MaxCycleNumber != nil {
		c.MaxCycleNumber = other.MaxCycleNumber
	}
	if other.MaxRefinements != nil {
		c.MaxRefinements = other.MaxRefinements
	}
	if other.FinalTolerance != nil {
		c.FinalTolerance = other.FinalTolerance
	}
	if other.HistoryCapacity != nil {
		c.HistoryCapacity = other.HistoryCapacity
	}
	if other.Workers != nil {
		c.Workers = other.Workers
	}
	if other.PlotOutputDir != nil {
		c.PlotOutputDir = other.PlotOutputDir
	}
	if other.DatabasePath != nil {
		c.DatabasePath = other.DatabasePath
	}
	return c
}

// ApplyAMP overlays the set precision fields onto an amp.Config.
func (c *TuningConfig) ApplyAMP(cfg *amp.Config) {
	if c.SafetyDigits1 != nil {
		cfg.SafetyDigits1 = *c.SafetyDigits1
	}
	if c.SafetyDigits2 != nil {
		cfg.SafetyDigits2 = *c.SafetyDigits2
	}
	if c.Epsilon != nil {
		cfg.Epsilon = *c.Epsilon
	}
	if c.Phi != nil {
		cfg.Phi = *c.Phi
	}
	if c.Psi != nil {
		cfg.Psi = *c.Psi
	}
}

// ApplyEndgame overlays the set endgame fields onto an endgame.Config.
func (c *TuningConfig) ApplyEndgame(cfg *endgame.Config) {
	if c.NumSamplePoints != nil {
		cfg.NumSamplePoints = *c.NumSamplePoints
	}
	if c.MaxCycleNumber != nil {
		cfg.MaxCycleNumber = *c.MaxCycleNumber
	}
	if c.MaxRefinements != nil {
		cfg.MaxRefinements = *c.MaxRefinements
	}
	if c.FinalTolerance != nil {
		cfg.FinalTolerance = *c.FinalTolerance
	}
	if c.HistoryCapacity != nil {
		cfg.HistoryCapacity = *c.HistoryCapacity
	}
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetPlotOutputDir returns the plot output directory; empty means
// plotting is disabled.
func (c *TuningConfig) GetPlotOutputDir() string {
	if c.PlotOutputDir == nil {
		return ""
	}
	return *c.PlotOutputDir
}

// GetDatabasePath returns the database path; empty means persistence
// is disabled.
func (c *TuningConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return ""
	}
	return *c.DatabasePath
}
