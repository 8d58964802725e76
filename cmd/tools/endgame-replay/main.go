// Package main provides a replay tool for recorded tracking samples.
// It loads per-path sample sequences from a JSON file, runs the
// power-series endgame over them, and optionally persists outcomes to
// SQLite and renders convergence plots.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/holonomy-labs/pathwise/internal/config"
	"github.com/holonomy-labs/pathwise/internal/endgame"
	"github.com/holonomy-labs/pathwise/internal/monitor"
	"github.com/holonomy-labs/pathwise/internal/runner"
	"github.com/holonomy-labs/pathwise/internal/storage/sqlite"
	"github.com/holonomy-labs/pathwise/internal/tracking"
	"github.com/holonomy-labs/pathwise/internal/version"
)

// Config holds the replay tool settings.
type Config struct {
	SamplesFile string
	ConfigFile  string
	DBPath      string
	PlotDir     string
	BatchID     string
	Workers     int
	ShowVersion bool
}

// sampleFile is the on-disk format: one entry per path, samples in
// tracking order. Complex values are encoded as [re, im] pairs.
type sampleFile struct {
	Paths []recordedPath `json:"paths"`
}

type recordedPath struct {
	PathID  string           `json:"path_id"`
	Samples []recordedSample `json:"samples"`
}

type recordedSample struct {
	Time       [2]float64   `json:"time"`
	Point      [][2]float64 `json:"point"`
	Derivative [][2]float64 `json:"derivative"`
}

// replaySource feeds recorded samples back as a tracking.SampleSource.
type replaySource struct {
	samples []tracking.Sample
	idx     int
}

func (s *replaySource) Next() (tracking.Sample, error) {
	if s.idx >= len(s.samples) {
		return tracking.Sample{}, tracking.ErrPathExhausted
	}
	sample := s.samples[s.idx]
	s.idx++
	return sample, nil
}

// pathSummary is one row of the JSON summary printed to stdout.
type pathSummary struct {
	PathID      string       `json:"path_id"`
	RunID       string       `json:"run_id"`
	State       string       `json:"state"`
	Converged   bool         `json:"converged"`
	CycleNumber int          `json:"cycle_number"`
	Refinements int          `json:"refinements"`
	LastDelta   float64      `json:"last_delta"`
	Estimate    [][2]float64 `json:"estimate,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type batchSummary struct {
	BatchID     string        `json:"batch_id"`
	Paths       int           `json:"paths"`
	Converged   int           `json:"converged"`
	Failed      int           `json:"failed"`
	Errored     int           `json:"errored"`
	ElapsedMs   int64         `json:"elapsed_ms"`
	PlotDir     string        `json:"plot_dir,omitempty"`
	PathResults []pathSummary `json:"path_results"`
}

func main() {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Println("endgame-replay", version.String())
		return
	}

	if cfg.SamplesFile == "" {
		log.Fatal("sample file is required (-samples)")
	}

	paths, err := loadSampleFile(cfg.SamplesFile)
	if err != nil {
		log.Fatalf("Failed to load samples: %v", err)
	}
	if len(paths) == 0 {
		log.Fatalf("No paths in %s", cfg.SamplesFile)
	}

	tuning, err := loadTuning(cfg.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	egCfg := endgame.DefaultConfig()
	tuning.ApplyEndgame(&egCfg)

	workers := cfg.Workers
	if workers <= 0 {
		workers = tuning.GetWorkers()
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = tuning.GetDatabasePath()
	}

	plotBase := cfg.PlotDir
	if plotBase == "" {
		plotBase = tuning.GetPlotOutputDir()
	}

	r := runner.NewRunner(runner.Config{Workers: workers, Endgame: egCfg})

	if dbPath != "" {
		db, err := sqlite.Open(dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		r.WithStore(sqlite.NewRunStore(db.DB))
		log.Printf("Persisting outcomes to %s", dbPath)
	}

	var plotter *monitor.ConvergencePlotter
	plotDir := ""
	if plotBase != "" {
		plotter = monitor.NewConvergencePlotter()
		plotDir = monitor.MakePlotOutputDir(plotBase, cfg.SamplesFile)
		if err := plotter.Start(plotDir); err != nil {
			log.Fatalf("Failed to start plotter: %v", err)
		}
		r.WithPlotter(plotter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, err := r.RunBatch(ctx, cfg.BatchID, paths)
	if err != nil {
		log.Fatalf("Batch failed: %v", err)
	}

	if plotter != nil {
		plotter.Stop()
		if n, err := plotter.GeneratePlots(); err != nil {
			log.Printf("Warning: plot generation failed: %v", err)
		} else {
			log.Printf("Wrote %d plots to %s", n, plotDir)
		}
	}

	if err := printSummary(batch, plotDir); err != nil {
		log.Fatalf("Failed to write summary: %v", err)
	}

	if batch.Errored > 0 || batch.Failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.SamplesFile, "samples", "", "Path to recorded samples JSON file")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to tuning config JSON file")
	flag.StringVar(&cfg.DBPath, "db", "", "SQLite database for run outcomes (overrides config)")
	flag.StringVar(&cfg.PlotDir, "plots", "", "Base directory for convergence plots (overrides config)")
	flag.StringVar(&cfg.BatchID, "batch", "", "Batch ID (generated if empty)")
	flag.IntVar(&cfg.Workers, "workers", 0, "Number of concurrent workers (overrides config)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	flag.Parse()
	return cfg
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// loadSampleFile decodes the recorded sample file into runner specs.
func loadSampleFile(path string) ([]runner.PathSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file sampleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	specs := make([]runner.PathSpec, 0, len(file.Paths))
	for i, p := range file.Paths {
		samples := make([]tracking.Sample, 0, len(p.Samples))
		for j, rs := range p.Samples {
			if len(rs.Point) != len(rs.Derivative) {
				return nil, fmt.Errorf("path %d sample %d: point and derivative dimensions differ", i, j)
			}
			samples = append(samples, tracking.Sample{
				Time:       complex(rs.Time[0], rs.Time[1]),
				Point:      toComplex(rs.Point),
				Derivative: toComplex(rs.Derivative),
			})
		}
		specs = append(specs, runner.PathSpec{
			PathID: p.PathID,
			Source: &replaySource{samples: samples},
		})
	}
	return specs, nil
}

func toComplex(pairs [][2]float64) []complex128 {
	out := make([]complex128, len(pairs))
	for i, p := range pairs {
		out[i] = complex(p[0], p[1])
	}
	return out
}

func printSummary(batch *runner.BatchResult, plotDir string) error {
	summary := batchSummary{
		BatchID:   batch.BatchID,
		Paths:     len(batch.Outcomes),
		Converged: batch.Converged,
		Failed:    batch.Failed,
		Errored:   batch.Errored,
		ElapsedMs: batch.Elapsed.Milliseconds(),
		PlotDir:   plotDir,
	}

	for _, o := range batch.Outcomes {
		// JSON cannot encode NaN; a path abandoned before its first
		// comparison has no delta yet.
		lastDelta := o.Result.LastDelta
		if math.IsNaN(lastDelta) {
			lastDelta = -1
		}
		ps := pathSummary{
			PathID:      o.PathID,
			RunID:       o.RunID,
			State:       o.State.String(),
			Converged:   o.Result.Converged,
			CycleNumber: o.Result.CycleNumber,
			Refinements: o.Result.Refinements,
			LastDelta:   lastDelta,
		}
		if o.Result.Estimate != nil {
			ps.Estimate = make([][2]float64, len(o.Result.Estimate))
			for i, z := range o.Result.Estimate {
				ps.Estimate[i] = [2]float64{real(z), imag(z)}
			}
		}
		if o.Err != nil {
			ps.Error = o.Err.Error()
		}
		summary.PathResults = append(summary.PathResults, ps)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
