package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ConvergencePlotter records per-path refinement progress for
// visualization. Each refinement of each path appends one sample;
// GeneratePlots renders the accumulated series after a run.
type ConvergencePlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	// samples holds per-path refinement series keyed by path ID.
	samples map[string][]RefinementSample

	startTime time.Time
}

// RefinementSample is one snapshot of a path's convergence state.
type RefinementSample struct {
	Refinement int
	Cycle      int
	Window     int
	Delta      float64
	Timestamp  time.Time
}

// NewConvergencePlotter creates a plotter. It records nothing until
// Start is called.
func NewConvergencePlotter() *ConvergencePlotter {
	return &ConvergencePlotter{
		samples: make(map[string][]RefinementSample),
	}
}

// Start initializes the plotter for a new run and enables recording.
// outputDir should be a timestamped directory (e.g., "plots/20260823_101500").
func (cp *ConvergencePlotter) Start(outputDir string) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	cp.outputDir = outputDir
	cp.enabled = true
	cp.startTime = time.Time{}
	cp.samples = make(map[string][]RefinementSample)
	return nil
}

// Stop disables recording. Call GeneratePlots() to produce output files.
func (cp *ConvergencePlotter) Stop() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (cp *ConvergencePlotter) IsEnabled() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.enabled
}

// Record appends one refinement sample for a path. Safe to call from
// concurrent runner workers; a disabled plotter makes this a no-op.
func (cp *ConvergencePlotter) Record(pathID string, sample RefinementSample) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.enabled {
		return
	}

	now := time.Now()
	if cp.startTime.IsZero() {
		cp.startTime = now
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	cp.samples[pathID] = append(cp.samples[pathID], sample)
}

// SampleCount returns the total number of samples collected.
func (cp *ConvergencePlotter) SampleCount() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	count := 0
	for _, samples := range cp.samples {
		count += len(samples)
	}
	return count
}

// OutputDir returns the current output directory for plots.
func (cp *ConvergencePlotter) OutputDir() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.outputDir
}

// GeneratePlots creates PNG files showing delta decay and cycle number
// evolution across refinements. Returns the number of plots generated.
func (cp *ConvergencePlotter) GeneratePlots() (int, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	if len(cp.samples) == 0 {
		return 0, nil
	}

	// Sort path IDs for a stable legend.
	var pathIDs []string
	for pathID := range cp.samples {
		pathIDs = append(pathIDs, pathID)
	}
	sort.Strings(pathIDs)

	colors := generateColors(len(pathIDs))

	pDelta := plot.New()
	pDelta.Title.Text = "Extrapolation Delta Decay"
	pDelta.X.Label.Text = "Refinement"
	pDelta.Y.Label.Text = "log10(delta)"

	pCycle := plot.New()
	pCycle.Title.Text = "Cycle Number Estimates"
	pCycle.X.Label.Text = "Refinement"
	pCycle.Y.Label.Text = "Cycle"

	plotCount := 0
	for i, pathID := range pathIDs {
		samples := cp.samples[pathID]
		if len(samples) == 0 {
			continue
		}

		sort.Slice(samples, func(a, b int) bool {
			return samples[a].Refinement < samples[b].Refinement
		})

		deltaPts := make(plotter.XYs, 0, len(samples))
		cyclePts := make(plotter.XYs, 0, len(samples))
		for _, s := range samples {
			// Zero deltas (exact agreement) have no log; clamp to the
			// bottom of the plotted range.
			logDelta := -16.0
			if s.Delta > 0 {
				logDelta = math.Log10(s.Delta)
			}
			deltaPts = append(deltaPts, plotter.XY{X: float64(s.Refinement), Y: logDelta})
			cyclePts = append(cyclePts, plotter.XY{X: float64(s.Refinement), Y: float64(s.Cycle)})
		}

		deltaLine, err := plotter.NewLine(deltaPts)
		if err != nil {
			return plotCount, fmt.Errorf("path %s: %w", pathID, err)
		}
		deltaLine.Color = colors[i]
		deltaLine.Width = vg.Points(1)
		pDelta.Add(deltaLine)
		pDelta.Legend.Add(pathID, deltaLine)

		cycleLine, err := plotter.NewLine(cyclePts)
		if err != nil {
			return plotCount, fmt.Errorf("path %s: %w", pathID, err)
		}
		cycleLine.Color = colors[i]
		cycleLine.Width = vg.Points(1)
		pCycle.Add(cycleLine)
		pCycle.Legend.Add(pathID, cycleLine)
	}

	pDelta.Legend.Top = true
	pDelta.Legend.Left = false
	pDelta.Legend.XOffs = -10
	pDelta.Legend.YOffs = -10

	pCycle.Legend.Top = true
	pCycle.Legend.Left = false
	pCycle.Legend.XOffs = -10
	pCycle.Legend.YOffs = -10

	deltaFile := filepath.Join(cp.outputDir, "delta_decay.png")
	if err := pDelta.Save(14*vg.Inch, 6*vg.Inch, deltaFile); err != nil {
		return plotCount, fmt.Errorf("save delta plot: %w", err)
	}
	plotCount++

	cycleFile := filepath.Join(cp.outputDir, "cycle_numbers.png")
	if err := pCycle.Save(14*vg.Inch, 6*vg.Inch, cycleFile); err != nil {
		return plotCount, fmt.Errorf("save cycle plot: %w", err)
	}
	plotCount++

	return plotCount, nil
}

// generateColors creates a palette of distinct colors for path lines.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range).
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory path under
// baseDir, optionally namespaced by the input file's basename.
func MakePlotOutputDir(baseDir, inputFile string) string {
	ts := FormatTimestamp(time.Now())
	if inputFile != "" {
		base := filepath.Base(inputFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "run_"+ts)
}
