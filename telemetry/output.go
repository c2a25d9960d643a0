// Package telemetry records run output: trajectories, window statistics,
// per-phase timings, journeys and snapshots.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/engine"
)

// TrajectoryRow is one agent at one time in trajectories.csv.
type TrajectoryRow struct {
	Time float64 `csv:"time"`
	ID   int     `csv:"id"`
	X    float64 `csv:"x"`
	Y    float64 `csv:"y"`
	DirX float64 `csv:"dir_x"`
	DirY float64 `csv:"dir_y"`
}

// RunInfo is written to run.json at the start and end of a run.
type RunInfo struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario,omitempty"`
	// ResumedFrom is the snapshot the run continued from.
	ResumedFrom string     `json:"resumed_from,omitempty"`
	Started     time.Time  `json:"started"`
	Finished    *time.Time `json:"finished,omitempty"`
	Steps       int        `json:"steps"`
	SimTime     float64    `json:"sim_time"`
	Threads     int        `json:"threads"`
	DeltaTime   float64    `json:"delta_time"`
	Admitted    int        `json:"admitted"`
	Removed     int        `json:"removed"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// csvFile is an output file that writes its header once.
type csvFile struct {
	f             *os.File
	w             io.Writer
	zw            *zstd.Encoder
	headerWritten bool
}

func createCSV(path string, compress bool) (*csvFile, error) {
	if compress {
		path += ".zst"
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	c := &csvFile{f: f, w: f}
	if compress {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		c.zw = zw
		c.w = zw
	}
	return c, nil
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		c.headerWritten = true
		return gocsv.Marshal(records, c.w)
	}
	return gocsv.MarshalWithoutHeaders(records, c.w)
}

func (c *csvFile) close() error {
	var firstErr error
	if c.zw != nil {
		firstErr = c.zw.Close()
	}
	if err := c.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// OutputManager handles structured run output: trajectory, stats, perf and
// journey CSVs, the effective config and run metadata.
type OutputManager struct {
	dir          string
	trajectories *csvFile
	statsFile    *csvFile
	perfFile     *csvFile
	journeyFile  *csvFile

	rows []TrajectoryRow
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string, compressTrajectories bool) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	var err error
	if om.trajectories, err = createCSV(filepath.Join(dir, "trajectories.csv"), compressTrajectories); err != nil {
		return nil, err
	}
	if om.statsFile, err = createCSV(filepath.Join(dir, "stats.csv"), false); err != nil {
		om.Close()
		return nil, err
	}
	if om.perfFile, err = createCSV(filepath.Join(dir, "perf.csv"), false); err != nil {
		om.Close()
		return nil, err
	}
	if om.journeyFile, err = createCSV(filepath.Join(dir, "journeys.csv"), false); err != nil {
		om.Close()
		return nil, err
	}
	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteRunInfo saves run metadata as run.json, replacing earlier versions.
func (om *OutputManager) WriteRunInfo(info RunInfo) error {
	if om == nil {
		return nil
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, "run.json"), data, 0644); err != nil {
		return fmt.Errorf("writing run.json: %w", err)
	}
	return nil
}

// WriteTrajectories appends one row per live agent at the world's time.
func (om *OutputManager) WriteTrajectories(w *engine.World) error {
	if om == nil || w.NumAgents() == 0 {
		return nil
	}
	om.rows = om.rows[:0]
	t := w.Time()
	for _, a := range w.Agents() {
		p, d := a.Position(), a.ViewingDirection()
		om.rows = append(om.rows, TrajectoryRow{Time: t, ID: a.ID(), X: p.X, Y: p.Y, DirX: d.X, DirY: d.Y})
	}
	if err := om.trajectories.write(om.rows); err != nil {
		return fmt.Errorf("writing trajectories: %w", err)
	}
	return nil
}

// WriteStats writes a window stats record to stats.csv.
func (om *OutputManager) WriteStats(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := om.statsFile.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := om.perfFile.write([]PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteJourneys appends finished or interrupted journeys to journeys.csv.
func (om *OutputManager) WriteJourneys(js []Journey) error {
	if om == nil || len(js) == 0 {
		return nil
	}
	if err := om.journeyFile.write(js); err != nil {
		return fmt.Errorf("writing journeys: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Size returns the total size of the files in the output directory.
func (om *OutputManager) Size() (int64, error) {
	if om == nil {
		return 0, nil
	}
	entries, err := os.ReadDir(om.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.trajectories, om.statsFile, om.perfFile, om.journeyFile} {
		if c == nil {
			continue
		}
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
