package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/scenario"
	"github.com/pthm-cable/crowdsim/sim"
	"github.com/pthm-cable/crowdsim/telemetry"
)

// failedFitness is returned for parameter sets the scenario rejects.
const failedFitness = 1e9

// LoadReference reads recorded trajectories in the trajectories.csv format,
// optionally zstd compressed.
func LoadReference(path string) ([]telemetry.TrajectoryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening reference: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var rows []telemetry.TrajectoryRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing reference: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("reference %s has no rows", path)
	}
	return rows, nil
}

// frames groups reference rows by the step whose end time they record.
func frames(rows []telemetry.TrajectoryRow, dt float64) (map[int][]telemetry.TrajectoryRow, int) {
	out := make(map[int][]telemetry.TrajectoryRow)
	last := 0
	for _, r := range rows {
		step := int(math.Round(r.Time / dt))
		out[step] = append(out[step], r)
		last = max(last, step)
	}
	return out, last
}

// runResult holds the trajectory error of one simulation run.
type runResult struct {
	errors  []float64 // position error of every matched reference row
	missing int       // reference rows whose agent was not in the world
}

// FitnessEvaluator runs the scenario headless and compares it with a
// reference recording.
type FitnessEvaluator struct {
	params      *ParamVector
	base        *scenario.Scenario
	baseConfig  *config.Config
	frames      map[int][]telemetry.TrajectoryRow
	lastStep    int
	missPenalty float64

	mu          sync.Mutex
	lastADE     float64
	lastMissing int
}

// NewFitnessEvaluator creates a new evaluator. Reference times are matched to
// steps with the scenario's delta time.
func NewFitnessEvaluator(params *ParamVector, base *scenario.Scenario, baseCfg *config.Config, ref []telemetry.TrajectoryRow, missPenalty float64) *FitnessEvaluator {
	cfg := *baseCfg
	base.Configure(&cfg)
	fr, last := frames(ref, cfg.Simulation.DeltaTime)
	return &FitnessEvaluator{
		params:      params,
		base:        base,
		baseConfig:  baseCfg,
		frames:      fr,
		lastStep:    last,
		missPenalty: missPenalty,
	}
}

// LastADE returns the average displacement error of the most recent
// evaluation.
func (fe *FitnessEvaluator) LastADE() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastADE
}

// LastMissing returns the unmatched reference rows of the most recent
// evaluation.
func (fe *FitnessEvaluator) LastMissing() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastMissing
}

// Evaluate computes fitness for raw parameter values (lower = better): the
// mean position error over all reference rows, where a row without a live
// agent costs missPenalty meters.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	r, err := fe.runSimulation(x)
	if err != nil {
		slog.Warn("evaluation failed", "error", err)
		return failedFitness
	}

	n := len(r.errors) + r.missing
	if n == 0 {
		return failedFitness
	}
	sum := floats.Sum(r.errors)
	var ade float64
	if len(r.errors) > 0 {
		ade = sum / float64(len(r.errors))
	}

	fe.mu.Lock()
	fe.lastADE = ade
	fe.lastMissing = r.missing
	fe.mu.Unlock()

	return (sum + fe.missPenalty*float64(r.missing)) / float64(n)
}

// runSimulation steps a fresh copy of the scenario up to the last reference
// time.
func (fe *FitnessEvaluator) runSimulation(x []float64) (*runResult, error) {
	sc, err := fe.base.Clone()
	if err != nil {
		return nil, err
	}
	if err := fe.params.Apply(sc, x); err != nil {
		return nil, err
	}

	cfg := fe.copyConfig()
	s, err := sim.New(sc, sim.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	result := &runResult{}
	pos, want := make([]float64, 2), make([]float64, 2)
	compare := func() {
		for _, row := range fe.frames[s.StepCount()] {
			a, ok := s.World().Agent(row.ID)
			if !ok {
				result.missing++
				continue
			}
			p := a.Position()
			pos[0], pos[1] = p.X, p.Y
			want[0], want[1] = row.X, row.Y
			result.errors = append(result.errors, floats.Distance(pos, want, 2))
		}
	}

	compare()
	for s.StepCount() < fe.lastStep {
		s.Step()
		compare()
	}
	return result, nil
}

// copyConfig copies the base config without any output locations, so runs
// write nothing.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Output = config.OutputConfig{}
	return &cfg
}
