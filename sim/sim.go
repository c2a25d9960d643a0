// Package sim is the simulation root. A Simulator owns the world built from
// a scenario, the cost-function registry and every telemetry sink, and runs
// the step loop.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/costfunctions"
	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/scenario"
	"github.com/pthm-cable/crowdsim/telemetry"
)

// Options configures a Simulator.
type Options struct {
	// Config is modified by the scenario's simulation overrides. Nil loads
	// the embedded defaults.
	Config *config.Config
	// Registry defaults to every model of package costfunctions.
	Registry *engine.Registry

	LogStats bool
	// OutputDir and SnapshotDir override the config when set.
	OutputDir   string
	SnapshotDir string

	// StatsCallback receives every flushed stats window.
	StatsCallback func(telemetry.WindowStats)
	// JourneyCallback receives every finished or interrupted journey.
	JourneyCallback func(telemetry.Journey)
}

// Simulator runs one scenario.
type Simulator struct {
	cfg      *config.Config
	scenario *scenario.Scenario
	registry *engine.Registry
	world    *engine.World
	step     int

	perfCollector *telemetry.PerfCollector
	collector     *telemetry.Collector
	journeys      *telemetry.JourneyTracker
	outputManager *telemetry.OutputManager
	info          telemetry.RunInfo

	logStats           bool
	snapshotDir        string
	snapshotEverySteps int
	statsCallback      func(telemetry.WindowStats)
	journeyCallback    func(telemetry.Journey)
}

// Load reads the scenario at path and creates a Simulator for it.
func Load(path string, opts Options) (*Simulator, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	return New(sc, opts)
}

// New builds the scenario's world and opens the output sinks.
func New(sc *scenario.Scenario, opts Options) (*Simulator, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(""); err != nil {
			return nil, err
		}
	}
	reg := opts.Registry
	if reg == nil {
		reg = costfunctions.NewRegistry()
	}
	sc.Configure(cfg)

	w, err := scenario.Build(sc, cfg, reg)
	if err != nil {
		return nil, err
	}

	outputDir := cfg.Output.Dir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	om, err := telemetry.NewOutputManager(outputDir, cfg.Telemetry.CompressTrajectories)
	if err != nil {
		w.Close()
		return nil, err
	}

	s := &Simulator{
		cfg:             cfg,
		scenario:        sc,
		registry:        reg,
		world:           w,
		perfCollector:   telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		collector:       telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Simulation.DeltaTime),
		journeys:        telemetry.NewJourneyTracker(),
		outputManager:   om,
		logStats:        opts.LogStats,
		snapshotDir:     cfg.Output.SnapshotDir,
		statsCallback:   opts.StatsCallback,
		journeyCallback: opts.JourneyCallback,
		info: telemetry.RunInfo{
			RunID:     telemetry.NewRunID(),
			Scenario:  sc.Path,
			Started:   time.Now(),
			Threads:   w.Threads(),
			DeltaTime: cfg.Simulation.DeltaTime,
		},
	}
	if opts.SnapshotDir != "" {
		s.snapshotDir = opts.SnapshotDir
	}
	if cfg.Output.SnapshotEvery > 0 {
		s.snapshotEverySteps = max(1, int(math.Round(cfg.Output.SnapshotEvery/cfg.Simulation.DeltaTime)))
	}
	w.SetObserver(s.perfCollector)
	s.collector.Reset(0, w)

	if err := om.WriteConfig(cfg); err != nil {
		s.closeSinks()
		return nil, err
	}
	if err := om.WriteRunInfo(s.info); err != nil {
		s.closeSinks()
		return nil, err
	}

	slog.Info("simulator created",
		"run_id", s.info.RunID,
		"scenario", sc.Path,
		"delta_time", cfg.Simulation.DeltaTime,
		"max_steps", cfg.Derived.MaxSteps,
		"stats_window_steps", cfg.Derived.StatsWindowSteps,
		"threads", w.Threads(),
		"output_dir", om.Dir(),
	)
	return s, nil
}

func (s *Simulator) World() *engine.World             { return s.world }
func (s *Simulator) Config() *config.Config           { return s.cfg }
func (s *Simulator) Registry() *engine.Registry       { return s.registry }
func (s *Simulator) Scenario() *scenario.Scenario     { return s.scenario }
func (s *Simulator) RunID() string                    { return s.info.RunID }
func (s *Simulator) StepCount() int                   { return s.step }
func (s *Simulator) Time() float64                    { return s.world.Time() }
func (s *Simulator) PerfStats() telemetry.PerfStats   { return s.perfCollector.Stats() }
func (s *Simulator) Output() *telemetry.OutputManager { return s.outputManager }

// Done reports whether the configured end has been reached or no agent is
// left to simulate.
func (s *Simulator) Done() bool {
	if m := s.cfg.Derived.MaxSteps; m > 0 && s.step >= m {
		return true
	}
	return s.world.NumAgents() == 0 && s.world.NumScheduled() == 0
}

// Step advances the world by one step and feeds the telemetry sinks. Sink
// errors are logged, not returned.
func (s *Simulator) Step() {
	s.perfCollector.StartStep()
	s.world.Step()
	s.step++

	s.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	s.recordStep()
	s.perfCollector.EndStep()
}

// RunSteps performs n steps.
func (s *Simulator) RunSteps(n int) {
	for range n {
		s.Step()
	}
}

// Run steps until Done or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Step()
	}
	return nil
}

func (s *Simulator) recordStep() {
	if s.step%s.cfg.Telemetry.TrajectoryEvery == 0 {
		if err := s.outputManager.WriteTrajectories(s.world); err != nil {
			slog.Error("failed to write trajectories", "error", err)
		}
	}

	if done := s.journeys.Update(s.world); len(done) > 0 {
		s.writeJourneys(done)
	}

	if s.collector.ShouldFlush(s.step) {
		s.flushTelemetry()
	}

	if s.snapshotEverySteps > 0 && s.step%s.snapshotEverySteps == 0 {
		s.saveSnapshot()
	}
}

func (s *Simulator) writeJourneys(js []telemetry.Journey) {
	if s.journeyCallback != nil {
		for _, j := range js {
			s.journeyCallback(j)
		}
	}
	if err := s.outputManager.WriteJourneys(js); err != nil {
		slog.Error("failed to write journeys", "error", err)
	}
}

// flushTelemetry reports the stats window that ends at the current step.
func (s *Simulator) flushTelemetry() {
	stats := s.collector.Flush(s.step, s.world)
	perfStats := s.perfCollector.Stats()

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.outputManager.WriteStats(stats); err != nil {
		slog.Error("failed to write stats", "error", err)
	}
	if err := s.outputManager.WritePerf(perfStats, stats.WindowEndStep); err != nil {
		slog.Error("failed to write perf", "error", err)
	}
}

// Snapshot captures the current world state.
func (s *Simulator) Snapshot() *telemetry.Snapshot {
	snapshot := telemetry.CaptureSnapshot(s.world, s.step, s.info.RunID)
	snapshot.Scenario = s.scenario.Path
	return snapshot
}

// SaveSnapshot writes a snapshot to the snapshot directory and returns its
// path.
func (s *Simulator) SaveSnapshot() (string, error) {
	if s.snapshotDir == "" {
		return "", errors.New("no snapshot directory configured")
	}
	return telemetry.SaveSnapshot(s.Snapshot(), s.snapshotDir)
}

func (s *Simulator) saveSnapshot() {
	path, err := s.SaveSnapshot()
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}
	slog.Info("snapshot saved", "path", path, "step", s.step)
}

// Resume continues from a snapshot of the same scenario. It must be called
// before the first Step. Journeys of resumed agents restart at the
// snapshot's time.
func (s *Simulator) Resume(path string) error {
	if s.step != 0 || s.world.Time() != 0 {
		return errors.New("resume after stepping")
	}
	snapshot, err := telemetry.LoadSnapshot(path)
	if err != nil {
		return err
	}
	if err := snapshot.Apply(s.world); err != nil {
		return fmt.Errorf("applying %s: %w", path, err)
	}
	s.step = snapshot.Step
	s.collector.Reset(s.step, s.world)
	s.info.ResumedFrom = path
	if err := s.outputManager.WriteRunInfo(s.info); err != nil {
		slog.Error("failed to write run info", "error", err)
	}

	slog.Info("resumed from snapshot",
		"path", path,
		"from_run", snapshot.RunID,
		"step", snapshot.Step,
		"time", snapshot.Time,
		"agents", s.world.NumAgents(),
		"scheduled", s.world.NumScheduled(),
	)
	return nil
}

// Close flushes open journeys, writes a final snapshot when a snapshot
// directory is set and closes the sinks and the world.
func (s *Simulator) Close() error {
	if rest := s.journeys.Close(); len(rest) > 0 {
		s.writeJourneys(rest)
	}
	if s.snapshotDir != "" {
		s.saveSnapshot()
	}

	finished := time.Now()
	s.info.Finished = &finished
	s.info.Steps = s.step
	s.info.SimTime = s.world.Time()
	s.info.Admitted = s.world.TotalAdmitted()
	s.info.Removed = s.world.TotalRemoved()
	err := s.outputManager.WriteRunInfo(s.info)

	if cerr := s.closeSinks(); err == nil {
		err = cerr
	}
	return err
}

func (s *Simulator) closeSinks() error {
	s.world.Close()
	return s.outputManager.Close()
}
