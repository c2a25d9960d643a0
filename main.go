package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	scenarioPath := flag.String("scenario", "", "Path to the scenario YAML file")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for snapshot files")
	resume := flag.String("resume", "", "Snapshot file to continue from")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	maxSteps := flag.Int("max-steps", 0, "Stop after N steps (0 = use config and scenario)")
	threads := flag.Int("threads", -1, "Worker threads (0 = one per CPU, -1 = use config)")
	progressEvery := flag.Int("progress-every", 1000, "Log progress every N steps (0 = never)")
	debug := flag.Bool("debug", false, "Log agent admissions and removals")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *scenarioPath == "" {
		slog.Error("-scenario is required")
		os.Exit(2)
	}

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// CLI overrides
	if *statsWindow > 0 {
		cfg.SetStatsWindow(*statsWindow)
	}
	if *threads >= 0 {
		cfg.SetThreads(*threads)
	}

	s, err := sim.Load(*scenarioPath, sim.Options{
		Config:      cfg,
		LogStats:    *logStats,
		OutputDir:   *outputDir,
		SnapshotDir: *snapshotDir,
	})
	if err != nil {
		slog.Error("failed to load scenario", "path", *scenarioPath, "error", err)
		os.Exit(1)
	}

	if *resume != "" {
		if err := s.Resume(*resume); err != nil {
			slog.Error("failed to resume", "snapshot", *resume, "error", err)
			s.Close()
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stepLimit := cfg.Derived.MaxSteps
	if *maxSteps > 0 {
		stepLimit = *maxSteps
	}

	slog.Info("starting simulation",
		"run_id", s.RunID(),
		"scenario", *scenarioPath,
		"agents", s.World().NumAgents(),
		"scheduled", s.World().NumScheduled(),
		"max_steps", stepLimit,
	)

	start := time.Now()
	startStep := s.StepCount()
	for !s.Done() && (stepLimit == 0 || s.StepCount() < stepLimit) {
		if ctx.Err() != nil {
			slog.Info("interrupted", "step", s.StepCount())
			break
		}
		s.Step()

		if *progressEvery > 0 && s.StepCount()%*progressEvery == 0 {
			logProgress(s, start, startStep)
		}
	}

	logProgress(s, start, startStep)
	if err := s.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
		os.Exit(1)
	}
	logOutput(s)
}

func logProgress(s *sim.Simulator, start time.Time, startStep int) {
	elapsed := time.Since(start)
	steps := s.StepCount() - startStep
	var rate float64
	if elapsed > 0 {
		rate = float64(steps) / elapsed.Seconds()
	}
	w := s.World()
	slog.Info("progress",
		"step", humanize.Comma(int64(s.StepCount())),
		"sim_time", humanize.FtoaWithDigits(w.Time(), 2),
		"agents", w.NumAgents(),
		"arrived", humanize.Comma(int64(w.TotalRemoved())),
		"steps_per_sec", humanize.FtoaWithDigits(rate, 1),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
}

func logOutput(s *sim.Simulator) {
	om := s.Output()
	if om == nil {
		return
	}
	size, err := om.Size()
	if err != nil {
		slog.Error("failed to measure output", "error", err)
		return
	}
	slog.Info("output written", "dir", om.Dir(), "size", humanize.Bytes(uint64(size)))
}
