package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Simulation.DeltaTime != 0.1 {
		t.Errorf("delta_time = %v", cfg.Simulation.DeltaTime)
	}
	if cfg.Derived.Threads != 1 {
		t.Errorf("threads = %d, want 1", cfg.Derived.Threads)
	}
	if cfg.Derived.StatsWindowSteps != 100 {
		t.Errorf("stats window steps = %d, want 100", cfg.Derived.StatsWindowSteps)
	}
	if cfg.Derived.MaxSteps != 0 {
		t.Errorf("max steps = %d, want unlimited", cfg.Derived.MaxSteps)
	}
	if cfg.Derived.AgentSettings.Radius != 0.24 {
		t.Errorf("agent radius = %v", cfg.Derived.AgentSettings.Radius)
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := []byte("simulation:\n  delta_time: 0.05\n  end_time: 12\n  threads: 3\nagent:\n  radius: 0.3\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		got, want float64
	}{
		{"delta time", cfg.Simulation.DeltaTime, 0.05},
		{"threads", float64(cfg.Derived.Threads), 3},
		{"max steps from end time", float64(cfg.Derived.MaxSteps), 240},
		{"overridden radius", cfg.Derived.AgentSettings.Radius, 0.3},
		{"untouched speed", cfg.Derived.AgentSettings.PreferredSpeed, 1.4},
		{"stats window", float64(cfg.Derived.StatsWindowSteps), 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestSettersRecomputeDerived(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.SetDeltaTime(0.25)
	cfg.SetEndTime(5)
	cfg.SetThreads(2)
	cfg.SetStatsWindow(1)

	tests := []struct {
		name      string
		got, want int
	}{
		{"threads", cfg.Derived.Threads, 2},
		{"max steps", cfg.Derived.MaxSteps, 20},
		{"stats window steps", cfg.Derived.StatsWindowSteps, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}

	cfg.SetThreads(0)
	if cfg.Derived.Threads != runtime.NumCPU() {
		t.Errorf("threads 0 resolved to %d, want one per CPU (%d)", cfg.Derived.Threads, runtime.NumCPU())
	}

	cfg.Simulation.MaxSteps = 7
	cfg.SetEndTime(100)
	if cfg.Derived.MaxSteps != 7 {
		t.Errorf("explicit max_steps replaced by %d", cfg.Derived.MaxSteps)
	}
}

func TestLoadRejectsBadDeltaTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  delta_time: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for delta_time 0")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Telemetry.CompressTrajectories = true

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatal(err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Telemetry.CompressTrajectories {
		t.Error("written config lost compress_trajectories")
	}
}
