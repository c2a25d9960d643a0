// Package config provides configuration loading and access for simulation runs.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/crowdsim/engine"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all run configuration parameters. Scenario files describe the
// world itself; this is everything around it.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Agent      AgentConfig      `yaml:"agent"`
	Policy     PolicyConfig     `yaml:"policy"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Output     OutputConfig     `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds stepping parameters. Scenario values take precedence
// when a scenario sets them.
type SimulationConfig struct {
	DeltaTime float64 `yaml:"delta_time"`
	Threads   int     `yaml:"threads"`   // default 1, 0 = one per CPU
	EndTime   float64 `yaml:"end_time"`  // 0 = run until max_steps or every agent is gone
	MaxSteps  int     `yaml:"max_steps"` // 0 = unlimited
}

// AgentConfig holds the settings of agents that do not specify their own.
type AgentConfig struct {
	Radius          float64 `yaml:"radius"`
	PreferredSpeed  float64 `yaml:"preferred_speed"`
	MaxSpeed        float64 `yaml:"max_speed"`
	MaxAcceleration float64 `yaml:"max_acceleration"`
	Mass            float64 `yaml:"mass"`
	RemoveAtGoal    bool    `yaml:"remove_at_goal"`
}

// PolicyConfig holds policy defaults.
type PolicyConfig struct {
	RelaxationTime    float64 `yaml:"relaxation_time"`
	ContactForceScale float64 `yaml:"contact_force_scale"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow          float64 `yaml:"stats_window"` // seconds of simulated time
	PerfCollectorWindow  int     `yaml:"perf_collector_window"`
	TrajectoryEvery      int     `yaml:"trajectory_every"` // steps between trajectory rows
	CompressTrajectories bool    `yaml:"compress_trajectories"`
}

// OutputConfig holds output locations.
type OutputConfig struct {
	Dir           string  `yaml:"dir"`
	SnapshotDir   string  `yaml:"snapshot_dir"`
	SnapshotEvery float64 `yaml:"snapshot_every"` // seconds, 0 = only at the end
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Threads          int                  // Simulation.Threads resolved against the CPU count
	StatsWindowSteps int                  // StatsWindow in steps, at least 1
	MaxSteps         int                  // from MaxSteps or EndTime, 0 = unlimited
	AgentSettings    engine.AgentSettings // Agent section as engine settings
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if cfg.Simulation.DeltaTime <= 0 {
		return nil, fmt.Errorf("simulation.delta_time must be positive, got %v", cfg.Simulation.DeltaTime)
	}

	cfg.computeDerived()
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	switch n := c.Simulation.Threads; {
	case n == 0:
		c.Derived.Threads = runtime.NumCPU()
	case n < 0:
		c.Derived.Threads = 1
	default:
		c.Derived.Threads = n
	}

	c.Derived.StatsWindowSteps = max(1, int(math.Round(c.Telemetry.StatsWindow/c.Simulation.DeltaTime)))

	c.Derived.MaxSteps = c.Simulation.MaxSteps
	if c.Derived.MaxSteps == 0 && c.Simulation.EndTime > 0 {
		c.Derived.MaxSteps = int(math.Ceil(c.Simulation.EndTime / c.Simulation.DeltaTime))
	}

	if c.Telemetry.TrajectoryEvery < 1 {
		c.Telemetry.TrajectoryEvery = 1
	}

	s := engine.DefaultAgentSettings()
	s.Radius = c.Agent.Radius
	s.PreferredSpeed = c.Agent.PreferredSpeed
	s.MaxSpeed = c.Agent.MaxSpeed
	s.MaxAcceleration = c.Agent.MaxAcceleration
	s.Mass = c.Agent.Mass
	s.RemoveAtGoal = c.Agent.RemoveAtGoal
	c.Derived.AgentSettings = s
}

// SetDeltaTime overrides the step length and recomputes derived values.
func (c *Config) SetDeltaTime(dt float64) {
	c.Simulation.DeltaTime = dt
	c.computeDerived()
}

// SetThreads overrides the worker count; 0 means one per CPU.
func (c *Config) SetThreads(n int) {
	c.Simulation.Threads = n
	c.computeDerived()
}

// SetStatsWindow overrides the stats window length in seconds.
func (c *Config) SetStatsWindow(sec float64) {
	c.Telemetry.StatsWindow = sec
	c.computeDerived()
}

// SetEndTime overrides the simulated duration and recomputes derived values.
// An explicit max_steps still wins.
func (c *Config) SetEndTime(t float64) {
	c.Simulation.EndTime = t
	c.computeDerived()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
