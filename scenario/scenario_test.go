package scenario

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/costfunctions"
	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func build(t *testing.T, sc *Scenario) *engine.World {
	t.Helper()
	cfg := loadConfig(t)
	sc.Configure(cfg)
	w, err := Build(sc, cfg, costfunctions.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Close)
	return w
}

func TestBundledScenarios(t *testing.T) {
	tests := []struct {
		file      string
		topology  string
		agents    int
		obstacles int
	}{
		{"swap.yaml", "Infinite", 2, 0},
		{"lanes.yaml", "Infinite", 100, 0},
		{"corridor.yaml", "Toric", 24, 2},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			sc, err := Load(filepath.Join("..", "scenarios", tt.file))
			if err != nil {
				t.Fatal(err)
			}
			w := build(t, sc)
			if got := w.Topology().Name(); got != tt.topology {
				t.Errorf("topology = %s, want %s", got, tt.topology)
			}
			if got := w.NumAgents() + w.NumScheduled(); got != tt.agents {
				t.Errorf("agents = %d, want %d", got, tt.agents)
			}
			if got := len(w.Obstacles()); got != tt.obstacles {
				t.Errorf("obstacles = %d, want %d", got, tt.obstacles)
			}
			for range 5 {
				w.Step()
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	const policy = `
policies:
  - id: 0
    method: gradient
    cost_functions: [{name: GoalReachingForce}]
`
	tests := []struct {
		name string
		yaml string
	}{
		{"no policies", "world: {type: Infinite}\n"},
		{"unknown field", policy + "wrld: {}\n"},
		{"unknown world type", policy + "world: {type: Spherical}\n"},
		{"toric without size", policy + "world: {type: Toric}\n"},
		{"planar without bounds", policy + "world: {type: Planar, xmin: 0}\n"},
		{"negative delta time", policy + "simulation: {delta_time: -1}\n"},
		{"unknown method", `
policies:
  - id: 0
    method: annealing
    cost_functions: [{name: GoalReachingForce}]
`},
		{"missing method", `
policies:
  - id: 0
    cost_functions: [{name: GoalReachingForce}]
`},
		{"cost functions and steps", `
policies:
  - id: 0
    method: gradient
    cost_functions: [{name: GoalReachingForce}]
    steps:
      - method: gradient
        cost_functions: [{name: GoalReachingForce}]
`},
		{"empty step", `
policies:
  - id: 0
    steps:
      - method: gradient
        cost_functions: []
`},
		{"bad sampling enum", `
policies:
  - id: 0
    method: sampling
    sampling: {type: sobol}
    cost_functions: [{name: RVO}]
`},
		{"duplicate policy", policy + `
  - id: 0
    method: global
    cost_functions: [{name: ORCA}]
`},
		{"agent with unknown policy", policy + `
agents:
  - position: [0, 0]
    policy: 3
`},
		{"three component position", policy + `
agents:
  - position: [0, 0, 1]
`},
		{"one point obstacle", policy + `
obstacles:
  - points: [[0, 0]]
`},
		{"empty group", policy + `
groups:
  - count: 0
    position: [0, 0]
`},
		{"not yaml", "policies: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "scenario.yaml", tt.yaml)
			_, err := Load(path)
			if !errors.Is(err, ErrInvalidScenario) {
				t.Errorf("Load() error = %v, want ErrInvalidScenario", err)
			}
		})
	}
}

func TestBuildRejectsUnknownCostFunction(t *testing.T) {
	sc, err := Parse([]byte(`
policies:
  - id: 0
    method: gradient
    cost_functions: [{name: Teleport}]
`))
	if err != nil {
		t.Fatal(err)
	}
	cfg := loadConfig(t)
	if _, err := Build(sc, cfg, costfunctions.NewRegistry()); !errors.Is(err, engine.ErrUnknownCostFunction) {
		t.Errorf("Build() error = %v, want ErrUnknownCostFunction", err)
	}
}

func TestConfigPathAndExternalFiles(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.yaml", "config_path: runs/real.yaml\n")
	writeFile(t, dir, "runs/real.yaml", `
world: {type: Planar, xmin: -10, xmax: 10, ymin: -5, ymax: 5}
agents:
  - position: [-8, 0]
    goal: [8, 0]
policies_file: blocks/policies.yaml
agents_file: blocks/agents.yaml
obstacles_file: blocks/obstacles.yaml
`)
	writeFile(t, dir, "runs/blocks/policies.yaml", `
- id: 0
  method: gradient
  cost_functions: [{name: GoalReachingForce}]
`)
	writeFile(t, dir, "runs/blocks/agents.yaml", `
- position: [8, 0]
  goal: [-8, 0]
`)
	writeFile(t, dir, "runs/blocks/obstacles.yaml", `
- points: [[-1, -1], [1, -1], [1, 1], [-1, 1]]
`)

	sc, err := Load(main)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(sc.Path) != "real.yaml" {
		t.Errorf("Path = %s", sc.Path)
	}
	if len(sc.Policies) != 1 || len(sc.Agents) != 2 || len(sc.Obstacles) != 1 {
		t.Fatalf("merged %d policies, %d agents, %d obstacles", len(sc.Policies), len(sc.Agents), len(sc.Obstacles))
	}
	// inline agents come first
	if sc.Agents[0].Position != (Vec{-8, 0}) {
		t.Errorf("first agent at %v", sc.Agents[0].Position)
	}

	w := build(t, sc)
	if w.Topology().Name() != "Planar" {
		t.Errorf("topology = %s", w.Topology().Name())
	}

	t.Run("invalid external block", func(t *testing.T) {
		writeFile(t, dir, "runs/blocks/obstacles.yaml", "- points: 3\n")
		if _, err := Load(main); !errors.Is(err, ErrInvalidScenario) {
			t.Errorf("Load() error = %v", err)
		}
	})
}

func TestConfigPathLoop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "config_path: b.yaml\n")
	writeFile(t, dir, "b.yaml", "config_path: a.yaml\n")
	if _, err := Load(filepath.Join(dir, "a.yaml")); !errors.Is(err, ErrInvalidScenario) {
		t.Errorf("Load() error = %v", err)
	}
}

func TestBuildPolicy(t *testing.T) {
	sc, err := Parse([]byte(`
policies:
  - id: 0
    method: sampling
    relaxation_time: 0.5
    contact_force_scale: 10
    sampling:
      type: random
      base: current velocity
      base_direction: unit
      radius: maximum acceleration
      angle: 360
      random_samples: 250
    cost_functions:
      - name: RVO
        coeff: 2
        params: {w: 3.5}
  - id: 1
    relaxation_time: 0.4
    sampling: {angle_samples: 7}
    steps:
      - method: sampling
        cost_functions: [{name: Karamouzas}]
      - method: gradient
        relaxation_time: 0
        contact_force_scale: 0
        sampling: {angle_samples: 3}
        cost_functions: [{name: GoalReachingForce}, {name: RandomFunction, coeff: 0.1}]
`))
	if err != nil {
		t.Fatal(err)
	}
	cfg := loadConfig(t)
	reg := costfunctions.NewRegistry()

	p0, err := BuildPolicy(sc.Policies[0], cfg, reg)
	if err != nil {
		t.Fatal(err)
	}
	if p0.IsStepped() || p0.Method != engine.Sampling || p0.RelaxationTime != 0.5 || p0.ContactForceScale != 10 {
		t.Errorf("policy 0 = %+v", p0.PolicyStep)
	}
	want := engine.DefaultSamplingParameters()
	want.Type = engine.SamplingRandom
	want.Base = engine.BaseCurrentVelocity
	want.BaseDirection = engine.DirectionUnit
	want.Radius = engine.RadiusMaximumAcceleration
	want.Angle = 360
	want.RandomSamples = 250
	if p0.Sampling != want {
		t.Errorf("sampling = %+v, want %+v", p0.Sampling, want)
	}
	cfs := p0.CostFunctions()
	if len(cfs) != 1 || cfs[0].Weight != 2 {
		t.Fatalf("cost functions = %+v", cfs)
	}
	if rvo, ok := cfs[0].Func.(*costfunctions.RVO); !ok || rvo.W != 3.5 {
		t.Errorf("RVO = %+v", cfs[0].Func)
	}

	p1, err := BuildPolicy(sc.Policies[1], cfg, reg)
	if err != nil {
		t.Fatal(err)
	}
	steps := p1.Steps()
	if !p1.IsStepped() || len(steps) != 2 {
		t.Fatalf("policy 1 has %d steps", len(steps))
	}
	tests := []struct {
		name         string
		step         *engine.PolicyStep
		method       engine.OptimizationMethod
		relax        float64
		contact      float64
		angleSamples int
		funcs        int
	}{
		{"inherits", steps[0], engine.Sampling, 0.4, cfg.Policy.ContactForceScale, 7, 1},
		{"overrides", steps[1], engine.Gradient, 0, 0, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.step
			if s.Method != tt.method || s.RelaxationTime != tt.relax || s.ContactForceScale != tt.contact {
				t.Errorf("step = method %v relax %v contact %v", s.Method, s.RelaxationTime, s.ContactForceScale)
			}
			if s.Sampling.AngleSamples != tt.angleSamples {
				t.Errorf("angle samples = %d, want %d", s.Sampling.AngleSamples, tt.angleSamples)
			}
			if len(s.CostFunctions()) != tt.funcs {
				t.Errorf("%d cost functions, want %d", len(s.CostFunctions()), tt.funcs)
			}
		})
	}
}

func TestAgentSettings(t *testing.T) {
	sc, err := Parse([]byte(`
policies:
  - id: 2
    method: gradient
    cost_functions: [{name: GoalReachingForce}]
agents:
  - position: [1, 2]
    policy: 2
  - id: 7
    position: [3, 4]
    goal: [5, 6]
    policy: 2
    radius: 0.3
    preferred_speed: 1.1
    max_speed: 2
    max_acceleration: 4
    mass: 70
    remove_at_goal: true
    start_time: 1.5
    color: {r: 1, g: 2, b: 3}
`))
	if err != nil {
		t.Fatal(err)
	}
	w := build(t, sc)
	cfg := loadConfig(t)

	a, ok := w.Agent(0)
	if !ok {
		t.Fatal("agent 0 missing")
	}
	want := cfg.Derived.AgentSettings
	want.PolicyID = 2
	if a.Settings() != want {
		t.Errorf("defaults = %+v, want %+v", a.Settings(), want)
	}
	// no goal means the agent already stands at it
	if a.Goal() != geometry.Vec(1, 2) {
		t.Errorf("goal = %v", a.Goal())
	}

	if w.NumScheduled() != 1 {
		t.Fatalf("scheduled = %d, want 1", w.NumScheduled())
	}
	w.SetTime(1.5)
	w.AdmitDue()
	b, ok := w.Agent(7)
	if !ok {
		t.Fatal("agent 7 not admitted")
	}
	s := b.Settings()
	if s.Radius != 0.3 || s.PreferredSpeed != 1.1 || s.MaxSpeed != 2 || s.MaxAcceleration != 4 ||
		s.Mass != 70 || !s.RemoveAtGoal || s.Color != (engine.Color{R: 1, G: 2, B: 3}) {
		t.Errorf("settings = %+v", s)
	}
	if b.Goal() != geometry.Vec(5, 6) || b.StartTime() != 1.5 {
		t.Errorf("goal %v start %v", b.Goal(), b.StartTime())
	}
}

func TestGroupLayout(t *testing.T) {
	g := Group{Count: 5, PerLane: 2, Separation: 1.5, Position: Vec{10, 1}, Goal: &Vec{-10, 1}, Policy: 1}
	agents := g.expand()
	want := []Vec{{10, 1}, {10, 2.5}, {11.5, 1}, {11.5, 2.5}, {13, 1}}
	if len(agents) != len(want) {
		t.Fatalf("%d agents", len(agents))
	}
	for i, a := range agents {
		if a.Position != want[i] {
			t.Errorf("agent %d at %v, want %v", i, a.Position, want[i])
		}
		goal := Vec{want[i][0] - 20, want[i][1]}
		if a.Goal == nil || *a.Goal != goal {
			t.Errorf("agent %d goal %v, want %v", i, a.Goal, goal)
		}
		if a.Policy != 1 {
			t.Errorf("agent %d policy %d", i, a.Policy)
		}
	}
}

func TestConfigure(t *testing.T) {
	cfg := loadConfig(t)
	sc := &Scenario{Simulation: Simulation{DeltaTime: 0.25, EndTime: 2}}
	sc.Configure(cfg)
	if cfg.Simulation.DeltaTime != 0.25 || cfg.Derived.MaxSteps != 8 {
		t.Errorf("delta_time %v, max steps %d", cfg.Simulation.DeltaTime, cfg.Derived.MaxSteps)
	}

	cfg = loadConfig(t)
	(&Scenario{}).Configure(cfg)
	if cfg.Simulation.DeltaTime != 0.1 || cfg.Derived.MaxSteps != 0 {
		t.Errorf("empty scenario changed config: %+v", cfg.Simulation)
	}
}

func TestAttrs(t *testing.T) {
	p := attrs{
		"f":    2.5,
		"s":    "0.75",
		"i":    3.0,
		"frac": 1.5,
		"b":    true,
		"bs":   "false",
		"name": "abc",
		"v":    []any{1.0, -2.0},
		"vs":   "3, 4",
		"bad":  []any{1.0},
	}

	var f float64
	if !p.ReadFloat("f", &f) || f != 2.5 {
		t.Errorf("f = %v", f)
	}
	if !p.ReadFloat("s", &f) || math.Abs(f-0.75) > 1e-12 {
		t.Errorf("s = %v", f)
	}
	if p.ReadFloat("missing", &f) || f != 0.75 {
		t.Error("missing float touched destination")
	}

	var i int
	if !p.ReadInt("i", &i) || i != 3 {
		t.Errorf("i = %d", i)
	}
	if p.ReadInt("frac", &i) {
		t.Error("fractional int accepted")
	}

	var b bool
	if !p.ReadBool("b", &b) || !b {
		t.Error("b")
	}
	if !p.ReadBool("bs", &b) || b {
		t.Error("bs")
	}

	var s string
	if !p.ReadString("name", &s) || s != "abc" {
		t.Errorf("name = %q", s)
	}

	var v geometry.Vector2D
	if !p.ReadVector2D("v", &v) || v != geometry.Vec(1, -2) {
		t.Errorf("v = %v", v)
	}
	if !p.ReadVector2D("vs", &v) || v != geometry.Vec(3, 4) {
		t.Errorf("vs = %v", v)
	}
	if p.ReadVector2D("bad", &v) {
		t.Error("one-element vector accepted")
	}
}

func TestSaveFlattensExternalFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.yaml", `
world: {type: Toric, width: 20, height: 10}
policies_file: policies.yaml
groups:
  - {count: 4, per_lane: 2, position: [0, 0], goal: [10, 0]}
obstacles:
  - points: [[-1, 4], [1, 4]]
`)
	writeFile(t, dir, "policies.yaml", `
- id: 0
  method: gradient
  cost_functions: [{name: GoalReachingForce, coeff: 0.5}, {name: RandomFunction, params: {range: 2}}]
`)
	sc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "flat.yaml")
	if err := sc.Save(out); err != nil {
		t.Fatal(err)
	}
	got, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if got.PoliciesFile != "" || len(got.Groups) != 0 {
		t.Errorf("saved file keeps references: %q, %d groups", got.PoliciesFile, len(got.Groups))
	}
	if len(got.Agents) != 4 || len(got.Policies) != 1 || len(got.Obstacles) != 1 {
		t.Fatalf("reloaded %d agents, %d policies, %d obstacles", len(got.Agents), len(got.Policies), len(got.Obstacles))
	}
	if got.World != sc.World {
		t.Errorf("world = %+v, want %+v", got.World, sc.World)
	}
	for i := range got.Agents {
		if got.Agents[i].Position != sc.Agents[i].Position || *got.Agents[i].Goal != *sc.Agents[i].Goal {
			t.Errorf("agent %d = %v -> %v", i, got.Agents[i].Position, *got.Agents[i].Goal)
		}
	}
	if c := got.Policies[0].CostFunctions[0].Coeff; c == nil || *c != 0.5 {
		t.Errorf("coeff = %v", c)
	}
}

func TestClone(t *testing.T) {
	sc, err := Load(filepath.Join("..", "scenarios", "swap.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := sc.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != sc.Path {
		t.Errorf("Path = %q", c.Path)
	}
	c.Policies[0].CostFunctions[1].Params["range"] = 9.0
	if r := sc.Policies[0].CostFunctions[1].Params["range"]; r != 5.0 {
		t.Errorf("original range changed to %v", r)
	}
}
