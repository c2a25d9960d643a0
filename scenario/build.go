package scenario

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// Configure applies the scenario's simulation overrides to cfg.
func (sc *Scenario) Configure(cfg *config.Config) {
	if sc.Simulation.DeltaTime > 0 {
		cfg.SetDeltaTime(sc.Simulation.DeltaTime)
	}
	if sc.Simulation.EndTime > 0 {
		cfg.SetEndTime(sc.Simulation.EndTime)
	}
}

// Topology builds the scenario's world topology.
func (sc *Scenario) Topology() (engine.Topology, error) {
	w := sc.World
	topo, err := engine.ParseTopology(w.Type, w.Width, w.Height, w.XMin, w.XMax, w.YMin, w.YMax)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return topo, nil
}

// Build creates a world with the scenario's policies, agents and obstacles.
// Step length and worker count come from cfg, so Configure must run first.
// The caller owns the world and must Close it.
func Build(sc *Scenario, cfg *config.Config, reg *engine.Registry) (*engine.World, error) {
	topo, err := sc.Topology()
	if err != nil {
		return nil, err
	}
	w := engine.NewWorld(topo, cfg.Simulation.DeltaTime, cfg.Derived.Threads)
	if err := populate(w, sc, cfg, reg); err != nil {
		w.Close()
		return nil, err
	}
	slog.Info("scenario built",
		"path", sc.Path,
		"topology", topo.Name(),
		"policies", len(sc.Policies),
		"agents", w.NumAgents()+w.NumScheduled(),
		"obstacles", len(w.Obstacles()),
	)
	return w, nil
}

func populate(w *engine.World, sc *Scenario, cfg *config.Config, reg *engine.Registry) error {
	for _, sp := range sc.Policies {
		p, err := BuildPolicy(sp, cfg, reg)
		if err != nil {
			return fmt.Errorf("policy %d: %w", sp.ID, err)
		}
		if !w.AddPolicy(sp.ID, p) {
			return fmt.Errorf("%w: duplicate policy id %d", ErrInvalidScenario, sp.ID)
		}
	}

	for i, sa := range sc.Agents {
		settings, opts := sa.settings(cfg)
		if _, err := w.AddAgent(geometry.Vec(sa.Position[0], sa.Position[1]), settings, opts); err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
	}

	for i, so := range sc.Obstacles {
		points := make([]geometry.Vector2D, len(so.Points))
		for j, p := range so.Points {
			points[j] = geometry.Vec(p[0], p[1])
		}
		if err := w.AddObstacle(points); err != nil {
			return fmt.Errorf("obstacle %d: %w", i, err)
		}
	}
	return nil
}

// BuildPolicy creates a single-step or stepped policy. Unset relaxation
// times and contact scales come from cfg; steps inherit them from their
// policy, together with its sampling block.
func BuildPolicy(sp Policy, cfg *config.Config, reg *engine.Registry) (*engine.Policy, error) {
	relax := cfg.Policy.RelaxationTime
	if sp.RelaxationTime != nil {
		relax = *sp.RelaxationTime
	}
	contact := cfg.Policy.ContactForceScale
	if sp.ContactForceScale != nil {
		contact = *sp.ContactForceScale
	}

	if len(sp.Steps) == 0 {
		method, err := engine.ParseOptimizationMethod(sp.Method)
		if err != nil {
			return nil, err
		}
		p := engine.NewPolicy(method)
		if err := configureStep(&p.PolicyStep, relax, contact, sp.Sampling, sp.CostFunctions, reg); err != nil {
			return nil, err
		}
		return p, nil
	}

	p := engine.NewSteppedPolicy()
	p.RelaxationTime = relax
	p.ContactForceScale = contact
	for i, ss := range sp.Steps {
		method, err := engine.ParseOptimizationMethod(ss.Method)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		stepRelax, stepContact, sampling := relax, contact, sp.Sampling
		if ss.RelaxationTime != nil {
			stepRelax = *ss.RelaxationTime
		}
		if ss.ContactForceScale != nil {
			stepContact = *ss.ContactForceScale
		}
		if ss.Sampling != nil {
			sampling = ss.Sampling
		}
		s := engine.NewPolicyStep(method)
		if err := configureStep(s, stepRelax, stepContact, sampling, ss.CostFunctions, reg); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		p.AddStep(s)
	}
	return p, nil
}

func configureStep(s *engine.PolicyStep, relax, contact float64, sampling *Sampling, cfs []CostFunction, reg *engine.Registry) error {
	if len(cfs) == 0 {
		return fmt.Errorf("%w: no cost functions", ErrInvalidScenario)
	}
	s.RelaxationTime = relax
	s.ContactForceScale = contact
	if err := s.Sampling.ParseParameters(sampling.params()); err != nil {
		return err
	}
	for _, c := range cfs {
		cf, err := reg.New(c.Name)
		if err != nil {
			return err
		}
		s.AddCostFunction(cf, c.attrs())
	}
	return nil
}

// attrs merges the weight into the function's parameters.
func (c CostFunction) attrs() attrs {
	a := make(attrs, len(c.Params)+1)
	maps.Copy(a, c.Params)
	if c.Coeff != nil {
		a["coeff"] = *c.Coeff
	}
	return a
}

func (sa Agent) settings(cfg *config.Config) (engine.AgentSettings, engine.AgentOptions) {
	s := cfg.Derived.AgentSettings
	s.PolicyID = sa.Policy
	setIf(&s.Radius, sa.Radius)
	setIf(&s.PreferredSpeed, sa.PreferredSpeed)
	setIf(&s.MaxSpeed, sa.MaxSpeed)
	setIf(&s.MaxAcceleration, sa.MaxAcceleration)
	setIf(&s.Mass, sa.Mass)
	setIf(&s.RemoveAtGoal, sa.RemoveAtGoal)
	if sa.Color != nil {
		s.Color = engine.Color{R: sa.Color.R, G: sa.Color.G, B: sa.Color.B}
	}

	opts := engine.AgentOptions{DesiredID: sa.ID, StartTime: sa.StartTime}
	if sa.Goal != nil {
		g := geometry.Vec(sa.Goal[0], sa.Goal[1])
		opts.Goal = &g
	}
	return s, opts
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
