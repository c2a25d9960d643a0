package costfunctions

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

const dt = 0.1

// scene is a world with one policy holding the function under test.
type scene struct {
	t  *testing.T
	w  *engine.World
	p  *engine.Policy
	cf engine.CostFunction
}

func newScene(t *testing.T, cf engine.CostFunction, params engine.Params) *scene {
	t.Helper()
	w := engine.NewWorld(engine.Infinite{}, dt, 1)
	t.Cleanup(w.Close)
	p := engine.NewPolicy(engine.Gradient)
	p.RelaxationTime = 0.5
	p.AddCostFunction(cf, params)
	w.AddPolicy(0, p)
	return &scene{t: t, w: w, p: p, cf: cf}
}

func (s *scene) add(pos, vel, goal geometry.Vector2D) *engine.Agent {
	s.t.Helper()
	id, err := s.w.AddAgent(pos, engine.DefaultAgentSettings(), engine.AgentOptions{Goal: &goal})
	if err != nil {
		s.t.Fatal(err)
	}
	s.w.SetAgentVelocity(id, vel, geometry.Vector2D{})
	a, _ := s.w.Agent(id)
	return a
}

// prime refreshes the index, the agent's neighbors and its preferred
// velocity.
func (s *scene) prime(agents ...*engine.Agent) {
	s.w.RebuildIndex()
	for _, a := range agents {
		s.p.ComputeAcceleration(a, s.w)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	names := reg.Names()
	if len(names) != 15 {
		t.Errorf("registered %d models: %v", len(names), names)
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			cf, err := reg.New(name)
			if err != nil {
				t.Fatal(err)
			}
			if cf.Name() != name {
				t.Errorf("Name() = %q", cf.Name())
			}
			if cf.Range() < 0 {
				t.Errorf("Range() = %v", cf.Range())
			}
		})
	}
	if _, err := reg.New("Boids"); !errors.Is(err, engine.ErrUnknownCostFunction) {
		t.Errorf("unknown model err = %v", err)
	}
}

func TestGoalReachingForceUsesRelaxationTime(t *testing.T) {
	fb := engine.NewForceBased(NewGoalReachingForce())
	s := newScene(t, fb, nil)
	a := s.add(geometry.Vec(0, 0), geometry.Vec(0, 0), geometry.Vec(10, 0))
	s.prime(a)

	// (1.4 - 0) / 0.5 * dt
	want := geometry.Vec(0.28, 0)
	got, closed := engine.GlobalMinimum(fb, a, s.w)
	if !closed || geometry.Distance(got, want) > 1e-9 {
		t.Errorf("GlobalMinimum = %v (closed %v), want %v", got, closed, want)
	}
}

func TestSocialForcesParameters(t *testing.T) {
	tests := []struct {
		name      string
		params    engine.Params
		halfAngle float64
		outside   float64
	}{
		{"defaults", engine.Params{}, 100 * math.Pi / 180, 0.5},
		{"viewing angle in degrees", engine.Params{"viewingAngleHalf": "90"}, math.Pi / 2, 0.5},
		{"scale outside view", engine.Params{"scaleOutsideView": "0.2"}, 100 * math.Pi / 180, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := NewSocialForcesAvoidance()
			sf.ParseParameters(tt.params)
			if math.Abs(sf.ViewingAngleHalf-tt.halfAngle) > 1e-12 {
				t.Errorf("ViewingAngleHalf = %v, want %v", sf.ViewingAngleHalf, tt.halfAngle)
			}
			if math.Abs(sf.ScaleOutsideView-tt.outside) > 1e-12 {
				t.Errorf("ScaleOutsideView = %v, want %v", sf.ScaleOutsideView, tt.outside)
			}
		})
	}

	sf := NewSocialForcesAvoidance()
	sf.ParseParameters(engine.Params{"U0": "7", "V0": "3", "range": "4"})
	if sf.U0 != 7 || sf.V0 != 3 || sf.Range() != 4 {
		t.Errorf("parsed U0=%v V0=%v range=%v", sf.U0, sf.V0, sf.Range())
	}
}

func TestAvoidanceForcesRepel(t *testing.T) {
	tests := []struct {
		name  string
		model engine.ForceModel
		speed float64
	}{
		// the social force ellipse only repels cleanly at rest
		{"social forces", NewSocialForcesAvoidance(), 0},
		{"power law", NewPowerLaw(), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScene(t, engine.NewForceBased(tt.model), nil)
			a := s.add(geometry.Vec(0, 0.05), geometry.Vec(tt.speed, 0), geometry.Vec(10, 0.05))
			b := s.add(geometry.Vec(3, 0), geometry.Vec(-tt.speed, 0), geometry.Vec(-10, 0))
			s.prime(a, b)

			fa := tt.model.ComputeForce(a, s.w)
			fb := tt.model.ComputeForce(b, s.w)
			if fa.X >= 0 || fb.X <= 0 {
				t.Errorf("forces do not push the agents apart: %v %v", fa, fb)
			}
		})
	}
}

func TestPowerLawIgnoresOverlapAndRetreat(t *testing.T) {
	tests := []struct {
		name    string
		otherAt geometry.Vector2D
		otherV  geometry.Vector2D
	}{
		{"overlapping", geometry.Vec(0.3, 0), geometry.Vec(-1, 0)},
		{"receding", geometry.Vec(2, 0), geometry.Vec(3, 0)},
		{"beyond tau0", geometry.Vec(4.9, 0), geometry.Vec(0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := NewPowerLaw()
			s := newScene(t, engine.NewForceBased(pl), nil)
			a := s.add(geometry.Vec(0, 0), geometry.Vec(1, 0), geometry.Vec(10, 0))
			s.add(tt.otherAt, tt.otherV, tt.otherAt)
			s.prime(a)
			if f := pl.ComputeForce(a, s.w); !f.IsZero() {
				t.Errorf("force = %v, want zero", f)
			}
		})
	}
}

func TestObstacleForceFacesAgent(t *testing.T) {
	sf := NewSocialForcesAvoidance()
	s := newScene(t, engine.NewForceBased(sf), nil)
	// unit square, given clockwise on purpose
	square := []geometry.Vector2D{geometry.Vec(0, 0), geometry.Vec(0, 1), geometry.Vec(1, 1), geometry.Vec(1, 0)}
	if err := s.w.AddObstacle(square); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		pos  geometry.Vector2D
		want geometry.Vector2D
	}{
		{"below", geometry.Vec(0.5, -0.3), geometry.Vec(0, -1)},
		{"right", geometry.Vec(1.3, 0.5), geometry.Vec(1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := s.add(tt.pos, tt.want.Mul(-0.5), tt.pos.Add(tt.want.Mul(-5)))
			defer s.w.RemoveAgent(a.ID())
			s.prime(a)
			f := sf.ComputeForce(a, s.w)
			if f.IsZero() || geometry.Angle(f, tt.want) > 1e-6 {
				t.Errorf("force = %v, want along %v", f, tt.want)
			}
		})
	}
}

func TestSPHPressure(t *testing.T) {
	sph := NewSPH()
	s := newScene(t, engine.NewForceBased(sph), engine.Params{"restDensityMax": "0.5"})
	a := s.add(geometry.Vec(0, 0), geometry.Vec(0, 0), geometry.Vec(10, 0))
	b := s.add(geometry.Vec(0.5, 0), geometry.Vec(0, 0), geometry.Vec(10, 0))
	lone := s.add(geometry.Vec(20, 0), geometry.Vec(0, 0), geometry.Vec(30, 0))
	s.prime(a, b, lone)
	for _, ag := range []*engine.Agent{a, b, lone} {
		sph.Precompute(ag, s.w)
	}

	self := 4 / math.Pi
	if got := lone.DensityData().Density; math.Abs(got-self) > 1e-9 {
		t.Errorf("isolated density = %v, want %v", got, self)
	}
	if a.DensityData().Density <= self {
		t.Errorf("crowded density %v not above %v", a.DensityData().Density, self)
	}
	if a.DensityData().Pressure <= 0 {
		t.Fatalf("pressure = %v", a.DensityData().Pressure)
	}
	if f := sph.ComputeForce(a, s.w); f.X >= 0 {
		t.Errorf("pressure force %v does not push a away from b", f)
	}
}

func TestAreaInsideCircle(t *testing.T) {
	tests := []struct {
		name string
		edge geometry.Segment
		want float64
	}{
		{"through centre", geometry.Segment{A: geometry.Vec(-2, 0), B: geometry.Vec(2, 0)}, 0.5 * math.Pi},
		{"outside", geometry.Segment{A: geometry.Vec(-2, 2), B: geometry.Vec(2, 2)}, 0},
		{"chord", geometry.Segment{A: geometry.Vec(-2, 0.5), B: geometry.Vec(2, 0.5)}, math.Pi/3 - math.Sqrt(3)/4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := areaInsideCircle(tt.edge, geometry.Vec(0, 0), 1)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("area = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestORCA(t *testing.T) {
	t.Run("alone takes preferred velocity", func(t *testing.T) {
		o := NewORCA()
		s := newScene(t, o, nil)
		a := s.add(geometry.Vec(0, 0), geometry.Vec(0, 0), geometry.Vec(10, 0))
		s.prime(a)
		got := o.GlobalMinimum(a, s.w)
		if geometry.Distance(got, a.PreferredVelocity()) > 1e-9 {
			t.Errorf("GlobalMinimum = %v, want %v", got, a.PreferredVelocity())
		}
		if c := o.Cost(got, a, s.w); math.Abs(c) > 1e-9 {
			t.Errorf("cost at optimum = %v", c)
		}
	})

	t.Run("head on deviates", func(t *testing.T) {
		o := NewORCA()
		s := newScene(t, o, nil)
		a := s.add(geometry.Vec(0, 0), geometry.Vec(1.4, 0), geometry.Vec(10, 0))
		b := s.add(geometry.Vec(2, 0.01), geometry.Vec(-1.4, 0), geometry.Vec(-10, 0.01))
		s.prime(a, b)

		got := o.GlobalMinimum(a, s.w)
		if got.Len() > a.MaxSpeed()+1e-9 {
			t.Errorf("speed %v above max", got.Len())
		}
		if geometry.Distance(got, a.PreferredVelocity()) < 0.1 {
			t.Errorf("optimum %v ignores the neighbor", got)
		}
		if o.Cost(a.PreferredVelocity(), a, s.w) <= o.Cost(got, a, s.w) {
			t.Error("preferred velocity not penalized")
		}
	})

	t.Run("cache follows time", func(t *testing.T) {
		o := NewORCA()
		s := newScene(t, o, nil)
		a := s.add(geometry.Vec(0, 0), geometry.Vec(0, 0), geometry.Vec(10, 0))
		s.prime(a)
		first := o.solution(a, s.w)
		if o.solution(a, s.w) != first {
			t.Error("solution recomputed within one time")
		}
		s.w.SetTime(s.w.Time() + dt)
		if o.solution(a, s.w) == first {
			t.Error("stale solution reused")
		}
	})
}

func TestForbiddenVelocities(t *testing.T) {
	tests := []struct {
		name     string
		cf       engine.CostFunction
		neighbor bool
		v        geometry.Vector2D
	}{
		{"RVO above max speed", NewRVO(), false, geometry.Vec(3, 0)},
		{"PLEdestrians imminent collision", NewPLEdestrians(), true, geometry.Vec(1.5, 0)},
		{"Karamouzas off course", NewKaramouzas(), false, geometry.Vec(0, 1.4)},
		{"Karamouzas wrong speed", NewKaramouzas(), false, geometry.Vec(0.5, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScene(t, tt.cf, nil)
			a := s.add(geometry.Vec(0, 0), geometry.Vec(1.4, 0), geometry.Vec(10, 0))
			if tt.neighbor {
				s.add(geometry.Vec(0.7, 0), geometry.Vec(0, 0), geometry.Vec(0.7, 0))
			}
			s.prime(a)
			if c := tt.cf.Cost(tt.v, a, s.w); c != engine.MaxFloat {
				t.Errorf("Cost(%v) = %v, want MaxFloat", tt.v, c)
			}
		})
	}
}

func TestPreferredVelocityIsCheapestWhenAlone(t *testing.T) {
	tests := []struct {
		name string
		cf   engine.CostFunction
	}{
		{"Moussaid", NewMoussaid()},
		{"VanToll", NewVanToll()},
		{"Paris", NewParis()},
		{"TtcaDca", NewTtcaDca()},
		{"RVO", NewRVO()},
		{"Karamouzas", NewKaramouzas()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScene(t, tt.cf, nil)
			a := s.add(geometry.Vec(0, 0), geometry.Vec(1.4, 0), geometry.Vec(10, 0))
			s.prime(a)
			pref := a.PreferredVelocity()
			best := tt.cf.Cost(pref, a, s.w)
			for _, v := range []geometry.Vector2D{pref.Mul(0.5), pref.Rotate(0.5), pref.Rotate(-1)} {
				if c := tt.cf.Cost(v, a, s.w); c <= best {
					t.Errorf("Cost(%v) = %v not above Cost(pref) = %v", v, c, best)
				}
			}
		})
	}
}

func TestTtcaDcaGradientVanishesAtPreferredVelocity(t *testing.T) {
	td := NewTtcaDca()
	s := newScene(t, td, nil)
	a := s.add(geometry.Vec(0, 0), geometry.Vec(1.4, 0), geometry.Vec(10, 0))
	s.prime(a)
	if g := td.Gradient(a.PreferredVelocity(), a, s.w); g.Len() > 1e-9 {
		t.Errorf("gradient = %v", g)
	}
	if g := td.Gradient(a.PreferredVelocity().Mul(0.5), a, s.w); g.X >= 0 {
		t.Errorf("gradient %v does not point towards speeding up", g)
	}
}

func TestFOEAvoidance(t *testing.T) {
	foe := NewFOEAvoidance()
	s := newScene(t, foe, nil)
	a := s.add(geometry.Vec(0, 0), geometry.Vec(1, 0), geometry.Vec(10, 0))
	s.add(geometry.Vec(3, 0.1), geometry.Vec(-1, 0), geometry.Vec(-10, 0.1))
	s.prime(a)

	if c := foe.Cost(geometry.Vector2D{}, a, s.w); c != 0 {
		t.Errorf("cost at rest = %v", c)
	}
	if g := foe.Gradient(geometry.Vector2D{}, a, s.w); !g.IsZero() {
		t.Errorf("gradient at rest = %v", g)
	}
	headOn := foe.Cost(geometry.Vec(1, 0), a, s.w)
	if headOn <= 0 {
		t.Errorf("head-on cost = %v", headOn)
	}
	if away := foe.Cost(geometry.Vec(-1, 0), a, s.w); away >= headOn {
		t.Errorf("retreat cost %v not below head-on %v", away, headOn)
	}
}

func TestRandomFunctionIsPerAgent(t *testing.T) {
	draw := func() []float64 {
		rf := NewRandomFunction()
		s := newScene(t, rf, nil)
		a := s.add(geometry.Vec(0, 0), geometry.Vec(0, 0), geometry.Vec(1, 0))
		out := make([]float64, 5)
		for i := range out {
			out[i] = rf.Cost(geometry.Vector2D{}, a, s.w)
			if out[i] < -1 || out[i] >= 1 {
				t.Fatalf("cost %v out of range", out[i])
			}
		}
		return out
	}
	first, second := draw(), draw()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("draw %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestGenericCost(t *testing.T) {
	gc := NewGenericCost()
	s := newScene(t, gc, nil)
	a := s.add(geometry.Vec(0, 0), geometry.Vec(0, 0), geometry.Vec(1, 0))
	if c := gc.Cost(geometry.Vec(3, 4), a, s.w); c != 0 {
		t.Errorf("cost = %v", c)
	}
	if g := engine.GradientAt(gc, geometry.Vec(3, 4), a, s.w); !g.IsZero() {
		t.Errorf("gradient = %v", g)
	}
}

// runMixedCrowd walks a ring of agents through density, sampling and ORCA
// policies and returns their final positions by id.
func runMixedCrowd(t *testing.T, threads int) map[int]geometry.Vector2D {
	t.Helper()
	w := engine.NewWorld(engine.Toric{Width: 24, Height: 24}, dt, threads)
	defer w.Close()

	density := engine.NewPolicy(engine.Gradient)
	density.AddCostFunction(engine.NewForceBased(NewSPH()), nil)
	density.AddCostFunction(engine.NewForceBased(NewGoalReachingForce()), nil)

	sampled := engine.NewPolicy(engine.Sampling)
	sampled.Sampling.Type = engine.SamplingRandom
	sampled.RelaxationTime = 0.5
	sampled.AddCostFunction(NewRandomFunction(), engine.Params{"coeff": "0.1"})
	sampled.AddCostFunction(NewORCA(), nil)

	global := engine.NewPolicy(engine.Global)
	global.RelaxationTime = 0.5
	global.AddCostFunction(NewORCA(), nil)

	for id, p := range []*engine.Policy{density, sampled, global} {
		if !w.AddPolicy(id, p) {
			t.Fatalf("AddPolicy(%d) failed", id)
		}
	}

	const n = 120
	for i := 0; i < n; i++ {
		ang := 2 * math.Pi * float64(i) / n
		pos := geometry.Vec(8*math.Cos(ang), 8*math.Sin(ang))
		goal := pos.Neg()
		s := engine.DefaultAgentSettings()
		s.PolicyID = i % 3
		if _, err := w.AddAgent(pos, s, engine.AgentOptions{Goal: &goal}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 40; i++ {
		w.Step()
	}

	out := make(map[int]geometry.Vector2D, n)
	for _, a := range w.Agents() {
		out[a.ID()] = a.Position()
	}
	return out
}

func TestMixedCrowdIsThreadIndependent(t *testing.T) {
	serial := runMixedCrowd(t, 1)
	if len(serial) < 64 {
		t.Fatalf("%d agents is below the parallel threshold", len(serial))
	}
	for _, threads := range []int{2, 4} {
		parallel := runMixedCrowd(t, threads)
		if len(parallel) != len(serial) {
			t.Fatalf("threads=%d: %d agents, want %d", threads, len(parallel), len(serial))
		}
		for id, want := range serial {
			got := parallel[id]
			if got != want {
				t.Errorf("threads=%d: agent %d at %v, want %v", threads, id, got, want)
			}
			if math.IsNaN(got.X) || math.IsNaN(got.Y) {
				t.Errorf("threads=%d: agent %d position is NaN", threads, id)
			}
		}
	}
}
