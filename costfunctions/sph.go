package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// SPH treats agents as fluid particles: a pressure force pushes agents out
// of regions denser than their adaptive rest density. Density is computed in
// the precompute phase and stored on each agent.
type SPH struct {
	engine.BaseCost

	GasConstant    float64
	RestDensityMin float64
	RestDensityMax float64
	// AdaptationTime is the window of the progressive average density.
	AdaptationTime float64
	Viscosity      float64
	// IsObstacle makes obstacle edges contribute nothing, for scenes that
	// model walls as agents.
	IsObstacle bool

	poly6, spikyGrad, viscLap float64
	rangeSq, selfDensity      float64
}

func NewSPH() *SPH {
	s := &SPH{
		BaseCost:       engine.NewBaseCost(1),
		GasConstant:    100,
		RestDensityMin: 0,
		RestDensityMax: 5,
		AdaptationTime: 0.1,
	}
	s.updateKernels()
	return s
}

func (*SPH) Name() string { return NameSPH }

func (s *SPH) ParseParameters(params engine.ParameterSource) {
	s.BaseCost.ParseParameters(params)
	params.ReadFloat("gasConstant", &s.GasConstant)
	params.ReadFloat("restDensityMin", &s.RestDensityMin)
	params.ReadFloat("restDensityMax", &s.RestDensityMax)
	params.ReadFloat("densityAdaptationTime", &s.AdaptationTime)
	params.ReadFloat("viscosity", &s.Viscosity)
	params.ReadBool("isObstacle", &s.IsObstacle)
	s.updateKernels()
}

// updateKernels recomputes the 2D smoothing kernel constants for the range.
func (s *SPH) updateKernels() {
	h := s.Range()
	s.rangeSq = h * h
	s.poly6 = 4 / (math.Pi * math.Pow(h, 8))
	s.spikyGrad = -30 / (math.Pi * math.Pow(h, 5))
	s.viscLap = 360 / (29 * math.Pi * math.Pow(h, 5))
	s.selfDensity = s.poly6 * math.Pow(s.rangeSq, 3)
}

// Precompute updates the agent's density, rest density and pressure.
func (s *SPH) Precompute(a *engine.Agent, w *engine.World) {
	d := a.DensityData()
	pos := a.Position()
	nb := a.Neighbors()

	density := a.Mass() * s.selfDensity
	for i := range nb.Agents {
		other := &nb.Agents[i]
		if diff := s.rangeSq - other.DistSq; diff > 0 {
			density += other.Agent.Mass() * s.poly6 * diff * diff * diff
		}
	}

	if !s.IsObstacle {
		for _, edge := range nb.Obstacles {
			vol := areaInsideCircle(edge, pos, s.Range())
			if vol <= 0 {
				continue
			}
			dist := geometry.DistanceToLine(pos, edge.A, edge.B, true)
			com := (s.Range() + dist) / 2
			diff := s.rangeSq - com*com
			density += vol * d.RestDensity * s.poly6 * diff * diff * diff
		}
	}

	frac := w.DeltaTime() / s.AdaptationTime
	d.ProgressiveDensity = (1-frac)*d.ProgressiveDensity + frac*density
	d.Density = density
	d.RestDensity = math.Max(s.RestDensityMin, math.Min(s.RestDensityMax, d.ProgressiveDensity))
	d.Pressure = s.GasConstant * (density - d.RestDensity)
}

func (s *SPH) ComputeForce(a *engine.Agent, _ *engine.World) geometry.Vector2D {
	return sumPairwise(s, a, s.Range())
}

func (s *SPH) agentForce(a *engine.Agent, other *engine.PhantomAgent) geometry.Vector2D {
	di, dj := a.DensityData(), other.Agent.DensityData()
	if other.DistSq >= s.rangeSq || di.Density == 0 || dj.Density == 0 {
		return geometry.Vector2D{}
	}
	dist := math.Sqrt(other.DistSq)
	if dist == 0 {
		return geometry.Vector2D{}
	}
	gap := s.Range() - dist
	mj := other.Agent.Mass()

	var f geometry.Vector2D
	if di.Pressure > 0 {
		mag := mj * (di.Pressure + dj.Pressure) / (2 * dj.Density) * s.spikyGrad * gap * gap / dist
		f = f.Add(other.Position.Sub(a.Position()).Mul(mag))
	}
	if s.Viscosity > 0 {
		mag := s.Viscosity * mj * s.viscLap * gap / dj.Density
		f = f.Add(other.Velocity.Sub(a.Velocity()).Mul(mag))
	}
	return f.Div(di.Density)
}

// obstacleForce assumes the obstacle has the agent's pressure and its own
// rest density. Walls exert no viscosity.
func (s *SPH) obstacleForce(a *engine.Agent, edge geometry.Segment, nearest geometry.Vector2D) geometry.Vector2D {
	di := a.DensityData()
	if s.IsObstacle || di.Density == 0 || di.Pressure <= 0 {
		return geometry.Vector2D{}
	}
	pos := a.Position()
	vol := areaInsideCircle(edge, pos, s.Range())
	dist := geometry.Distance(pos, nearest)
	if vol <= 0 || dist == 0 {
		return geometry.Vector2D{}
	}
	gap := s.Range() - (s.Range()+dist)/2
	mag := vol * di.Pressure * s.spikyGrad * gap * gap / dist
	return nearest.Sub(pos).Mul(mag).Div(di.Density)
}

// areaInsideCircle returns the area of the circular segment cut off by the
// part of edge that lies inside the circle.
func areaInsideCircle(edge geometry.Segment, c geometry.Vector2D, r float64) float64 {
	part, ok := clipToCircle(edge, c, r)
	if !ok {
		return 0
	}
	sector := r * r * geometry.Angle(part.A.Sub(c), part.B.Sub(c)) / 2
	triangle := 0.5 * geometry.Distance(part.A, part.B) * geometry.DistanceToLine(c, edge.A, edge.B, false)
	return sector - triangle
}

// clipToCircle returns the part of edge inside the circle. Tangent and
// missing edges report false.
func clipToCircle(edge geometry.Segment, c geometry.Vector2D, r float64) (geometry.Segment, bool) {
	p := edge.A.Sub(c)
	v := edge.Direction()
	n, t1, t2 := geometry.SolveQuadratic(v.Dot(v), 2*p.Dot(v), p.Dot(p)-r*r)
	if n != 2 {
		return geometry.Segment{}, false
	}
	lo := math.Max(0, math.Min(t1, t2))
	hi := math.Min(1, math.Max(t1, t2))
	if lo >= hi {
		return geometry.Segment{}, false
	}
	return geometry.Segment{A: edge.A.Add(v.Mul(lo)), B: edge.A.Add(v.Mul(hi))}, true
}
