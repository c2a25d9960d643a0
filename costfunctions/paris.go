package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// Paris is the cost of Paris et al. (2007). For each neighbor it predicts
// the window [t1, t2] in which the neighbor occupies the crossing point of
// both trajectories and the speeds [s1, s2] that pass in front of or behind
// it.
type Paris struct {
	engine.BaseCost
	WA, WB float64
	TMax   float64
}

// avoidance is one neighbor's crossing window.
type avoidance struct {
	t1, t2 float64
	s1, s2 float64
}

func NewParis() *Paris {
	return &Paris{BaseCost: engine.NewBaseCost(engine.DefaultRange), WA: 0.5, WB: 0, TMax: 8}
}

func (*Paris) Name() string { return NameParis }

func (p *Paris) ParseParameters(params engine.ParameterSource) {
	p.BaseCost.ParseParameters(params)
	params.ReadFloat("w_a", &p.WA)
	params.ReadFloat("w_b", &p.WB)
	params.ReadFloat("t_max", &p.TMax)
}

func (p *Paris) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	dir := v.Normalized()
	ranges := p.avoidanceRanges(dir, a)
	return 1000*p.directionCost(dir, a, ranges) +
		p.speedDeviationCost(v.Len(), a, ranges) +
		0.001*v.Sub(a.PreferredVelocity()).Len()
}

// safe is the window of a neighbor that never blocks the direction.
func (p *Paris) safe() avoidance { return avoidance{p.TMax, 0, 0, math.MaxFloat64} }

// blocked is the window of a neighbor on a collision course that cannot be
// passed.
func (p *Paris) blocked() avoidance { return avoidance{0, p.TMax, math.MaxFloat64, 0} }

// crossing returns the times at which a disk of the given radius around
// point starts and stops touching a body moving from origin with velocity.
func (p *Paris) crossing(origin, velocity, point geometry.Vector2D, radius float64) (t1, t2 float64) {
	t1 = math.Min(p.TMax, engine.TimeToCollision(origin, velocity, radius, point, geometry.Vector2D{}, 0))
	speed := velocity.Len()
	if speed == 0 {
		return t1, 0
	}
	t2 = t1 + radius/speed
	if t2 > p.TMax {
		t2 = 0
	}
	return t1, t2
}

func (p *Paris) avoidanceRange(dir geometry.Vector2D, a *engine.Agent, other *engine.PhantomAgent) avoidance {
	pos := a.Position()
	combined := a.Radius() + other.Agent.Radius()

	x, ok := geometry.LineIntersection(pos, pos.Add(dir), other.Position, other.Position.Add(other.Velocity))
	if !ok {
		ttc := engine.TimeToCollision(pos, dir, a.Radius(), other.Position, other.Velocity, other.Agent.Radius())
		if ttc > p.TMax {
			return p.safe()
		}
		return p.blocked()
	}

	// crossing point behind the agent
	if t1, _ := p.crossing(pos, a.Velocity(), x, combined); t1 == p.TMax {
		return p.safe()
	}

	t1, t2 := p.crossing(other.Position, other.Velocity, x, combined)
	dist := x.Sub(pos).Len()
	return avoidance{t1: t1, t2: t2, s1: safeDiv(dist, t1), s2: safeDiv(dist, t2)}
}

func safeDiv(n, d float64) float64 {
	if d == 0 {
		return math.MaxFloat64
	}
	return n / d
}

func (p *Paris) avoidanceRanges(dir geometry.Vector2D, a *engine.Agent) []avoidance {
	nb := a.Neighbors()
	rangeSq := p.Range() * p.Range()
	out := make([]avoidance, 0, len(nb.Agents))
	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq > rangeSq {
			continue
		}
		out = append(out, p.avoidanceRange(dir, a, other))
	}
	return out
}

func (p *Paris) directionCost(dir geometry.Vector2D, a *engine.Agent, ranges []avoidance) float64 {
	pref := a.PreferredVelocity()
	prefSpeed := pref.Len()

	var sum float64
	if prefSpeed > 0 {
		for _, r := range ranges {
			cSpeed := math.Min(
				math.Max(0, 1-r.s1/prefSpeed),
				math.Max(0, (r.s2-prefSpeed)/prefSpeed),
			)
			cPred := 1 - r.t1/(p.TMax+p.WB)
			sum += cSpeed * cPred
		}
		if len(ranges) > 0 {
			sum /= float64(len(ranges))
		}
	}
	cAngle := (1 - geometry.CosAngle(dir, pref)) / 2
	return p.WA*sum + (1-p.WA)*cAngle
}

func (p *Paris) speedDeviationCost(speed float64, a *engine.Agent, ranges []avoidance) float64 {
	prefSpeed := a.PreferredVelocity().Len()
	if prefSpeed == 0 {
		return 0
	}
	var sum float64
	for _, r := range ranges {
		sum += math.Max(0, math.Max((r.s1-speed)/prefSpeed, (speed-r.s2)/prefSpeed))
	}
	return sum
}
