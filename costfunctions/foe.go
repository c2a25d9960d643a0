package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// FOEAvoidance steers away from neighbors whose image stays close to the
// focus of expansion in the agent's moving frame (Lopez et al. 2019).
type FOEAvoidance struct {
	engine.BaseCost
}

const (
	foeMinDistance = 0.1
	foeMinVelocity = 0.01
)

func NewFOEAvoidance() *FOEAvoidance {
	return &FOEAvoidance{BaseCost: engine.NewBaseCost(engine.DefaultRange)}
}

func (*FOEAvoidance) Name() string { return NameFOEAvoidance }

// importance weighs a neighbor by its time to collision: 10 at contact,
// falling to 0.1 at 5 s and 0 beyond 10 s.
func importance(ttc float64) float64 {
	if ttc < 0 || ttc > 10 {
		return 0
	}
	const t0, i0 = 5.0, 10.0
	return math.Max(0.1, math.Min(10, i0-i0/t0*ttc))
}

// foeTerm holds the per-neighbor quantities shared by cost and gradient.
type foeTerm struct {
	xf, xg, dx float64
	velY       float64
	weight     float64
	sigma      float64
}

// terms calls fn for every neighbor in front of the agent that approaches it
// in the frame moving with v.
func (f *FOEAvoidance) terms(v geometry.Vector2D, a *engine.Agent, fn func(foeTerm)) geometry.Matrix {
	vn := v.Normalized()
	r := geometry.MatrixFromColumns(geometry.Vec(vn.Y, -vn.X), vn)
	rt := r.Transposed()
	rangeSq := f.Range() * f.Range()
	pos := a.Position()
	nb := a.Neighbors()

	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq > rangeSq {
			continue
		}
		vel := rt.Apply(other.Velocity.Sub(v))
		p := rt.Apply(other.Position.Sub(pos))
		if p.Y < foeMinDistance || vel.Y > -foeMinVelocity {
			continue
		}
		xf := vel.X / vel.Y
		xg := p.X / p.Y
		dx := xg - xf
		sigma := (a.Radius() + other.Agent.Radius()) / p.Y / math.Ln10
		fn(foeTerm{
			xf:     xf,
			xg:     xg,
			dx:     dx,
			velY:   vel.Y,
			weight: importance(-p.Y/vel.Y) * math.Exp(-math.Abs(dx)/sigma),
			sigma:  sigma,
		})
	}
	return r
}

func (f *FOEAvoidance) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	if v.IsZero() {
		return 0
	}
	var cost float64
	f.terms(v, a, func(t foeTerm) { cost += t.weight })
	return cost
}

// Gradient works in the moving frame; the angular part is clamped to ±0.1.
func (f *FOEAvoidance) Gradient(v geometry.Vector2D, a *engine.Agent, _ *engine.World) geometry.Vector2D {
	if v.IsZero() {
		return geometry.Vector2D{}
	}
	speed := v.Len()
	var gradTh, gradV float64
	r := f.terms(v, a, func(t foeTerm) {
		s := sign(t.dx) / t.sigma * t.weight
		gradTh += s * (t.xf*t.xf - t.xg*t.xg - speed/(-t.velY))
		gradV += s * (-t.xf / (-t.velY))
	})
	gradTh = math.Max(-0.1, math.Min(0.1, gradTh))

	sin, cos := math.Sincos(gradTh)
	local := geometry.Vec(sin, 1-cos).Mul(speed).Add(geometry.Vec(0, gradV))
	return r.Apply(local).Neg()
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
