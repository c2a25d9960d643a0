package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// GoalReachingForce pulls the agent towards its preferred velocity within
// the policy's relaxation time, never faster than one frame.
type GoalReachingForce struct {
	engine.BaseCost
	engine.StepBinding
}

func NewGoalReachingForce() *GoalReachingForce {
	return &GoalReachingForce{BaseCost: engine.NewBaseCost(0)}
}

func (*GoalReachingForce) Name() string { return NameGoalReachingForce }

func (g *GoalReachingForce) ComputeForce(a *engine.Agent, w *engine.World) geometry.Vector2D {
	tau := math.Max(w.DeltaTime(), g.RelaxationTime())
	return a.PreferredVelocity().Sub(a.Velocity()).Mul(a.Mass() / tau)
}

// SocialForcesAvoidance is the elliptical repulsion of Helbing and Molnar,
// using the relative velocity of the neighbor.
type SocialForcesAvoidance struct {
	engine.BaseCost

	// Lookahead time of the elliptical potential.
	DT float64
	// V0 and Sigma scale and shape the agent potential.
	V0, Sigma float64
	// U0 and R scale and shape the obstacle potential.
	U0, R float64
	// Neighbors outside the half viewing angle are scaled by ScaleOutsideView.
	ViewingAngleHalf float64
	ScaleOutsideView float64
}

func NewSocialForcesAvoidance() *SocialForcesAvoidance {
	return &SocialForcesAvoidance{
		BaseCost:         engine.NewBaseCost(engine.DefaultRange),
		DT:               2,
		V0:               2.1,
		Sigma:            0.3,
		U0:               10,
		R:                0.2,
		ViewingAngleHalf: 100 * math.Pi / 180,
		ScaleOutsideView: 0.5,
	}
}

func (*SocialForcesAvoidance) Name() string { return NameSocialForcesAvoidance }

func (s *SocialForcesAvoidance) ParseParameters(params engine.ParameterSource) {
	s.BaseCost.ParseParameters(params)
	params.ReadFloat("dt", &s.DT)
	params.ReadFloat("V0", &s.V0)
	params.ReadFloat("sigma", &s.Sigma)
	params.ReadFloat("U0", &s.U0)
	params.ReadFloat("R", &s.R)
	var deg float64
	if params.ReadFloat("viewingAngleHalf", &deg) {
		s.ViewingAngleHalf = deg * math.Pi / 180
	}
	params.ReadFloat("scaleOutsideView", &s.ScaleOutsideView)
}

func (s *SocialForcesAvoidance) ComputeForce(a *engine.Agent, _ *engine.World) geometry.Vector2D {
	return sumPairwise(s, a, s.Range())
}

func (s *SocialForcesAvoidance) viewScale(a *engine.Agent, toOther geometry.Vector2D) float64 {
	if geometry.Angle(a.Velocity(), toOther) < s.ViewingAngleHalf {
		return 1
	}
	return s.ScaleOutsideView
}

// agentForce is the negated gradient of V0·exp(-b/sigma), where b is the
// semi-minor axis of the ellipse spanned by R and R - V.
func (s *SocialForcesAvoidance) agentForce(a *engine.Agent, other *engine.PhantomAgent) geometry.Vector2D {
	r := a.Position().Sub(other.Position)
	magR := r.Len()
	v := other.Velocity.Sub(a.Velocity()).Mul(s.DT)
	rMinV := r.Sub(v)
	magRMinV := rMinV.Len()
	if magR == 0 || magRMinV == 0 {
		return geometry.Vector2D{}
	}

	sum := magR + magRMinV
	bSquared2 := sum*sum - v.LenSqr()
	if bSquared2 <= 0 {
		return geometry.Vector2D{}
	}
	b := 0.5 * math.Sqrt(bSquared2)

	mag := s.V0 / s.Sigma * math.Exp(-b/s.Sigma) * sum / (4 * b)
	force := r.Div(magR).Add(rMinV.Div(magRMinV)).Mul(mag)
	return force.Mul(s.viewScale(a, r.Neg()))
}

func (s *SocialForcesAvoidance) obstacleForce(a *engine.Agent, _ geometry.Segment, nearest geometry.Vector2D) geometry.Vector2D {
	diff := a.Position().Sub(nearest)
	dist := diff.Len()
	if dist < 0.001 {
		return geometry.Vector2D{}
	}
	force := diff.Mul(s.U0 * math.Exp(-dist/s.R) / (s.R * dist))
	return force.Mul(s.viewScale(a, diff.Neg()))
}

// PowerLaw is the anticipatory force of Karamouzas et al. (2014), driven by
// the time to collision. Obstacles exert no force.
type PowerLaw struct {
	engine.BaseCost
	K    float64
	Tau0 float64
}

func NewPowerLaw() *PowerLaw {
	return &PowerLaw{BaseCost: engine.NewBaseCost(engine.DefaultRange), K: 1.5, Tau0: 3}
}

func (*PowerLaw) Name() string { return NamePowerLaw }

func (p *PowerLaw) ParseParameters(params engine.ParameterSource) {
	p.BaseCost.ParseParameters(params)
	params.ReadFloat("k", &p.K)
	params.ReadFloat("tau0", &p.Tau0)
}

func (p *PowerLaw) ComputeForce(a *engine.Agent, _ *engine.World) geometry.Vector2D {
	return sumPairwise(p, a, p.Range())
}

func (p *PowerLaw) agentForce(a *engine.Agent, other *engine.PhantomAgent) geometry.Vector2D {
	rad := a.Radius() + other.Agent.Radius()
	x := a.Position().Sub(other.Position)
	v := a.Velocity().Sub(other.Velocity)

	qa := v.Dot(v)
	qb := -x.Dot(v)
	qc := x.Dot(x) - rad*rad
	// overlaps are left to contact forces
	if qc <= 0 || qa == 0 {
		return geometry.Vector2D{}
	}
	d := qb*qb - qa*qc
	if d <= 0 {
		return geometry.Vector2D{}
	}
	sqrtD := math.Sqrt(d)
	tau := (qb - sqrtD) / qa
	if tau < 0.001 || tau > p.Tau0 {
		return geometry.Vector2D{}
	}

	c1 := -p.K * math.Exp(-tau/p.Tau0) * (2/tau + 1/p.Tau0) / (qa * tau * tau)
	c2 := v.Sub(x.Mul(qa).Add(v.Mul(qb)).Div(sqrtD))
	return c2.Mul(c1)
}

func (*PowerLaw) obstacleForce(*engine.Agent, geometry.Segment, geometry.Vector2D) geometry.Vector2D {
	return geometry.Vector2D{}
}
