package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// Karamouzas is the velocity-space cost of Karamouzas and Overmars (2010).
// The admissible deviation from the preferred velocity widens as the
// predicted time to collision shrinks.
type Karamouzas struct {
	engine.BaseCost
	Alpha, Beta, Gamma, Delta float64
	TMax                      float64
}

// Time-to-collision and deviation-angle breakpoints.
const (
	karamouzasTcMin  = 2.5
	karamouzasTcMid  = 6
	karamouzasDMin   = 0.05
	karamouzasDMid   = math.Pi / 6
	karamouzasDMax   = math.Pi / 2
	karamouzasSpeedE = 0.05
)

func NewKaramouzas() *Karamouzas {
	return &Karamouzas{
		BaseCost: engine.NewBaseCost(engine.DefaultRange),
		Alpha:    5,
		Beta:     0.5,
		Gamma:    1,
		Delta:    1,
		TMax:     8,
	}
}

func (*Karamouzas) Name() string { return NameKaramouzas }

func (k *Karamouzas) ParseParameters(params engine.ParameterSource) {
	k.BaseCost.ParseParameters(params)
	params.ReadFloat("alpha", &k.Alpha)
	params.ReadFloat("beta", &k.Beta)
	params.ReadFloat("gamma", &k.Gamma)
	params.ReadFloat("delta", &k.Delta)
	params.ReadFloat("t_max", &k.TMax)
}

func (k *Karamouzas) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	pref := a.PreferredVelocity()
	speed := v.Len()
	maxSpeed := a.MaxSpeed()

	ttcPref := engine.TimeToFirstCollision(a.Position(), pref, a.Radius(), a.Neighbors(), k.Range(), true)
	if geometry.Angle(v, pref) > k.maxDeviation(ttcPref) {
		return engine.MaxFloat
	}
	lo, hi := k.speedWindow(a, ttcPref)
	if speed < lo || speed > hi {
		return engine.MaxFloat
	}

	ttc := engine.TimeToFirstCollision(a.Position(), v, a.Radius(), a.Neighbors(), k.Range(), true)
	ca := k.Alpha * (1 - geometry.CosAngle(v, pref)/2)
	cb := k.Beta * math.Abs(speed-a.Velocity().Len()) / maxSpeed
	cc := k.Gamma * v.Sub(pref).Len() / (2 * maxSpeed)
	cd := k.Delta * math.Max(0, k.TMax-ttc) / k.TMax
	return ca + cb + cc + cd
}

// speedWindow returns the admissible speed range for a predicted time to
// collision.
func (k *Karamouzas) speedWindow(a *engine.Agent, ttc float64) (lo, hi float64) {
	pref := a.PreferredSpeed()
	delta := math.Abs(a.MaxSpeed() - pref)
	switch {
	case ttc <= 0 || ttc >= k.TMax:
		return pref - karamouzasSpeedE, pref + karamouzasSpeedE
	case ttc < karamouzasTcMin:
		return 0, a.MaxSpeed() + karamouzasSpeedE
	}
	return pref - delta - karamouzasSpeedE, pref + delta + karamouzasSpeedE
}

// maxDeviation returns the admissible angle from the preferred velocity:
// quadratic from DMax at 0 to DMid at TcMin, flat until TcMid, then linear
// down to DMin at TMax.
func (k *Karamouzas) maxDeviation(ttc float64) float64 {
	switch {
	case ttc >= k.TMax:
		return karamouzasDMin
	case ttc <= 0:
		return karamouzasDMax
	case ttc < karamouzasTcMin:
		f := (karamouzasTcMin - ttc) / karamouzasTcMin
		return karamouzasDMid + f*f*(karamouzasDMax-karamouzasDMid)
	case ttc < karamouzasTcMid:
		return karamouzasDMid
	}
	f := (k.TMax - ttc) / (k.TMax - karamouzasTcMid)
	return karamouzasDMin + f*(karamouzasDMid-karamouzasDMin)
}

// Moussaid is the heuristic model of Moussaid et al. (2011): each direction
// is scored by its distance to collision at the preferred speed.
type Moussaid struct {
	engine.BaseCost
	engine.StepBinding
	DMax float64
}

func NewMoussaid() *Moussaid {
	return &Moussaid{BaseCost: engine.NewBaseCost(engine.DefaultRange), DMax: 8}
}

func (*Moussaid) Name() string { return NameMoussaid }

func (m *Moussaid) ParseParameters(params engine.ParameterSource) {
	m.BaseCost.ParseParameters(params)
	params.ReadFloat("d_max", &m.DMax)
}

func (m *Moussaid) distanceToCollision(dir geometry.Vector2D, a *engine.Agent) float64 {
	prefSpeed := a.PreferredSpeed()
	ttc := engine.TimeToFirstCollision(a.Position(), dir.Mul(prefSpeed), a.Radius(), a.Neighbors(), m.Range(), false)
	if ttc == engine.MaxFloat {
		return m.DMax
	}
	return math.Min(m.DMax, ttc*prefSpeed)
}

func (m *Moussaid) Cost(v geometry.Vector2D, a *engine.Agent, w *engine.World) float64 {
	speed := v.Len()
	dir := v.Normalized()
	dc := m.distanceToCollision(dir, a)

	cost := m.DMax*m.DMax + dc*dc - 2*m.DMax*dc*geometry.CosAngle(dir, a.PreferredVelocity()) + 1

	tau := math.Max(m.RelaxationTime(), w.DeltaTime())
	best := math.Min(a.PreferredSpeed(), dc/tau)
	if best <= 0 {
		// no safe speed: any motion is penalized
		return cost * (1 + speed*speed)
	}
	d := (best - speed) / best
	return cost * (1 + d*d)
}

// RVO is the sampling cost of reciprocal velocity obstacles (van den Berg
// et al. 2008). Speeds above the maximum are forbidden.
type RVO struct {
	engine.BaseCost
	W float64
}

func NewRVO() *RVO {
	return &RVO{BaseCost: engine.NewBaseCost(engine.DefaultRange), W: 1}
}

func (*RVO) Name() string { return NameRVO }

func (r *RVO) ParseParameters(params engine.ParameterSource) {
	r.BaseCost.ParseParameters(params)
	params.ReadFloat("w", &r.W)
}

func (r *RVO) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	if v.Len() > a.MaxSpeed() {
		return engine.MaxFloat
	}
	rvo := v.Mul(2).Sub(a.Velocity())
	ttc := engine.TimeToFirstCollision(a.Position(), rvo, a.Radius(), a.Neighbors(), r.Range(), true)
	return r.W/ttc + a.PreferredVelocity().Sub(v).Len()
}

// VanToll sums the distance to collision and the angular and speed
// deviations from the preferred and current velocities.
type VanToll struct {
	engine.BaseCost
	MaxDistance float64
}

func NewVanToll() *VanToll {
	return &VanToll{BaseCost: engine.NewBaseCost(engine.DefaultRange), MaxDistance: 8}
}

func (*VanToll) Name() string { return NameVanToll }

func (t *VanToll) ParseParameters(params engine.ParameterSource) {
	t.BaseCost.ParseParameters(params)
	params.ReadFloat("max_distance", &t.MaxDistance)
}

func (t *VanToll) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	pref := a.PreferredVelocity()
	prefSpeed := pref.Len()
	speed := v.Len()

	ttc := engine.TimeToFirstCollision(a.Position(), v, a.Radius(), a.Neighbors(), t.Range(), false)
	dc := t.MaxDistance
	if ttc != engine.MaxFloat {
		dc = math.Min(t.MaxDistance, ttc*speed)
	}

	var speedDev float64
	if prefSpeed > 0 {
		speedDev = math.Abs(speed-prefSpeed) / prefSpeed
	}
	return (t.MaxDistance - dc) +
		geometry.Angle(v, pref) +
		speedDev +
		geometry.Angle(v, a.Velocity())
}

// PLEdestrians is the least-effort cost of Guy et al. (2010): the metabolic
// energy of reaching the goal, with velocities that collide before TMin
// forbidden.
type PLEdestrians struct {
	engine.BaseCost
	WA, WB     float64
	TMin, TMax float64
}

func NewPLEdestrians() *PLEdestrians {
	return &PLEdestrians{
		BaseCost: engine.NewBaseCost(engine.DefaultRange),
		WA:       2.23,
		WB:       1.26,
		TMin:     0.5,
		TMax:     3,
	}
}

func (*PLEdestrians) Name() string { return NamePLEdestrians }

func (p *PLEdestrians) ParseParameters(params engine.ParameterSource) {
	p.BaseCost.ParseParameters(params)
	params.ReadFloat("w_a", &p.WA)
	params.ReadFloat("w_b", &p.WB)
	params.ReadFloat("t_min", &p.TMin)
	params.ReadFloat("t_max", &p.TMax)
}

func (p *PLEdestrians) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	ttc := engine.TimeToFirstCollision(a.Position(), v, a.Radius(), a.Neighbors(), p.Range(), true)
	if ttc < p.TMin {
		return engine.MaxFloat
	}
	remaining := a.Goal().Sub(a.Position()).Sub(v.Mul(p.TMax))
	return p.TMax*(p.WA+p.WB*v.LenSqr()) + 2*remaining.Len()*math.Sqrt(p.WA*p.WB)
}
