package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

const ttcaEpsilon = 0.001

// TtcaDca is the vision-based model of Dutra et al. (2017): a Gaussian of
// time and distance to closest approach per visible neighbor, plus a
// movement cost towards the preferred velocity. It has an analytic gradient
// expressed in (angle, speed) coordinates.
type TtcaDca struct {
	engine.BaseCost
	SigmaAngleGoal float64
	SigmaSpeedGoal float64
	SigmaTtca      float64
	SigmaDca       float64
}

const ttcaViewingAngleHalf = math.Pi / 2

func NewTtcaDca() *TtcaDca {
	return &TtcaDca{
		BaseCost:       engine.NewBaseCost(engine.DefaultRange),
		SigmaAngleGoal: 2,
		SigmaSpeedGoal: 2,
		SigmaTtca:      1,
		SigmaDca:       0.3,
	}
}

func (*TtcaDca) Name() string { return NameTtcaDca }

func (t *TtcaDca) ParseParameters(params engine.ParameterSource) {
	t.BaseCost.ParseParameters(params)
	params.ReadFloat("sigmaAngle_goal", &t.SigmaAngleGoal)
	params.ReadFloat("sigmaSpeed_goal", &t.SigmaSpeedGoal)
	params.ReadFloat("sigmaTtca", &t.SigmaTtca)
	params.ReadFloat("sigmaDca", &t.SigmaDca)
}

func (t *TtcaDca) collisionCost(ttca, dca float64) float64 {
	a, b := ttca/t.SigmaTtca, dca/t.SigmaDca
	return math.Exp(-0.5 * (a*a + b*b))
}

func gaussian(x, sigma float64) float64 {
	f := x / sigma
	return math.Exp(-0.5 * f * f)
}

func (t *TtcaDca) movementCost(v geometry.Vector2D, a *engine.Agent) float64 {
	alpha := geometry.Angle(v, a.PreferredVelocity())
	ds := v.Len() - a.PreferredSpeed()
	return 1 - (gaussian(alpha, t.SigmaAngleGoal)+gaussian(ds, t.SigmaSpeedGoal))/2
}

func (t *TtcaDca) Cost(v geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	pos := a.Position()
	rangeSq := t.Range() * t.Range()
	nb := a.Neighbors()

	var cost, scaleSum float64
	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq >= rangeSq {
			continue
		}
		rel := other.Position.Sub(pos)
		// agents only see what is in front of them
		if geometry.Angle(rel, a.Velocity()) > ttcaViewingAngleHalf {
			continue
		}
		ttca, dca := engine.TimeAndDistanceToClosestApproach(pos, v, a.Radius(), other.Position, other.Velocity, other.Agent.Radius())

		// the number of pixels the neighbor would cover
		gap := rel.Len() - a.Radius() - other.Agent.Radius()
		if gap == 0 {
			continue
		}
		scale := 1 / (gap * gap)
		scaleSum += scale
		cost += t.collisionCost(ttca, dca) * scale
	}
	if scaleSum > 0 {
		cost /= scaleSum
	}
	return cost + t.movementCost(v, a)
}

func (t *TtcaDca) Gradient(v geometry.Vector2D, a *engine.Agent, _ *engine.World) geometry.Vector2D {
	pos := a.Position()
	rangeSq := t.Range() * t.Range()
	nb := a.Neighbors()

	var gradTh, gradS, scaleSum float64
	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq > rangeSq {
			continue
		}
		dpCenter := other.Position.Sub(pos)
		if geometry.Angle(dpCenter, a.Velocity()) > ttcaViewingAngleHalf {
			continue
		}
		dpMag := dpCenter.Len()
		if dpMag == 0 {
			continue
		}

		dp := dpCenter.Div(dpMag).Mul(dpMag - a.Radius() - other.Agent.Radius())
		dvCenter := other.Velocity.Sub(v)
		normal := geometry.Vec(-dpCenter.Y, dpCenter.X)
		dv := dvCenter.Add(normal.Mul(normal.Dot(dvCenter)))
		dvSq := dv.LenSqr()
		// relative motion too small for a reliable gradient
		if dvSq <= ttcaEpsilon {
			continue
		}

		ttca := math.Max(0, -dp.Dot(dv)/dvSq)
		vdca := dp.Add(dv.Mul(ttca))
		dca := vdca.Len()

		velRot := geometry.Vec(dv.Y, -dv.X)
		velNorm := dv.Div(math.Sqrt(dvSq))

		var gradTtcaAngle, gradTtcaSpeed float64
		if math.Abs(ttca) > ttcaEpsilon {
			rel := dp.Add(dv.Mul(2 * ttca))
			gradTtcaAngle = -rel.Dot(velRot) / dvSq
			gradTtcaSpeed = rel.Dot(velNorm) / dvSq
		}
		var gradDcaAngle, gradDcaSpeed float64
		if math.Abs(dca) > ttcaEpsilon {
			gradDcaAngle = vdca.Dot(dv.Mul(gradTtcaAngle).Add(velRot.Mul(ttca))) / dca
			gradDcaSpeed = vdca.Dot(dv.Mul(gradTtcaSpeed).Sub(velNorm.Mul(ttca))) / dca
		}

		c := t.collisionCost(ttca, dca)
		ttcaFrac := ttca / (t.SigmaTtca * t.SigmaTtca)
		dcaFrac := dca / (t.SigmaDca * t.SigmaDca)
		gradCSpeed := -c * (gradTtcaSpeed*ttcaFrac + gradDcaSpeed*dcaFrac)
		gradCAngle := -c * (gradTtcaAngle*ttcaFrac + gradDcaAngle*dcaFrac)

		lsq := dp.LenSqr()
		if lsq == 0 {
			continue
		}
		scale := 1 / lsq
		scaleSum += scale
		gradTh += gradCAngle * scale
		gradS += gradCSpeed * scale
	}
	if scaleSum > 0 {
		gradTh /= scaleSum
		gradS /= scaleSum
	}

	pref := a.PreferredVelocity()
	alpha := geometry.CounterClockwiseAngle(v, pref)
	ds := v.Len() - a.PreferredSpeed()
	sa, ss := t.SigmaAngleGoal, t.SigmaSpeedGoal
	gradTh += alpha / (2 * sa * sa) * gaussian(alpha, sa)
	gradS += ds / (2 * ss * ss) * gaussian(ds, ss)

	// At rest the transform collapses, so rotate around the preferred
	// velocity instead.
	if v.LenSqr() < 0.01 {
		return engine.RotateGradientToEuclidean(gradTh, gradS, pref.Normalized(), pref.Len())
	}
	return engine.RotateGradientToEuclidean(gradTh, gradS, v.Normalized(), v.Len())
}
