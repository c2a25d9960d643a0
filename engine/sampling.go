package engine

import (
	"fmt"
	"math"

	"github.com/pthm-cable/crowdsim/geometry"
)

// SamplingType selects how candidate velocities are generated.
type SamplingType int

const (
	SamplingRegular SamplingType = iota
	SamplingRandom
)

// SamplingBase is the centre of the sampled disk.
type SamplingBase int

const (
	BaseZero SamplingBase = iota
	BaseCurrentVelocity
)

// SamplingBaseDirection is the neutral direction samples are rotated from.
type SamplingBaseDirection int

const (
	DirectionUnit SamplingBaseDirection = iota
	DirectionCurrentVelocity
	DirectionPreferredVelocity
)

// SamplingRadius selects the radius of the sampled disk.
type SamplingRadius int

const (
	RadiusPreferredSpeed SamplingRadius = iota
	RadiusMaximumSpeed
	RadiusMaximumAcceleration
)

var (
	samplingTypeNames      = map[string]SamplingType{"regular": SamplingRegular, "random": SamplingRandom}
	samplingBaseNames      = map[string]SamplingBase{"zero": BaseZero, "current velocity": BaseCurrentVelocity}
	samplingDirectionNames = map[string]SamplingBaseDirection{
		"unit":               DirectionUnit,
		"current velocity":   DirectionCurrentVelocity,
		"preferred velocity": DirectionPreferredVelocity,
	}
	samplingRadiusNames = map[string]SamplingRadius{
		"preferred speed":      RadiusPreferredSpeed,
		"maximum speed":        RadiusMaximumSpeed,
		"maximum acceleration": RadiusMaximumAcceleration,
	}
)

// SamplingParameters describes the candidate disk of the sampling method.
type SamplingParameters struct {
	Type          SamplingType
	Base          SamplingBase
	BaseDirection SamplingBaseDirection
	Radius        SamplingRadius
	// Angle is the full opening of the sampled cone in degrees.
	Angle               float64
	SpeedSamples        int
	AngleSamples        int
	RandomSamples       int
	IncludeBaseAsSample bool
}

// DefaultSamplingParameters returns the parameters of a sampling policy that
// sets none.
func DefaultSamplingParameters() SamplingParameters {
	return SamplingParameters{
		Type:          SamplingRegular,
		Base:          BaseZero,
		BaseDirection: DirectionCurrentVelocity,
		Radius:        RadiusPreferredSpeed,
		Angle:         180,
		SpeedSamples:  4,
		AngleSamples:  11,
		RandomSamples: 100,
	}
}

// ApproximateGlobalOptimization returns the full-disk grid used when a
// global optimum has no closed form.
func ApproximateGlobalOptimization() SamplingParameters {
	p := DefaultSamplingParameters()
	p.BaseDirection = DirectionUnit
	p.Radius = RadiusMaximumSpeed
	p.Angle = 360
	p.AngleSamples = 36
	p.SpeedSamples = 11
	p.IncludeBaseAsSample = true
	return p
}

// ParseParameters reads the sampling attributes. Unknown enum strings are
// reported as ErrInvalidParameter.
func (p *SamplingParameters) ParseParameters(params ParameterSource) error {
	params.ReadFloat("SamplingAngle", &p.Angle)
	params.ReadInt("SpeedSamples", &p.SpeedSamples)
	params.ReadInt("AngleSamples", &p.AngleSamples)
	params.ReadInt("RandomSamples", &p.RandomSamples)
	params.ReadBool("IncludeBaseAsSample", &p.IncludeBaseAsSample)

	var s string
	if params.ReadString("SamplingType", &s) {
		v, ok := samplingTypeNames[s]
		if !ok {
			return fmt.Errorf("%w: SamplingType %q", ErrInvalidParameter, s)
		}
		p.Type = v
	}
	if params.ReadString("SamplingBase", &s) {
		v, ok := samplingBaseNames[s]
		if !ok {
			return fmt.Errorf("%w: SamplingBase %q", ErrInvalidParameter, s)
		}
		p.Base = v
	}
	if params.ReadString("SamplingBaseDirection", &s) {
		v, ok := samplingDirectionNames[s]
		if !ok {
			return fmt.Errorf("%w: SamplingBaseDirection %q", ErrInvalidParameter, s)
		}
		p.BaseDirection = v
	}
	if params.ReadString("SamplingRadius", &s) {
		v, ok := samplingRadiusNames[s]
		if !ok {
			return fmt.Errorf("%w: SamplingRadius %q", ErrInvalidParameter, s)
		}
		p.Radius = v
	}
	return nil
}

// disk returns the centre, radius and unit base direction for an agent.
func (p SamplingParameters) disk(a *Agent, dt float64) (base geometry.Vector2D, radius float64, dir geometry.Vector2D) {
	if p.Base == BaseCurrentVelocity {
		base = a.velocity
	}

	switch p.Radius {
	case RadiusPreferredSpeed:
		radius = a.settings.PreferredSpeed
	case RadiusMaximumSpeed:
		radius = a.settings.MaxSpeed
	case RadiusMaximumAcceleration:
		radius = math.Min(2*a.settings.MaxSpeed, a.settings.MaxAcceleration*dt)
	}

	dir = geometry.Vec(1, 0)
	switch p.BaseDirection {
	case DirectionCurrentVelocity:
		dir = a.velocity.Normalized()
	case DirectionPreferredVelocity:
		dir = a.preferredVelocity.Normalized()
	}
	// A standing agent looks where it faces.
	if dir.IsZero() {
		dir = a.viewingDirection.Normalized()
	}
	if dir.IsZero() {
		dir = geometry.Vec(1, 0)
	}
	return base, radius, dir
}

// Samples appends the candidate velocities for a to dst in evaluation order.
// Random samples consume the agent's RNG.
func (p SamplingParameters) Samples(dst []geometry.Vector2D, a *Agent, dt float64) []geometry.Vector2D {
	base, radius, dir := p.disk(a, dt)
	maxAngle := p.Angle / 360 * math.Pi

	if p.Type == SamplingRandom {
		for i := 0; i < p.RandomSamples; i++ {
			ang := a.RandomFloat(-maxAngle, maxAngle)
			length := a.RandomFloat(0, radius)
			dst = append(dst, base.Add(dir.Rotate(ang).Mul(length)))
		}
		return dst
	}

	var deltaAngle float64
	angleDivisor := p.AngleSamples - 1
	if p.Angle == 360 {
		angleDivisor = p.AngleSamples
	}
	if angleDivisor > 0 {
		deltaAngle = 2 * maxAngle / float64(angleDivisor)
	}

	var deltaLength float64
	lengthDivisor := p.SpeedSamples
	if p.IncludeBaseAsSample {
		lengthDivisor--
	}
	if lengthDivisor > 0 {
		deltaLength = radius / float64(lengthDivisor)
	}

	for s := 1; s <= p.SpeedSamples; s++ {
		step := s
		if p.IncludeBaseAsSample {
			step--
		}
		length := deltaLength * float64(step)
		ang := -maxAngle
		for i := 0; i < p.AngleSamples; i++ {
			dst = append(dst, base.Add(dir.Rotate(ang).Mul(length)))
			// the base itself needs one sample only
			if p.IncludeBaseAsSample && s == 1 {
				break
			}
			ang += deltaAngle
		}
	}
	return dst
}

// ApproximateGlobalMinimumBySampling evaluates the weighted cost of every
// sample and returns the first one with the lowest cost. The zero velocity
// is returned when no sample beats MaxFloat.
func ApproximateGlobalMinimumBySampling(a *Agent, w *World, p SamplingParameters, costs []WeightedCostFunction) geometry.Vector2D {
	samples := p.Samples(nil, a, w.DeltaTime())
	var best geometry.Vector2D
	bestCost := MaxFloat
	for _, v := range samples {
		c := weightedCost(costs, v, a, w)
		if c < bestCost {
			best, bestCost = v, c
		}
	}
	return best
}

func weightedCost(costs []WeightedCostFunction, v geometry.Vector2D, a *Agent, w *World) float64 {
	var total float64
	for _, wc := range costs {
		total += wc.Weight * wc.Func.Cost(v, a, w)
	}
	return total
}
