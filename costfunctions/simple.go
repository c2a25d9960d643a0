package costfunctions

import (
	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// RandomFunction adds noise: costs and gradient components are drawn
// uniformly from [-1, 1) with the agent's own generator. Scale it with the
// coeff attribute.
type RandomFunction struct {
	engine.BaseCost
}

func NewRandomFunction() *RandomFunction {
	return &RandomFunction{BaseCost: engine.NewBaseCost(0)}
}

func (*RandomFunction) Name() string { return NameRandomFunction }

func (*RandomFunction) Cost(_ geometry.Vector2D, a *engine.Agent, _ *engine.World) float64 {
	return a.RandomFloat(-1, 1)
}

func (*RandomFunction) Gradient(_ geometry.Vector2D, a *engine.Agent, _ *engine.World) geometry.Vector2D {
	return geometry.Vec(a.RandomFloat(-1, 1), a.RandomFloat(-1, 1))
}

// GenericCost is a zero cost, the template for new models. Its gradient is
// the numeric default.
type GenericCost struct {
	engine.BaseCost
}

func NewGenericCost() *GenericCost {
	return &GenericCost{BaseCost: engine.NewBaseCost(engine.DefaultRange)}
}

func (*GenericCost) Name() string { return NameGenericCost }

func (*GenericCost) Cost(geometry.Vector2D, *engine.Agent, *engine.World) float64 { return 0 }
