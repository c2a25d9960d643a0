package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pthm-cable/crowdsim/geometry"
)

// MaxFloat is the cost of a forbidden velocity and the time-to-collision of
// a pair that never collides.
const MaxFloat = geometry.MaxFloat

// DefaultRange is the interaction range of a cost function that does not
// override it.
const DefaultRange = 5.0

// gradientDelta is the central-difference step of the numeric gradient.
const gradientDelta = 0.1

var (
	ErrUnknownCostFunction = errors.New("unknown cost function")
	ErrUnknownPolicy       = errors.New("unknown policy")
	ErrInvalidParameter    = errors.New("invalid parameter")
)

// CostFunction assigns a cost to a candidate velocity of an agent. Lower is
// better; MaxFloat marks a forbidden velocity.
type CostFunction interface {
	Name() string
	// Range is the neighbor query radius the function needs.
	Range() float64
	Cost(v geometry.Vector2D, a *Agent, w *World) float64
	// ParseParameters reads the function's attributes. Missing attributes
	// keep their defaults.
	ParseParameters(params ParameterSource)
}

// GradientFunction is implemented by cost functions with an analytic
// gradient.
type GradientFunction interface {
	Gradient(v geometry.Vector2D, a *Agent, w *World) geometry.Vector2D
}

// CurrentGradientFunction is implemented by cost functions with a fast path
// for the gradient at the agent's current velocity.
type CurrentGradientFunction interface {
	GradientFromCurrentVelocity(a *Agent, w *World) geometry.Vector2D
}

// GlobalMinimumFunction is implemented by cost functions with a closed-form
// optimum.
type GlobalMinimumFunction interface {
	GlobalMinimum(a *Agent, w *World) geometry.Vector2D
}

// Preprocessor is implemented by cost functions that need a per-agent pass
// before any acceleration is computed. The agent's neighbors are set to the
// policy step's range when Precompute runs.
type Preprocessor interface {
	Precompute(a *Agent, w *World)
}

// GradientAt returns the gradient of cf at v, analytic if available and by
// central differences otherwise.
func GradientAt(cf CostFunction, v geometry.Vector2D, a *Agent, w *World) geometry.Vector2D {
	if g, ok := cf.(GradientFunction); ok {
		return g.Gradient(v, a, w)
	}
	dx := geometry.Vec(gradientDelta, 0)
	dy := geometry.Vec(0, gradientDelta)
	gx := (cf.Cost(v.Add(dx), a, w) - cf.Cost(v.Sub(dx), a, w)) / (2 * gradientDelta)
	gy := (cf.Cost(v.Add(dy), a, w) - cf.Cost(v.Sub(dy), a, w)) / (2 * gradientDelta)
	return geometry.Vec(gx, gy)
}

// GradientFromCurrentVelocity returns the gradient of cf at the agent's
// current velocity.
func GradientFromCurrentVelocity(cf CostFunction, a *Agent, w *World) geometry.Vector2D {
	if g, ok := cf.(CurrentGradientFunction); ok {
		return g.GradientFromCurrentVelocity(a, w)
	}
	return GradientAt(cf, a.Velocity(), a, w)
}

// GlobalMinimum returns the velocity minimizing cf alone. closedForm is false
// when the result was approximated by sampling.
func GlobalMinimum(cf CostFunction, a *Agent, w *World) (v geometry.Vector2D, closedForm bool) {
	if g, ok := cf.(GlobalMinimumFunction); ok {
		return g.GlobalMinimum(a, w), true
	}
	costs := []WeightedCostFunction{{Func: cf, Weight: 1}}
	return ApproximateGlobalMinimumBySampling(a, w, ApproximateGlobalOptimization(), costs), false
}

// preprocessorOf returns the Preprocessor behind cf, looking through the
// force-based adapter.
func preprocessorOf(cf CostFunction) (Preprocessor, bool) {
	if p, ok := cf.(Preprocessor); ok {
		return p, true
	}
	if fb, ok := cf.(*ForceBased); ok {
		p, ok := fb.Model.(Preprocessor)
		return p, ok
	}
	return nil, false
}

// BaseCost carries the attributes every cost function shares. Models embed
// it and call its ParseParameters first.
type BaseCost struct {
	InteractionRange float64
}

// NewBaseCost returns a BaseCost with the given default range.
func NewBaseCost(rng float64) BaseCost {
	return BaseCost{InteractionRange: rng}
}

func (b *BaseCost) Range() float64 { return b.InteractionRange }

func (b *BaseCost) ParseParameters(params ParameterSource) {
	params.ReadFloat("range", &b.InteractionRange)
}

// WeightedCostFunction is one entry of a policy step.
type WeightedCostFunction struct {
	Func   CostFunction
	Weight float64
}

// Factory creates a cost function with default parameters.
type Factory func() CostFunction

// Registry maps cost-function names to factories. It is owned by the
// simulation root and filled once at startup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New creates the cost function registered under name.
func (r *Registry) New(name string) (CostFunction, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCostFunction, name)
	}
	return f(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
