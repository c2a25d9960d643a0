package engine

import "github.com/pthm-cable/crowdsim/geometry"

// ForceModel is a navigation model expressed as a single force. Wrap it with
// NewForceBased to use it as a CostFunction.
type ForceModel interface {
	Name() string
	Range() float64
	ComputeForce(a *Agent, w *World) geometry.Vector2D
	ParseParameters(params ParameterSource)
}

// ForceBased derives cost, gradient and global minimum from a ForceModel.
// Every quantity is relative to the target velocity: the velocity the agent
// reaches by applying the force for one step under the same clamping as
// integration.
type ForceBased struct {
	Model ForceModel
}

// NewForceBased wraps m.
func NewForceBased(m ForceModel) *ForceBased {
	return &ForceBased{Model: m}
}

func (f *ForceBased) Name() string   { return f.Model.Name() }
func (f *ForceBased) Range() float64 { return f.Model.Range() }

func (f *ForceBased) ParseParameters(params ParameterSource) {
	f.Model.ParseParameters(params)
}

// TargetVelocity applies the model's force to the agent for one step.
func (f *ForceBased) TargetVelocity(a *Agent, w *World) geometry.Vector2D {
	dt := w.DeltaTime()
	force := f.Model.ComputeForce(a, w)
	acc := geometry.ClampLength(force.Div(a.settings.Mass), a.settings.MaxAcceleration)
	return geometry.ClampLength(a.velocity.Add(acc.Mul(dt)), a.settings.MaxSpeed)
}

// Cost is the distance from v to the target velocity.
func (f *ForceBased) Cost(v geometry.Vector2D, a *Agent, w *World) float64 {
	return geometry.Distance(v, f.TargetVelocity(a, w))
}

// Gradient points away from the target, scaled so that one gradient step of
// length dt lands on it.
func (f *ForceBased) Gradient(v geometry.Vector2D, a *Agent, w *World) geometry.Vector2D {
	return v.Sub(f.TargetVelocity(a, w)).Div(w.DeltaTime())
}

func (f *ForceBased) GradientFromCurrentVelocity(a *Agent, w *World) geometry.Vector2D {
	return f.Gradient(a.velocity, a, w)
}

func (f *ForceBased) GlobalMinimum(a *Agent, w *World) geometry.Vector2D {
	return f.TargetVelocity(a, w)
}

func (f *ForceBased) bindStep(s *PolicyStep) {
	if b, ok := f.Model.(stepBinder); ok {
		b.bindStep(s)
	}
}
