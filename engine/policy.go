package engine

import (
	"fmt"
	"math"

	"github.com/pthm-cable/crowdsim/geometry"
)

// OptimizationMethod turns a cost surface into an acceleration.
type OptimizationMethod int

const (
	// Gradient follows the negated weighted gradient at the current velocity.
	Gradient OptimizationMethod = iota
	// Sampling picks the cheapest velocity out of a candidate disk.
	Sampling
	// Global uses a closed-form optimum when there is one cost function that
	// has it, and dense sampling otherwise.
	Global
)

var methodNames = map[string]OptimizationMethod{
	"gradient": Gradient,
	"sampling": Sampling,
	"global":   Global,
}

// ParseOptimizationMethod parses "gradient", "sampling" or "global".
func ParseOptimizationMethod(s string) (OptimizationMethod, error) {
	m, ok := methodNames[s]
	if !ok {
		return 0, fmt.Errorf("%w: optimization method %q", ErrInvalidParameter, s)
	}
	return m, nil
}

func (m OptimizationMethod) String() string {
	switch m {
	case Gradient:
		return "gradient"
	case Sampling:
		return "sampling"
	case Global:
		return "global"
	}
	return fmt.Sprintf("OptimizationMethod(%d)", int(m))
}

// DefaultContactForceScale is 5000 N/m for an 80 kg body, per unit mass.
const DefaultContactForceScale = 5000.0 / 80.0

// PolicyStep is a weighted set of cost functions with one optimization
// method. A Policy is either a single step or a sequence of them.
type PolicyStep struct {
	Method   OptimizationMethod
	Sampling SamplingParameters
	// RelaxationTime converts a best velocity into an acceleration. It is
	// never shorter than one frame.
	RelaxationTime    float64
	ContactForceScale float64

	costFunctions []WeightedCostFunction
}

// NewPolicyStep returns a step with default sampling, relaxation time and
// contact scale.
func NewPolicyStep(method OptimizationMethod) *PolicyStep {
	return &PolicyStep{
		Method:            method,
		Sampling:          DefaultSamplingParameters(),
		ContactForceScale: DefaultContactForceScale,
	}
}

// stepBinder is satisfied by cost functions embedding StepBinding.
type stepBinder interface {
	bindStep(s *PolicyStep)
}

// StepBinding gives a cost function access to the step that owns it.
type StepBinding struct {
	step *PolicyStep
}

func (b *StepBinding) bindStep(s *PolicyStep) { b.step = s }

// PolicyStep returns the owning step, nil before the function is added.
func (b *StepBinding) PolicyStep() *PolicyStep { return b.step }

// RelaxationTime returns the owning step's relaxation time, or 0.
func (b *StepBinding) RelaxationTime() float64 {
	if b.step == nil {
		return 0
	}
	return b.step.RelaxationTime
}

// AddCostFunction reads the weight ("coeff", default 1) and the function's
// own attributes from params and appends it.
func (s *PolicyStep) AddCostFunction(cf CostFunction, params ParameterSource) {
	weight := 1.0
	if params != nil {
		params.ReadFloat("coeff", &weight)
		cf.ParseParameters(params)
	}
	if b, ok := cf.(stepBinder); ok {
		b.bindStep(s)
	}
	s.costFunctions = append(s.costFunctions, WeightedCostFunction{Func: cf, Weight: weight})
}

// CostFunctions returns the weighted cost functions. The slice must not be
// modified.
func (s *PolicyStep) CostFunctions() []WeightedCostFunction { return s.costFunctions }

// InteractionRange is the largest range of the step's cost functions.
func (s *PolicyStep) InteractionRange() float64 {
	var r float64
	for _, wc := range s.costFunctions {
		r = math.Max(r, wc.Func.Range())
	}
	return r
}

// CostForVelocity returns the weighted cost of v for the agent.
func (s *PolicyStep) CostForVelocity(v geometry.Vector2D, a *Agent, w *World) float64 {
	return weightedCost(s.costFunctions, v, a, w)
}

// ComputeAcceleration returns the acceleration this step asks for. The
// agent's neighbors and preferred velocity must be current for the step.
func (s *PolicyStep) ComputeAcceleration(a *Agent, w *World) geometry.Vector2D {
	dt := w.DeltaTime()
	if a.preferredVelocity.IsZero() {
		return a.velocity.Neg().Div(dt)
	}

	if s.Method == Gradient {
		var total geometry.Vector2D
		for _, wc := range s.costFunctions {
			total = total.Add(GradientFromCurrentVelocity(wc.Func, a, w).Mul(wc.Weight))
		}
		return total.Neg()
	}

	var best geometry.Vector2D
	if s.Method == Global {
		best = s.bestVelocityGlobal(a, w)
	} else {
		best = ApproximateGlobalMinimumBySampling(a, w, s.Sampling, s.costFunctions)
	}
	return best.Sub(a.velocity).Div(math.Max(s.RelaxationTime, dt))
}

func (s *PolicyStep) bestVelocityGlobal(a *Agent, w *World) geometry.Vector2D {
	if len(s.costFunctions) == 1 {
		v, _ := GlobalMinimum(s.costFunctions[0].Func, a, w)
		return v
	}
	return ApproximateGlobalMinimumBySampling(a, w, ApproximateGlobalOptimization(), s.costFunctions)
}

// ComputeContactForces returns the penalty force pushing the agent out of
// every neighbor and obstacle it overlaps. Touching exactly yields zero.
func (s *PolicyStep) ComputeContactForces(a *Agent, w *World) geometry.Vector2D {
	var total geometry.Vector2D
	if s.ContactForceScale <= 0 {
		return total
	}
	pos := a.position
	r := a.settings.Radius

	for i := range a.neighbors.Agents {
		other := &a.neighbors.Agents[i]
		diff := pos.Sub(other.Position)
		dist := diff.Len()
		depth := r + other.Agent.settings.Radius - dist
		if depth > 0 && dist > 0 {
			total = total.Add(diff.Div(dist).Mul(s.ContactForceScale * depth))
		}
	}

	for _, edge := range a.neighbors.Obstacles {
		nearest := geometry.NearestPointOnLine(pos, edge.A, edge.B, true)
		diff := pos.Sub(nearest)
		dist := diff.Len()
		depth := r - dist
		if depth > 0 && dist > 0 {
			total = total.Add(diff.Div(dist).Mul(s.ContactForceScale * depth))
		}
	}
	return total
}

// Policy is a navigation strategy shared by many agents. Without explicit
// steps it behaves as its embedded PolicyStep.
type Policy struct {
	PolicyStep
	steps []*PolicyStep
}

// NewPolicy returns a single-step policy.
func NewPolicy(method OptimizationMethod) *Policy {
	return &Policy{PolicyStep: *NewPolicyStep(method)}
}

// NewSteppedPolicy returns a policy evaluated as the sum of its steps.
func NewSteppedPolicy(steps ...*PolicyStep) *Policy {
	p := &Policy{PolicyStep: *NewPolicyStep(Gradient)}
	p.steps = append(p.steps, steps...)
	return p
}

// AddStep appends a step.
func (p *Policy) AddStep(s *PolicyStep) { p.steps = append(p.steps, s) }

// Steps returns the explicit steps, or the policy itself as the only step.
func (p *Policy) Steps() []*PolicyStep {
	if len(p.steps) == 0 {
		return []*PolicyStep{&p.PolicyStep}
	}
	return p.steps
}

// IsStepped reports whether the policy has explicit steps.
func (p *Policy) IsStepped() bool { return len(p.steps) > 0 }

// InteractionRange is the largest range over all steps.
func (p *Policy) InteractionRange() float64 {
	var r float64
	for _, s := range p.Steps() {
		r = math.Max(r, s.InteractionRange())
	}
	return r
}

// ComputeAcceleration sums the steps' accelerations. Each step recomputes
// the agent's neighbors at its own range and its preferred velocity.
func (p *Policy) ComputeAcceleration(a *Agent, w *World) geometry.Vector2D {
	var total geometry.Vector2D
	for _, s := range p.Steps() {
		a.computeNeighbors(w, s.InteractionRange())
		a.updatePreferredVelocity()
		total = total.Add(s.ComputeAcceleration(a, w))
	}
	return total
}

// ComputeContactForces sums the steps' contact forces, recomputing neighbors
// the same way as ComputeAcceleration.
func (p *Policy) ComputeContactForces(a *Agent, w *World) geometry.Vector2D {
	var total geometry.Vector2D
	for _, s := range p.Steps() {
		a.computeNeighbors(w, s.InteractionRange())
		a.updatePreferredVelocity()
		total = total.Add(s.ComputeContactForces(a, w))
	}
	return total
}
