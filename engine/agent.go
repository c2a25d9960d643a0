package engine

import (
	"math/rand/v2"

	"github.com/pthm-cable/crowdsim/geometry"
)

// Color is an agent's display color.
type Color struct {
	R uint8 `json:"r" yaml:"r"`
	G uint8 `json:"g" yaml:"g"`
	B uint8 `json:"b" yaml:"b"`
}

// AgentSettings are the static properties of an agent.
type AgentSettings struct {
	Radius          float64 `json:"radius" yaml:"radius"`
	PreferredSpeed  float64 `json:"preferred_speed" yaml:"preferred_speed"`
	MaxSpeed        float64 `json:"max_speed" yaml:"max_speed"`
	MaxAcceleration float64 `json:"max_acceleration" yaml:"max_acceleration"`
	Mass            float64 `json:"mass" yaml:"mass"`
	RemoveAtGoal    bool    `json:"remove_at_goal" yaml:"remove_at_goal"`
	Color           Color   `json:"color" yaml:"color"`
	PolicyID        int     `json:"policy" yaml:"policy"`
}

// DefaultAgentSettings returns the settings of an average pedestrian.
func DefaultAgentSettings() AgentSettings {
	return AgentSettings{
		Radius:          0.24,
		PreferredSpeed:  1.4,
		MaxSpeed:        1.8,
		MaxAcceleration: 5,
		Mass:            1,
		Color:           Color{255, 180, 0},
	}
}

// DensityData is the per-agent state of density-based models.
type DensityData struct {
	Density            float64
	Pressure           float64
	RestDensity        float64
	ProgressiveDensity float64
}

// Agent is a simulated pedestrian. Agents are created by World.AddAgent and
// mutated only by the world's step phases and host overrides.
type Agent struct {
	id       int
	settings AgentSettings

	position          geometry.Vector2D
	velocity          geometry.Vector2D
	acceleration      geometry.Vector2D
	contactForce      geometry.Vector2D
	preferredVelocity geometry.Vector2D
	goal              geometry.Vector2D
	viewingDirection  geometry.Vector2D

	nextAcceleration geometry.Vector2D
	nextContactForce geometry.Vector2D

	neighbors NeighborList
	rng       *rand.Rand
	density   DensityData
	scratch   map[any]any

	startTime float64
	slot      int // index in World.agents, -1 while scheduled
	heapIndex int
	seq       int
}

func newAgent(id int, pos geometry.Vector2D, settings AgentSettings) *Agent {
	return &Agent{
		id:       id,
		settings: settings,
		position: pos,
		goal:     pos,
		rng:      rand.New(rand.NewPCG(uint64(id), 0)),
		slot:     -1,
	}
}

func (a *Agent) ID() int                              { return a.id }
func (a *Agent) Settings() AgentSettings              { return a.settings }
func (a *Agent) Radius() float64                      { return a.settings.Radius }
func (a *Agent) PreferredSpeed() float64              { return a.settings.PreferredSpeed }
func (a *Agent) MaxSpeed() float64                    { return a.settings.MaxSpeed }
func (a *Agent) MaxAcceleration() float64             { return a.settings.MaxAcceleration }
func (a *Agent) Mass() float64                        { return a.settings.Mass }
func (a *Agent) PolicyID() int                        { return a.settings.PolicyID }
func (a *Agent) Position() geometry.Vector2D          { return a.position }
func (a *Agent) Velocity() geometry.Vector2D          { return a.velocity }
func (a *Agent) Acceleration() geometry.Vector2D      { return a.acceleration }
func (a *Agent) ContactForce() geometry.Vector2D      { return a.contactForce }
func (a *Agent) PreferredVelocity() geometry.Vector2D { return a.preferredVelocity }
func (a *Agent) Goal() geometry.Vector2D              { return a.goal }
func (a *Agent) ViewingDirection() geometry.Vector2D  { return a.viewingDirection }
func (a *Agent) StartTime() float64                   { return a.startTime }
func (a *Agent) Neighbors() *NeighborList             { return &a.neighbors }
func (a *Agent) DensityData() *DensityData            { return &a.density }
func (a *Agent) NextAcceleration() geometry.Vector2D  { return a.nextAcceleration }
func (a *Agent) NextContactForce() geometry.Vector2D  { return a.nextContactForce }

// HasReachedGoal reports whether the goal lies within the agent's radius.
func (a *Agent) HasReachedGoal() bool {
	return a.goal.Sub(a.position).LenSqr() <= a.settings.Radius*a.settings.Radius
}

// RandomFloat draws uniformly from [lo, hi) using the agent's own stream.
func (a *Agent) RandomFloat(lo, hi float64) float64 {
	return lo + a.rng.Float64()*(hi-lo)
}

// Scratch returns a value cached on the agent by a cost function.
func (a *Agent) Scratch(key any) (any, bool) {
	v, ok := a.scratch[key]
	return v, ok
}

// SetScratch caches a value on the agent. Only the goroutine processing the
// agent may call it during a phase.
func (a *Agent) SetScratch(key, value any) {
	if a.scratch == nil {
		a.scratch = make(map[any]any)
	}
	a.scratch[key] = value
}

func (a *Agent) setGoal(goal geometry.Vector2D) {
	a.goal = goal
	if goal != a.position {
		a.viewingDirection = goal.Sub(a.position).Normalized()
	}
}

func (a *Agent) computeNeighbors(w *World, radius float64) {
	w.computeNeighborsInto(&a.neighbors, a.position, radius, a)
}

func (a *Agent) updatePreferredVelocity() {
	if a.HasReachedGoal() {
		a.preferredVelocity = geometry.Vector2D{}
		return
	}
	a.preferredVelocity = a.goal.Sub(a.position).Normalized().Mul(a.settings.PreferredSpeed)
}

// integrate applies the staged acceleration and contact force for one step.
func (a *Agent) integrate(dt float64) {
	a.acceleration = geometry.ClampLength(a.nextAcceleration, a.settings.MaxAcceleration)
	a.velocity = geometry.ClampLength(a.velocity.Add(a.acceleration.Mul(dt)), a.settings.MaxSpeed)

	// contact forces may exceed the speed limit
	a.contactForce = a.nextContactForce
	a.velocity = a.velocity.Add(a.contactForce.Div(a.settings.Mass).Mul(dt))

	a.position = a.position.Add(a.velocity.Mul(dt))
	a.updateViewingDirection()
}

func (a *Agent) updateViewingDirection() {
	blend := a.velocity.Mul(2).Add(a.preferredVelocity).Div(3)
	if blend.LenSqr() > 0.01 {
		a.viewingDirection = blend.Normalized()
	}
}
