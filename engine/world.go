// Package engine runs the crowd simulation loop: agents, policies, the cost
// function framework and the per-step pipeline over a world topology.
package engine

import (
	"container/heap"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pthm-cable/crowdsim/geometry"
	"github.com/pthm-cable/crowdsim/spatial"
)

// Step phases, in pipeline order.
const (
	PhaseAdmit        = "admit"
	PhaseSpatialIndex = "spatial_index"
	PhasePrecompute   = "precompute"
	PhaseAcceleration = "acceleration"
	PhaseContact      = "contact"
	PhaseIntegrate    = "integrate"
	PhaseCleanup      = "cleanup"
)

// PhaseObserver is told when each pipeline phase starts.
type PhaseObserver interface {
	StartPhase(phase string)
}

// PhantomAgent is a neighbor as seen from the querying agent's frame. In a
// toric world Position may differ from the real agent's by one world size.
type PhantomAgent struct {
	Agent    *Agent
	Position geometry.Vector2D
	Velocity geometry.Vector2D
	Offset   geometry.Vector2D
	DistSq   float64
}

// NeighborList holds the neighbors of one query.
type NeighborList struct {
	Agents    []PhantomAgent
	Obstacles []geometry.Segment
}

// AgentOptions control how AddAgent places a new agent.
type AgentOptions struct {
	// DesiredID is used when set, non-negative and free. Otherwise the id
	// comes from the world's counter.
	DesiredID *int
	// StartTime delays insertion until the world clock reaches it.
	StartTime float64
	// Goal defaults to the start position.
	Goal *geometry.Vector2D
}

// World owns the agents, obstacles and policies of one simulation run.
type World struct {
	topology Topology
	dt       float64
	time     float64

	agents    []*Agent
	byID      map[int]*Agent // live and scheduled agents
	scheduled schedule
	nextID    int
	seq       int

	obstacles []*geometry.Polygon
	edges     []geometry.Segment
	policies  map[int]*Policy

	index    *spatial.Index
	points   []spatial.Point
	pool     *workerPool
	observer PhaseObserver

	admitted int
	removed  int
}

// NewWorld creates an empty world. threads <= 1 runs every phase inline.
func NewWorld(topology Topology, dt float64, threads int) *World {
	if topology == nil {
		panic("engine: nil topology")
	}
	return &World{
		topology: topology,
		dt:       dt,
		byID:     make(map[int]*Agent),
		policies: make(map[int]*Policy),
		pool:     newWorkerPool(threads),
	}
}

// Close stops the worker goroutines.
func (w *World) Close() { w.pool.stop() }

func (w *World) Topology() Topology { return w.topology }
func (w *World) Time() float64      { return w.time }
func (w *World) DeltaTime() float64 { return w.dt }
func (w *World) NumAgents() int     { return len(w.agents) }
func (w *World) NumScheduled() int  { return len(w.scheduled) }
func (w *World) Threads() int       { return w.pool.numWorkers }
func (w *World) TotalAdmitted() int { return w.admitted }
func (w *World) TotalRemoved() int  { return w.removed }

// Obstacles returns the obstacle polygons in insertion order.
func (w *World) Obstacles() []*geometry.Polygon { return w.obstacles }

// SetTime moves the clock, used when resuming from a snapshot.
func (w *World) SetTime(t float64) { w.time = t }

// SetObserver installs the phase observer. nil disables it.
func (w *World) SetObserver(o PhaseObserver) { w.observer = o }

// Agents returns the live agents in storage order. The slice is invalidated
// by the next step or removal.
func (w *World) Agents() []*Agent { return w.agents }

// Agent returns the live agent with the given id.
func (w *World) Agent(id int) (*Agent, bool) {
	a, ok := w.byID[id]
	if !ok || a.slot < 0 {
		return nil, false
	}
	return a, true
}

// AddPolicy registers p under id. It returns false if the id is taken.
func (w *World) AddPolicy(id int, p *Policy) bool {
	if _, ok := w.policies[id]; ok {
		return false
	}
	w.policies[id] = p
	return true
}

// Policy returns the policy registered under id.
func (w *World) Policy(id int) (*Policy, bool) {
	p, ok := w.policies[id]
	return p, ok
}

// AddAgent creates an agent at pos. The desired id is used when free,
// otherwise the next unused one. Agents with a future start time are queued
// and admitted at the start of the first step at or after it.
func (w *World) AddAgent(pos geometry.Vector2D, settings AgentSettings, opts AgentOptions) (int, error) {
	if _, ok := w.policies[settings.PolicyID]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownPolicy, settings.PolicyID)
	}

	id := w.nextID
	if d := opts.DesiredID; d != nil && *d >= 0 {
		if _, taken := w.byID[*d]; !taken {
			id = *d
		}
	}
	if id >= w.nextID {
		w.nextID = id + 1
	}

	a := newAgent(id, pos, settings)
	a.startTime = opts.StartTime
	if opts.Goal != nil {
		a.setGoal(*opts.Goal)
	}
	w.byID[id] = a

	if opts.StartTime <= w.time {
		w.insert(a)
	} else {
		a.seq = w.seq
		w.seq++
		heap.Push(&w.scheduled, a)
	}
	return id, nil
}

func (w *World) insert(a *Agent) {
	a.slot = len(w.agents)
	w.agents = append(w.agents, a)
	w.admitted++
}

// RemoveAgent deletes a live or scheduled agent.
func (w *World) RemoveAgent(id int) bool {
	a, ok := w.byID[id]
	if !ok {
		return false
	}
	if a.slot < 0 {
		heap.Remove(&w.scheduled, a.heapIndex)
		delete(w.byID, id)
		return true
	}
	w.removeAt(a.slot)
	return true
}

// removeAt swaps the last agent into slot i.
func (w *World) removeAt(i int) {
	a := w.agents[i]
	last := len(w.agents) - 1
	if i != last {
		w.agents[i] = w.agents[last]
		w.agents[i].slot = i
	}
	w.agents[last] = nil
	w.agents = w.agents[:last]
	a.slot = -1
	delete(w.byID, a.id)
	w.removed++
}

// AddObstacle adds a closed polygon. Two points make a thin wall. Clockwise
// input is reversed so that edges always run counter-clockwise.
func (w *World) AddObstacle(points []geometry.Vector2D) error {
	if len(points) < 2 {
		return fmt.Errorf("%w: obstacle needs at least 2 points, got %d", ErrInvalidParameter, len(points))
	}
	if geometry.SignedArea(points) < 0 {
		points = slices.Clone(points)
		slices.Reverse(points)
	}
	p := geometry.NewPolygon(points)
	w.obstacles = append(w.obstacles, p)
	w.edges = append(w.edges, p.Edges()...)
	return nil
}

// SetAgentPosition overrides a live agent's position between steps.
func (w *World) SetAgentPosition(id int, pos geometry.Vector2D) bool {
	a, ok := w.Agent(id)
	if !ok {
		return false
	}
	a.position = w.topology.Constrain(pos)
	return true
}

// SetAgentVelocity overrides a live agent's velocity and viewing direction.
// A zero viewing direction keeps the current one.
func (w *World) SetAgentVelocity(id int, v, viewing geometry.Vector2D) bool {
	a, ok := w.Agent(id)
	if !ok {
		return false
	}
	a.velocity = v
	if !viewing.IsZero() {
		a.viewingDirection = viewing.Normalized()
	}
	return true
}

// SetAgentGoal changes a live or scheduled agent's goal.
func (w *World) SetAgentGoal(id int, goal geometry.Vector2D) bool {
	a, ok := w.byID[id]
	if !ok {
		return false
	}
	a.setGoal(goal)
	return true
}

// RebuildIndex rebuilds the spatial index from the live agents.
func (w *World) RebuildIndex() {
	w.points = w.points[:0]
	for _, a := range w.agents {
		w.points = append(w.points, spatial.Point{ID: a.id, Pos: a.position})
	}
	w.index = spatial.Build(w.points)
}

// ComputeNeighbors returns the agents and obstacle edges within radius of
// pos, excluding the given agent, in pos's frame.
func (w *World) ComputeNeighbors(pos geometry.Vector2D, radius float64, exclude *Agent) NeighborList {
	var nl NeighborList
	w.computeNeighborsInto(&nl, pos, radius, exclude)
	return nl
}

func (w *World) computeNeighborsInto(nl *NeighborList, pos geometry.Vector2D, radius float64, exclude *Agent) {
	if w.index == nil {
		panic("engine: neighbor query before the spatial index was built")
	}
	nl.Agents = nl.Agents[:0]
	nl.Obstacles = nl.Obstacles[:0]

	excludeID := spatial.NoExclude
	if exclude != nil {
		excludeID = exclude.id
	}
	radiusSq := radius * radius

	var offsetBuf [5]geometry.Vector2D
	var hitBuf [32]spatial.Neighbor
	for _, d := range w.topology.QueryOffsets(offsetBuf[:0], pos, radius) {
		q := pos.Add(d)
		for _, hit := range w.index.RadiusQueryInto(hitBuf[:0], q, radius, excludeID) {
			a, ok := w.Agent(hit.ID)
			if !ok {
				continue
			}
			phantom := a.position.Sub(d)
			nl.Agents = append(nl.Agents, PhantomAgent{
				Agent:    a,
				Position: phantom,
				Velocity: a.velocity,
				Offset:   d,
				DistSq:   geometry.DistanceSquared(pos, phantom),
			})
		}
		for _, e := range w.edges {
			if e.DistanceSquaredTo(q) <= radiusSq {
				nl.Obstacles = append(nl.Obstacles, e.Translate(d.Neg()))
			}
		}
	}
}

func (w *World) startPhase(name string) {
	if w.observer != nil {
		w.observer.StartPhase(name)
	}
}

// AdmitDue inserts every scheduled agent whose start time has been reached,
// in start-time order, and returns how many it admitted. Step calls it
// first; hosts call it after SetTime.
func (w *World) AdmitDue() int {
	n := 0
	for len(w.scheduled) > 0 && w.scheduled[0].startTime <= w.time {
		a := heap.Pop(&w.scheduled).(*Agent)
		w.insert(a)
		n++
		slog.Debug("agent admitted", "id", a.id, "time", w.time)
	}
	return n
}

// Step advances the simulation by one time step.
func (w *World) Step() {
	w.startPhase(PhaseAdmit)
	w.AdmitDue()

	w.startPhase(PhaseSpatialIndex)
	w.RebuildIndex()

	n := len(w.agents)

	w.startPhase(PhasePrecompute)
	w.pool.forEach(n, func(i int) { w.precompute(w.agents[i]) })

	w.startPhase(PhaseAcceleration)
	w.pool.forEach(n, func(i int) {
		a := w.agents[i]
		a.nextAcceleration = w.policies[a.settings.PolicyID].ComputeAcceleration(a, w)
	})

	w.startPhase(PhaseContact)
	w.pool.forEach(n, func(i int) {
		a := w.agents[i]
		a.nextContactForce = w.policies[a.settings.PolicyID].ComputeContactForces(a, w)
	})

	w.startPhase(PhaseIntegrate)
	w.pool.forEach(n, func(i int) {
		a := w.agents[i]
		a.integrate(w.dt)
		a.position = w.topology.Constrain(a.position)
	})

	w.time += w.dt

	w.startPhase(PhaseCleanup)
	for i := len(w.agents) - 1; i >= 0; i-- {
		a := w.agents[i]
		if a.settings.RemoveAtGoal && a.HasReachedGoal() {
			w.removeAt(i)
			slog.Debug("agent removed at goal", "id", a.id, "time", w.time)
		}
	}
}

func (w *World) precompute(a *Agent) {
	for _, s := range w.policies[a.settings.PolicyID].Steps() {
		computed := false
		for _, wc := range s.costFunctions {
			p, ok := preprocessorOf(wc.Func)
			if !ok {
				continue
			}
			if !computed {
				a.computeNeighbors(w, s.InteractionRange())
				computed = true
			}
			p.Precompute(a, w)
		}
	}
}

// schedule is a min-heap of agents by start time, then insertion order.
type schedule []*Agent

func (s schedule) Len() int { return len(s) }

func (s schedule) Less(i, j int) bool {
	if s[i].startTime == s[j].startTime {
		return s[i].seq < s[j].seq
	}
	return s[i].startTime < s[j].startTime
}

func (s schedule) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].heapIndex = i
	s[j].heapIndex = j
}

func (s *schedule) Push(x any) {
	a := x.(*Agent)
	a.heapIndex = len(*s)
	*s = append(*s, a)
}

func (s *schedule) Pop() any {
	old := *s
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	a.heapIndex = -1
	return a
}
