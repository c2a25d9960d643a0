package telemetry

import (
	"slices"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// Journey is one agent's trip from admission to removal.
type Journey struct {
	ID         int     `csv:"id"`
	StartTime  float64 `csv:"start_time"`
	EndTime    float64 `csv:"end_time"`
	PathLength float64 `csv:"path_length"`
	// Displacement is the straight distance from the first to the last
	// recorded position.
	Displacement float64 `csv:"displacement"`
	MeanSpeed    float64 `csv:"mean_speed"`
	// Finished is false for agents still walking when the run ended.
	Finished bool `csv:"finished"`

	start  geometry.Vector2D `csv:"-"`
	last   geometry.Vector2D `csv:"-"`
	seenAt int               `csv:"-"`
}

// JourneyTracker follows every agent across steps.
type JourneyTracker struct {
	active map[int]*Journey
	step   int
}

// NewJourneyTracker creates an empty tracker.
func NewJourneyTracker() *JourneyTracker {
	return &JourneyTracker{active: make(map[int]*Journey)}
}

// Update records one completed step of w and returns the journeys of agents
// that left the world during it, ordered by id. Path length integrates
// speed, so wrapping in toric worlds does not count as travel.
func (jt *JourneyTracker) Update(w *engine.World) []Journey {
	jt.step++
	dt := w.DeltaTime()
	for _, a := range w.Agents() {
		j, ok := jt.active[a.ID()]
		if !ok {
			j = &Journey{ID: a.ID(), StartTime: w.Time() - dt, start: a.Position()}
			jt.active[a.ID()] = j
		}
		j.PathLength += a.Velocity().Len() * dt
		j.last = a.Position()
		j.EndTime = w.Time()
		j.seenAt = jt.step
	}

	var done []Journey
	for id, j := range jt.active {
		if j.seenAt == jt.step {
			continue
		}
		j.Finished = true
		done = append(done, j.finish())
		delete(jt.active, id)
	}
	sortJourneys(done)
	return done
}

// Close returns the journeys still in progress, ordered by id.
func (jt *JourneyTracker) Close() []Journey {
	out := make([]Journey, 0, len(jt.active))
	for id, j := range jt.active {
		out = append(out, j.finish())
		delete(jt.active, id)
	}
	sortJourneys(out)
	return out
}

// Active returns the number of journeys in progress.
func (jt *JourneyTracker) Active() int { return len(jt.active) }

func (j *Journey) finish() Journey {
	j.Displacement = geometry.Distance(j.start, j.last)
	if d := j.EndTime - j.StartTime; d > 0 {
		j.MeanSpeed = j.PathLength / d
	}
	return *j
}

func sortJourneys(js []Journey) {
	slices.SortFunc(js, func(a, b Journey) int { return a.ID - b.ID })
}
