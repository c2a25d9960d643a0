package telemetry

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/spatial"
)

// Collector turns world state into WindowStats at fixed step intervals.
type Collector struct {
	windowSteps int

	windowStartStep int
	admittedAtStart int
	removedAtStart  int

	points []spatial.Point
	speeds []float64
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per step
func NewCollector(windowDurationSec, dt float64) *Collector {
	steps := int(math.Round(windowDurationSec / dt))
	if steps < 1 {
		steps = 1
	}
	return &Collector{windowSteps: steps}
}

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(step int) bool {
	return step-c.windowStartStep >= c.windowSteps
}

// WindowDurationSteps returns the number of steps per window.
func (c *Collector) WindowDurationSteps() int {
	return c.windowSteps
}

// Reset starts a new window at step without reporting, as after a resume.
func (c *Collector) Reset(step int, w *engine.World) {
	c.windowStartStep = step
	c.admittedAtStart = w.TotalAdmitted()
	c.removedAtStart = w.TotalRemoved()
}

// Flush produces a WindowStats for the window ending at step and starts the
// next one.
func (c *Collector) Flush(step int, w *engine.World) WindowStats {
	agents := w.Agents()
	stats := WindowStats{
		WindowStartStep: c.windowStartStep,
		WindowEndStep:   step,
		SimTimeSec:      w.Time(),
		Agents:          len(agents),
		Scheduled:       w.NumScheduled(),
		Admitted:        w.TotalAdmitted() - c.admittedAtStart,
		Removed:         w.TotalRemoved() - c.removedAtStart,
	}

	c.speeds = c.speeds[:0]
	c.points = c.points[:0]
	var goalDist float64
	for _, a := range agents {
		c.speeds = append(c.speeds, a.Velocity().Len())
		c.points = append(c.points, spatial.Point{ID: a.ID(), Pos: a.Position()})
		goalDist += a.Goal().Sub(a.Position()).Len()
		if a.HasReachedGoal() {
			stats.AtGoal++
		}
	}
	stats.SpeedMean, stats.SpeedStd, stats.SpeedP10, stats.SpeedP50, stats.SpeedP90 = ComputeSpeedStats(c.speeds)
	if len(agents) > 0 {
		stats.GoalDistanceMean = goalDist / float64(len(agents))
	}
	stats.Overlaps, stats.MinClearance = c.clearance(w)

	c.Reset(step, w)
	return stats
}

// clearance counts overlapping pairs and finds the smallest surface gap
// between nearest neighbors. Wrapping of toric worlds is ignored.
func (c *Collector) clearance(w *engine.World) (overlaps int, minGap float64) {
	agents := w.Agents()
	if len(agents) < 2 {
		return 0, 0
	}
	ix := spatial.Build(c.points)

	var maxRadius float64
	for _, a := range agents {
		maxRadius = math.Max(maxRadius, a.Radius())
	}

	minGap = math.Inf(1)
	var hits []spatial.Neighbor
	for _, a := range agents {
		if nn := ix.KNNQuery(a.Position(), 1, a.ID()); len(nn) == 1 {
			if other, ok := w.Agent(nn[0].ID); ok {
				minGap = math.Min(minGap, math.Sqrt(nn[0].DistSq)-a.Radius()-other.Radius())
			}
		}
		hits = ix.RadiusQueryInto(hits[:0], a.Position(), a.Radius()+maxRadius, a.ID())
		for _, h := range hits {
			// count each pair once
			if h.ID < a.ID() {
				continue
			}
			other, ok := w.Agent(h.ID)
			if !ok {
				continue
			}
			r := a.Radius() + other.Radius()
			if h.DistSq < r*r {
				overlaps++
			}
		}
	}
	return overlaps, minGap
}
