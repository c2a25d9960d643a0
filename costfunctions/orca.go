package costfunctions

import (
	"math"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// ORCA is optimal reciprocal collision avoidance (van den Berg et al. 2011).
// Each agent's half-plane program is solved once per simulation time and
// cached on the agent. The closed-form minimum is the program's solution;
// the cost of other velocities grows with their worst constraint violation.
type ORCA struct {
	engine.BaseCost
	TimeHorizon float64
}

// orcaLine is the directed boundary of one half-plane constraint. Valid
// velocities lie to its left.
type orcaLine struct {
	point     geometry.Vector2D
	direction geometry.Vector2D
}

type orcaSolution struct {
	time     float64
	velocity geometry.Vector2D
	feasible bool
	lines    []orcaLine
}

const orcaEpsilon = 0.00001

func NewORCA() *ORCA {
	return &ORCA{BaseCost: engine.NewBaseCost(engine.DefaultRange), TimeHorizon: 5}
}

func (*ORCA) Name() string { return NameORCA }

func (o *ORCA) ParseParameters(params engine.ParameterSource) {
	o.BaseCost.ParseParameters(params)
	params.ReadFloat("timeHorizon", &o.TimeHorizon)
}

func (o *ORCA) Cost(v geometry.Vector2D, a *engine.Agent, w *engine.World) float64 {
	sol := o.solution(a, w)
	maxDist := -engine.MaxFloat
	for _, l := range sol.lines {
		maxDist = math.Max(maxDist, l.violation(v))
	}
	if maxDist <= 0 {
		return v.Sub(a.PreferredVelocity()).Len()
	}
	// Infeasible velocities stay finite so sampling can rank them.
	return maxDist + 2*a.MaxSpeed()
}

func (o *ORCA) GlobalMinimum(a *engine.Agent, w *engine.World) geometry.Vector2D {
	return o.solution(a, w).velocity
}

// solution returns the cached program for the current time, solving it if
// the cache is missing or stale.
func (o *ORCA) solution(a *engine.Agent, w *engine.World) *orcaSolution {
	if v, ok := a.Scratch(o); ok {
		if sol := v.(*orcaSolution); sol.time == w.Time() {
			return sol
		}
	}
	sol := o.solve(a, w)
	a.SetScratch(o, sol)
	return sol
}

func (o *ORCA) solve(a *engine.Agent, w *engine.World) *orcaSolution {
	sol := &orcaSolution{time: w.Time()}
	sol.lines = o.agentLines(a, w.DeltaTime())

	maxSpeed := a.MaxSpeed()
	failed := linearProgram2(sol.lines, maxSpeed, a.PreferredVelocity(), false, &sol.velocity)
	sol.feasible = failed == len(sol.lines)
	if !sol.feasible {
		linearProgram3(sol.lines, 0, failed, maxSpeed, &sol.velocity)
	}
	return sol
}

// violation is positive when v lies right of the line.
func (l orcaLine) violation(v geometry.Vector2D) float64 {
	return l.direction.Cross(l.point.Sub(v))
}

func (o *ORCA) agentLines(a *engine.Agent, dt float64) []orcaLine {
	pos := a.Position()
	vel := a.Velocity()
	r := a.Radius()
	maxDistSq := o.Range() * o.Range()
	nb := a.Neighbors()

	lines := make([]orcaLine, 0, len(nb.Agents))
	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq > maxDistSq {
			continue
		}
		relPos := other.Position.Sub(pos)
		relVel := vel.Sub(other.Velocity)
		distSq := relPos.LenSqr()
		combined := r + other.Agent.Radius()
		combinedSq := combined * combined

		var line orcaLine
		var u geometry.Vector2D
		if distSq > combinedSq {
			// vector from the cutoff centre to the relative velocity
			wv := relVel.Sub(relPos.Div(o.TimeHorizon))
			wLenSq := wv.LenSqr()
			dot1 := wv.Dot(relPos)

			if dot1 < 0 && dot1*dot1 > combinedSq*wLenSq {
				// project on the cutoff circle
				wLen := math.Sqrt(wLenSq)
				unitW := wv.Div(wLen)
				line.direction = geometry.Vec(unitW.Y, -unitW.X)
				u = unitW.Mul(combined/o.TimeHorizon - wLen)
			} else {
				// project on the nearer leg
				leg := math.Sqrt(distSq - combinedSq)
				if relPos.Cross(wv) > 0 {
					line.direction = geometry.Vec(
						relPos.X*leg-relPos.Y*combined,
						relPos.X*combined+relPos.Y*leg,
					).Div(distSq)
				} else {
					line.direction = geometry.Vec(
						relPos.X*leg+relPos.Y*combined,
						-relPos.X*combined+relPos.Y*leg,
					).Div(-distSq)
				}
				u = line.direction.Mul(relVel.Dot(line.direction)).Sub(relVel)
			}
		} else {
			// already colliding: resolve within one step
			wv := relVel.Sub(relPos.Div(dt))
			wLen := wv.Len()
			if wLen == 0 {
				continue
			}
			unitW := wv.Div(wLen)
			line.direction = geometry.Vec(unitW.Y, -unitW.X)
			u = unitW.Mul(combined/dt - wLen)
		}
		line.point = vel.Add(u.Mul(0.5))
		lines = append(lines, line)
	}
	return lines
}

// linearProgram1 solves the program on line lineNo subject to the lines
// before it. It reports false when they are infeasible on that line.
func linearProgram1(lines []orcaLine, lineNo int, radius float64, opt geometry.Vector2D, directionOpt bool, result *geometry.Vector2D) bool {
	ln := lines[lineNo]
	dot := ln.point.Dot(ln.direction)
	disc := dot*dot + radius*radius - ln.point.LenSqr()
	if disc < 0 {
		return false
	}
	sqrtDisc := math.Sqrt(disc)
	tLeft, tRight := -dot-sqrtDisc, -dot+sqrtDisc

	for i := 0; i < lineNo; i++ {
		denom := ln.direction.Cross(lines[i].direction)
		numer := lines[i].direction.Cross(ln.point.Sub(lines[i].point))
		if math.Abs(denom) <= orcaEpsilon {
			if numer < 0 {
				return false
			}
			continue
		}
		t := numer / denom
		if denom >= 0 {
			tRight = math.Min(tRight, t)
		} else {
			tLeft = math.Max(tLeft, t)
		}
		if tLeft > tRight {
			return false
		}
	}

	switch {
	case directionOpt && opt.Dot(ln.direction) > 0:
		*result = ln.point.Add(ln.direction.Mul(tRight))
	case directionOpt:
		*result = ln.point.Add(ln.direction.Mul(tLeft))
	default:
		t := ln.direction.Dot(opt.Sub(ln.point))
		t = math.Max(tLeft, math.Min(tRight, t))
		*result = ln.point.Add(ln.direction.Mul(t))
	}
	return true
}

// linearProgram2 finds the velocity closest to opt inside the speed disk
// satisfying every line. It returns the index of the first line it failed
// on, or len(lines).
func linearProgram2(lines []orcaLine, radius float64, opt geometry.Vector2D, directionOpt bool, result *geometry.Vector2D) int {
	switch {
	case directionOpt:
		*result = opt.Mul(radius)
	case opt.LenSqr() > radius*radius:
		*result = opt.Normalized().Mul(radius)
	default:
		*result = opt
	}

	for i := range lines {
		if lines[i].violation(*result) > 0 {
			prev := *result
			if !linearProgram1(lines, i, radius, opt, directionOpt, result) {
				*result = prev
				return i
			}
		}
	}
	return len(lines)
}

// linearProgram3 minimizes the largest violation when the program from
// beginLine on is infeasible. The first numObstLines lines are hard.
func linearProgram3(lines []orcaLine, numObstLines, beginLine int, radius float64, result *geometry.Vector2D) {
	var dist float64
	for i := beginLine; i < len(lines); i++ {
		li := lines[i]
		if li.violation(*result) <= dist {
			continue
		}
		proj := append([]orcaLine(nil), lines[:numObstLines]...)
		for j := numObstLines; j < i; j++ {
			lj := lines[j]
			var line orcaLine
			det := li.direction.Cross(lj.direction)
			if math.Abs(det) <= orcaEpsilon {
				if li.direction.Dot(lj.direction) > 0 {
					continue
				}
				line.point = li.point.Add(lj.point).Mul(0.5)
			} else {
				line.point = li.point.Add(li.direction.Mul(lj.direction.Cross(li.point.Sub(lj.point)) / det))
			}
			line.direction = lj.direction.Sub(li.direction).Normalized()
			proj = append(proj, line)
		}

		prev := *result
		if linearProgram2(proj, radius, geometry.Vec(-li.direction.Y, li.direction.X), true, result) < len(proj) {
			// only numerical error gets here
			*result = prev
		}
		dist = li.violation(*result)
	}
}
