package costfunctions

import (
	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// pairwise is a force model defined as one force per neighbor and one per
// obstacle edge.
type pairwise interface {
	agentForce(a *engine.Agent, other *engine.PhantomAgent) geometry.Vector2D
	obstacleForce(a *engine.Agent, edge geometry.Segment, nearest geometry.Vector2D) geometry.Vector2D
}

// sumPairwise adds the forces of every neighbor and obstacle edge within
// rng of the agent.
func sumPairwise(m pairwise, a *engine.Agent, rng float64) geometry.Vector2D {
	pos := a.Position()
	rangeSq := rng * rng
	nb := a.Neighbors()

	var agents geometry.Vector2D
	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq <= rangeSq {
			agents = agents.Add(m.agentForce(a, other))
		}
	}

	var obstacles geometry.Vector2D
	for _, edge := range nb.Obstacles {
		// Inside the obstacle, or another edge faces the agent.
		if geometry.IsPointLeftOfLine(pos, edge.A, edge.B) {
			continue
		}
		nearest := geometry.NearestPointOnLine(pos, edge.A, edge.B, true)
		// Corners belong to the next edge.
		if nearest == edge.B {
			continue
		}
		if geometry.DistanceSquared(pos, nearest) <= rangeSq {
			obstacles = obstacles.Add(m.obstacleForce(a, edge, nearest))
		}
	}
	return agents.Add(obstacles)
}
