package engine

import (
	"math"

	"github.com/pthm-cable/crowdsim/geometry"
)

// TimeToCollision returns the time at which two moving disks first touch, 0
// if they overlap now and MaxFloat if they never do.
func TimeToCollision(p1, v1 geometry.Vector2D, r1 float64, p2, v2 geometry.Vector2D, r2 float64) float64 {
	return geometry.TimeToCollision(p1, v1, r1, p2, v2, r2)
}

// TimeToFirstCollision returns the smallest time to collision of a disk with
// any neighbor or obstacle within maxDistance. With ignoreCurrent, pairs that
// already overlap are skipped.
func TimeToFirstCollision(pos, v geometry.Vector2D, radius float64, nb *NeighborList, maxDistance float64, ignoreCurrent bool) float64 {
	minTTC := MaxFloat
	maxDistSq := maxDistance * maxDistance

	for i := range nb.Agents {
		other := &nb.Agents[i]
		if other.DistSq > maxDistSq {
			continue
		}
		ttc := geometry.TimeToCollision(pos, v, radius, other.Position, other.Velocity, other.Agent.Radius())
		if ignoreCurrent && ttc == 0 {
			continue
		}
		minTTC = math.Min(minTTC, ttc)
	}

	for _, edge := range nb.Obstacles {
		if edge.DistanceSquaredTo(pos) > maxDistSq {
			continue
		}
		ttc := geometry.TimeToCollisionSegment(pos, v, radius, edge)
		if ignoreCurrent && ttc == 0 {
			continue
		}
		minTTC = math.Min(minTTC, ttc)
	}
	return minTTC
}

// TimeAndDistanceToClosestApproach returns the time to closest approach and
// the surface gap at that time for two disks. Both are clamped at zero.
func TimeAndDistanceToClosestApproach(p1, v1 geometry.Vector2D, r1 float64, p2, v2 geometry.Vector2D, r2 float64) (ttca, dca float64) {
	dpCenter := p2.Sub(p1)
	dvCenter := v2.Sub(v1)

	dpMag := dpCenter.Len()
	if dpMag == 0 {
		return 0, 0
	}
	dp := dpCenter.Div(dpMag).Mul(dpMag - r1 - r2)
	dpNormal := geometry.Vec(-dpCenter.Y, dpCenter.X)
	dv := dvCenter.Add(dpNormal.Mul(dpNormal.Dot(dvCenter)))

	if lsq := dv.LenSqr(); lsq != 0 {
		ttca = -dp.Dot(dv) / lsq
	}
	ttca = math.Max(0, ttca)
	dca = dp.Add(dv.Mul(ttca)).Len()
	return ttca, dca
}

// RotateGradientToEuclidean converts a gradient expressed as (angle, speed)
// around direction into Cartesian velocity space.
func RotateGradientToEuclidean(gradTheta, gradSpeed float64, direction geometry.Vector2D, speed float64) geometry.Vector2D {
	r := geometry.MatrixFromColumns(geometry.Vec(direction.Y, -direction.X), direction)
	sin, cos := math.Sincos(gradTheta)
	return r.Apply(geometry.Vec(sin, 1-cos).Mul(speed).Add(geometry.Vec(0, gradSpeed)))
}
