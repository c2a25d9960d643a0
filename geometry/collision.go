package geometry

import "math"

// SolveQuadratic solves a*t^2 + b*t + c = 0 and returns the number of real
// roots. A degenerate a == 0 is treated as having no roots.
func SolveQuadratic(a, b, c float64) (n int, t1, t2 float64) {
	if a == 0 {
		return 0, MaxFloat, MaxFloat
	}
	d := b*b - 4*a*c
	if d < 0 {
		return 0, MaxFloat, MaxFloat
	}
	if d == 0 {
		t := -b / (2 * a)
		return 1, t, MaxFloat
	}
	sqrtD := math.Sqrt(d)
	return 2, (-b + sqrtD) / (2 * a), (-b - sqrtD) / (2 * a)
}

// TimeToCollision returns the smallest non-negative time at which two disks
// moving with constant velocities touch. It returns 0 for disks that already
// overlap and MaxFloat when they never touch.
func TimeToCollision(p1, v1 Vector2D, r1 float64, p2, v2 Vector2D, r2 float64) float64 {
	dp := p1.Sub(p2)
	radii := r1 + r2
	radiiSq := radii * radii
	if dp.LenSqr() <= radiiSq {
		return 0
	}

	dv := v1.Sub(v2)
	a := dv.Dot(dv)
	b := 2 * dp.Dot(dv)
	c := dp.Dot(dp) - radiiSq

	_, t1, t2 := SolveQuadratic(a, b, c)
	if t1 < 0 {
		t1 = MaxFloat
	}
	if t2 < 0 {
		t2 = MaxFloat
	}
	return math.Min(t1, t2)
}

// TimeToCollisionSegment returns the time at which a disk at p with velocity v
// and radius r first touches the static segment s.
func TimeToCollisionSegment(p, v Vector2D, r float64, s Segment) float64 {
	t1 := TimeToCollision(p, v, r, s.A, Vector2D{}, 0)
	if t1 == 0 {
		return 0
	}
	if s.A == s.B {
		return t1
	}
	t2 := TimeToCollision(p, v, r, s.B, Vector2D{}, 0)
	if t2 == 0 {
		return 0
	}
	return math.Min(math.Min(t1, t2), timeToSegmentInterior(p, v, r, s))
}

// timeToSegmentInterior handles a hit strictly between the endpoints by
// shifting the segment towards the disk by r and intersecting rays.
func timeToSegmentInterior(p, v Vector2D, r float64, s Segment) float64 {
	if s.DistanceSquaredTo(p) <= r*r {
		return 0
	}
	if v.IsZero() {
		return MaxFloat
	}

	dir := s.Direction()
	shift := Vec(dir.Y, -dir.X).Normalized().Mul(r)
	a := s.A.Add(shift)
	b := s.B.Add(shift)

	x, ok := LineIntersection(p, p.Add(v), a, b)
	if !ok {
		return MaxFloat
	}
	if v.Dot(x.Sub(p)) < 0 {
		return MaxFloat
	}
	frac := x.Sub(a).Dot(dir) / dir.LenSqr()
	if frac < 0 || frac > 1 {
		return MaxFloat
	}
	return math.Sqrt(x.Sub(p).LenSqr() / v.LenSqr())
}
