package geometry

import "math"

// Segment is a directed line segment from A to B.
type Segment struct {
	A, B Vector2D
}

// Translate returns the segment shifted by d.
func (s Segment) Translate(d Vector2D) Segment {
	return Segment{s.A.Add(d), s.B.Add(d)}
}

// Direction returns B - A.
func (s Segment) Direction() Vector2D {
	return s.B.Sub(s.A)
}

// Length returns |B - A|.
func (s Segment) Length() float64 {
	return s.Direction().Len()
}

// NearestPointOnLine returns the point of line (a, b) closest to p. With
// onSegment the result is restricted to the segment between a and b.
func NearestPointOnLine(p, a, b Vector2D, onSegment bool) Vector2D {
	if a == b {
		return a
	}
	line := a.Sub(b)
	k := p.Sub(b).Dot(line) / line.LenSqr()
	if onSegment {
		k = math.Max(0, math.Min(1, k))
	}
	return a.Mul(k).Add(b.Mul(1 - k))
}

// DistanceToLine returns the distance from p to line (a, b).
func DistanceToLine(p, a, b Vector2D, onSegment bool) float64 {
	return Distance(p, NearestPointOnLine(p, a, b, onSegment))
}

// DistanceToLineSquared returns the squared distance from p to line (a, b).
func DistanceToLineSquared(p, a, b Vector2D, onSegment bool) float64 {
	return DistanceSquared(p, NearestPointOnLine(p, a, b, onSegment))
}

// DistanceSquaredTo returns the squared distance from p to the segment.
func (s Segment) DistanceSquaredTo(p Vector2D) float64 {
	return DistanceToLineSquared(p, s.A, s.B, true)
}

// LineIntersection intersects the infinite lines (a, b) and (c, d). The
// second result is false when they are parallel.
func LineIntersection(a, b, c, d Vector2D) (Vector2D, bool) {
	a1 := b.Y - a.Y
	b1 := a.X - b.X
	c1 := a1*a.X + b1*a.Y

	a2 := d.Y - c.Y
	b2 := c.X - d.X
	c2 := a2*c.X + b2*c.Y

	det := a1*b2 - a2*b1
	if math.Abs(det) < 1e-5 {
		return Vector2D{}, false
	}
	inv := 1 / det
	return Vector2D{(b2*c1 - b1*c2) * inv, (a1*c2 - a2*c1) * inv}, true
}

// IsPointLeftOfLine reports whether p is on the left of the directed line
// a->b, using the clockwise convention of the obstacle edges.
func IsPointLeftOfLine(p, a, b Vector2D) bool {
	return IsClockwise(p.Sub(a), b.Sub(a))
}

// IsPointRightOfLine is the counterpart of IsPointLeftOfLine.
func IsPointRightOfLine(p, a, b Vector2D) bool {
	return IsCounterClockwise(p.Sub(a), b.Sub(a))
}
