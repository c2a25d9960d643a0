// Package geometry provides the 2D vector kernel shared by the simulator:
// vectors, 2x2 matrices, segments, polygons and collision predicates.
package geometry

import (
	"fmt"
	"math"
)

// MaxFloat marks "no collision" and forbidden costs. It is finite so that
// sums and comparisons stay well defined.
const MaxFloat = math.MaxFloat32

// Vector2D is a point or direction in the plane.
type Vector2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Vec is shorthand for Vector2D{X: x, Y: y}.
func Vec(x, y float64) Vector2D {
	return Vector2D{X: x, Y: y}
}

// String implements fmt.Stringer.
func (v Vector2D) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", v.X, v.Y)
}

// Add returns v + o.
func (v Vector2D) Add(o Vector2D) Vector2D {
	return Vector2D{v.X + o.X, v.Y + o.Y}
}

// Sub returns v - o.
func (v Vector2D) Sub(o Vector2D) Vector2D {
	return Vector2D{v.X - o.X, v.Y - o.Y}
}

// Mul scales v by s.
func (v Vector2D) Mul(s float64) Vector2D {
	return Vector2D{v.X * s, v.Y * s}
}

// Div scales v by 1/s.
func (v Vector2D) Div(s float64) Vector2D {
	return Vector2D{v.X / s, v.Y / s}
}

// Neg returns -v.
func (v Vector2D) Neg() Vector2D {
	return Vector2D{-v.X, -v.Y}
}

// Dot returns the dot product.
func (v Vector2D) Dot(o Vector2D) float64 {
	return v.X*o.X + v.Y*o.Y
}

// Cross returns the z component of the 3D cross product.
func (v Vector2D) Cross(o Vector2D) float64 {
	return v.X*o.Y - v.Y*o.X
}

// Len returns the magnitude.
func (v Vector2D) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

// LenSqr returns the squared magnitude.
func (v Vector2D) LenSqr() float64 {
	return v.X*v.X + v.Y*v.Y
}

// Normalized returns the unit vector in the direction of v, or the zero
// vector when v is zero.
func (v Vector2D) Normalized() Vector2D {
	l := v.Len()
	if l == 0 {
		return Vector2D{}
	}
	return Vector2D{v.X / l, v.Y / l}
}

// IsZero reports whether both components are exactly zero.
func (v Vector2D) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// Perp returns v rotated by +90 degrees.
func (v Vector2D) Perp() Vector2D {
	return Vector2D{-v.Y, v.X}
}

// Rotate returns v rotated counter-clockwise by radians.
func (v Vector2D) Rotate(radians float64) Vector2D {
	sin, cos := math.Sincos(radians)
	return Vector2D{cos*v.X - sin*v.Y, sin*v.X + cos*v.Y}
}

// RotateAround rotates v counter-clockwise around pivot.
func (v Vector2D) RotateAround(pivot Vector2D, radians float64) Vector2D {
	return pivot.Add(v.Sub(pivot).Rotate(radians))
}

// Distance returns |p - q|.
func Distance(p, q Vector2D) float64 {
	return p.Sub(q).Len()
}

// DistanceSquared returns |p - q|^2.
func DistanceSquared(p, q Vector2D) float64 {
	return p.Sub(q).LenSqr()
}

// Angle returns the unsigned angle between a and b in [0, pi]. Zero vectors
// yield 0.
func Angle(a, b Vector2D) float64 {
	lengths := a.Len() * b.Len()
	if lengths == 0 {
		return 0
	}
	frac := math.Max(-1, math.Min(1, a.Dot(b)/lengths))
	return math.Acos(frac)
}

// CosAngle returns the cosine of the angle between a and b, 0 for zero
// vectors.
func CosAngle(a, b Vector2D) float64 {
	lengths := a.Len() * b.Len()
	if lengths == 0 {
		return 0
	}
	return a.Dot(b) / lengths
}

// IsClockwise reports whether b lies clockwise of a.
func IsClockwise(a, b Vector2D) bool {
	return a.Cross(b) < 0
}

// IsCounterClockwise reports whether b lies counter-clockwise of a.
func IsCounterClockwise(a, b Vector2D) bool {
	return a.Cross(b) > 0
}

// CounterClockwiseAngle returns the signed angle from a to b, positive when
// b is counter-clockwise of a.
func CounterClockwiseAngle(a, b Vector2D) float64 {
	ang := Angle(a, b)
	if IsClockwise(a, b) {
		return -ang
	}
	return ang
}

// ClampLength returns v scaled down to maxLength if it is longer.
// MaxFloat disables clamping.
func ClampLength(v Vector2D, maxLength float64) Vector2D {
	if maxLength >= MaxFloat {
		return v
	}
	l := v.Len()
	if l <= maxLength {
		return v
	}
	return v.Mul(maxLength / l)
}

// ApproximateDisk returns n points on the circle around center.
func ApproximateDisk(center Vector2D, radius float64, n int) []Vector2D {
	if n < 3 {
		n = 3
	}
	pts := make([]Vector2D, n)
	step := 2 * math.Pi / float64(n)
	for i := range pts {
		pts[i] = center.Add(Vec(radius, 0).Rotate(step * float64(i)))
	}
	return pts
}
