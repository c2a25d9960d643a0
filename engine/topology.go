package engine

import (
	"fmt"
	"math"

	"github.com/pthm-cable/crowdsim/geometry"
)

// Topology defines how positions are constrained after integration and which
// mirrored frames a neighbor query has to cover.
type Topology interface {
	// Name is "Infinite", "Planar" or "Toric".
	Name() string
	// Constrain maps an integrated position back into the world.
	Constrain(p geometry.Vector2D) geometry.Vector2D
	// QueryOffsets appends the displacements d at which a query around p
	// must also be run. Agents found at p+d are seen at their position - d.
	// The zero offset is always first.
	QueryOffsets(dst []geometry.Vector2D, p geometry.Vector2D, radius float64) []geometry.Vector2D
}

// Infinite is an unbounded plane.
type Infinite struct{}

func (Infinite) Name() string                                   { return "Infinite" }
func (Infinite) Constrain(p geometry.Vector2D) geometry.Vector2D { return p }
func (Infinite) QueryOffsets(dst []geometry.Vector2D, _ geometry.Vector2D, _ float64) []geometry.Vector2D {
	return append(dst, geometry.Vector2D{})
}

// Planar is a rectangle that clamps positions to its bounds.
type Planar struct {
	XMin, XMax, YMin, YMax float64
}

func (Planar) Name() string { return "Planar" }

func (t Planar) Constrain(p geometry.Vector2D) geometry.Vector2D {
	return geometry.Vec(
		math.Max(t.XMin, math.Min(t.XMax, p.X)),
		math.Max(t.YMin, math.Min(t.YMax, p.Y)),
	)
}

func (Planar) QueryOffsets(dst []geometry.Vector2D, _ geometry.Vector2D, _ float64) []geometry.Vector2D {
	return append(dst, geometry.Vector2D{})
}

// Toric is a Width x Height rectangle centred on the origin with periodic
// boundaries.
type Toric struct {
	Width, Height float64
}

func (Toric) Name() string { return "Toric" }

func (t Toric) Constrain(p geometry.Vector2D) geometry.Vector2D {
	hw, hh := t.Width/2, t.Height/2
	if p.X < -hw {
		p.X += t.Width
	} else if p.X > hw {
		p.X -= t.Width
	}
	if p.Y < -hh {
		p.Y += t.Height
	} else if p.Y > hh {
		p.Y -= t.Height
	}
	return p
}

// QueryOffsets returns the four edge-adjacent copies of the world when the
// query disk crosses a border. Corner copies are skipped.
func (t Toric) QueryOffsets(dst []geometry.Vector2D, p geometry.Vector2D, radius float64) []geometry.Vector2D {
	hw, hh := t.Width/2, t.Height/2
	dst = append(dst, geometry.Vector2D{})
	if p.X-radius < -hw {
		dst = append(dst, geometry.Vec(t.Width, 0))
	}
	if p.X+radius > hw {
		dst = append(dst, geometry.Vec(-t.Width, 0))
	}
	if p.Y-radius < -hh {
		dst = append(dst, geometry.Vec(0, t.Height))
	}
	if p.Y+radius > hh {
		dst = append(dst, geometry.Vec(0, -t.Height))
	}
	return dst
}

// ParseTopology builds a topology from its name and extents. Infinite
// ignores the extents; Toric uses width and height.
func ParseTopology(name string, width, height, xmin, xmax, ymin, ymax float64) (Topology, error) {
	switch name {
	case "Infinite", "":
		return Infinite{}, nil
	case "Planar":
		if xmin > xmax || ymin > ymax {
			return nil, fmt.Errorf("%w: planar bounds [%g,%g]x[%g,%g]", ErrInvalidParameter, xmin, xmax, ymin, ymax)
		}
		return Planar{XMin: xmin, XMax: xmax, YMin: ymin, YMax: ymax}, nil
	case "Toric":
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("%w: toric size %gx%g", ErrInvalidParameter, width, height)
		}
		return Toric{Width: width, Height: height}, nil
	}
	return nil, fmt.Errorf("%w: world type %q", ErrInvalidParameter, name)
}
