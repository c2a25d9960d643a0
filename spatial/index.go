// Package spatial provides the per-step neighbor index over agent positions.
package spatial

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/pthm-cable/crowdsim/geometry"
)

// NoExclude disables the exclusion argument of the queries.
const NoExclude = -1

// Point is an indexed agent position.
type Point struct {
	ID  int
	Pos geometry.Vector2D
}

// Neighbor is a query hit with its squared distance to the query point.
type Neighbor struct {
	ID     int
	DistSq float64
}

// Index is an immutable k-d tree over agent positions. It is rebuilt every
// step and is safe for concurrent queries.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// Build creates an index over pts.
func Build(pts []Point) *Index {
	ix := &Index{n: len(pts)}
	if len(pts) == 0 {
		return ix
	}
	list := make(points, len(pts))
	for i, p := range pts {
		list[i] = point{id: p.ID, x: p.Pos.X, y: p.Pos.Y}
	}
	ix.tree = kdtree.New(list, false)
	return ix
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return ix.n }

// RadiusQueryInto appends every point within radius of p (inclusive) to dst,
// skipping exclude. Order is unspecified.
func (ix *Index) RadiusQueryInto(dst []Neighbor, p geometry.Vector2D, radius float64, exclude int) []Neighbor {
	if ix.empty() || radius < 0 {
		return dst
	}
	keep := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keep, point{id: NoExclude, x: p.X, y: p.Y})
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		q := c.Comparable.(point)
		if q.id == exclude {
			continue
		}
		dst = append(dst, Neighbor{ID: q.id, DistSq: c.Dist})
	}
	return dst
}

// RadiusQuery is RadiusQueryInto with a fresh slice.
func (ix *Index) RadiusQuery(p geometry.Vector2D, radius float64, exclude int) []Neighbor {
	return ix.RadiusQueryInto(nil, p, radius, exclude)
}

// KNNQuery returns up to k nearest points sorted by ascending distance. When
// exclude is indexed one extra candidate is fetched so that k other points are
// returned when available.
func (ix *Index) KNNQuery(p geometry.Vector2D, k int, exclude int) []Neighbor {
	if ix.empty() || k <= 0 {
		return nil
	}
	fetch := k
	if exclude != NoExclude {
		fetch++
	}
	keep := kdtree.NewNKeeper(fetch)
	ix.tree.NearestSet(keep, point{id: NoExclude, x: p.X, y: p.Y})

	out := make([]Neighbor, 0, fetch)
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		q := c.Comparable.(point)
		if q.id == exclude {
			continue
		}
		out = append(out, Neighbor{ID: q.id, DistSq: c.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq == out[j].DistSq {
			return out[i].ID < out[j].ID
		}
		return out[i].DistSq < out[j].DistSq
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (ix *Index) empty() bool {
	return ix == nil || ix.tree == nil || ix.tree.Root == nil
}

// point implements kdtree.Comparable with squared Euclidean distance.
type point struct {
	id   int
	x, y float64
}

func (p point) coord(d kdtree.Dim) float64 {
	if d == 0 {
		return p.x
	}
	return p.y
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(point).coord(d)
}

func (p point) Dims() int { return 2 }

func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                      { return len(p) }
func (p points) Pivot(d kdtree.Dim) int {
	return plane{dim: d, points: p}.pivot()
}
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts points along one dimension for median partitioning.
type plane struct {
	dim kdtree.Dim
	points
}

func (p plane) pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Less(i, j int) bool {
	return p.points[i].coord(p.dim) < p.points[j].coord(p.dim)
}

func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{dim: p.dim, points: p.points[start:end]}
}
