package geometry

// Polygon is an immutable closed polygon with its edges and triangulation
// computed once at construction.
type Polygon struct {
	vertices  []Vector2D
	edges     []Segment
	triangles [][3]int
}

// NewPolygon builds a polygon from its vertices in order. Edge i runs from
// vertex i to vertex i+1 (mod n).
func NewPolygon(vertices []Vector2D) *Polygon {
	n := len(vertices)
	p := &Polygon{
		vertices: append([]Vector2D(nil), vertices...),
		edges:    make([]Segment, n),
	}
	for i := range vertices {
		p.edges[i] = Segment{vertices[i], vertices[(i+1)%n]}
	}
	p.triangles = triangulate(p.vertices)
	return p
}

// Vertices returns the polygon corners. The slice must not be modified.
func (p *Polygon) Vertices() []Vector2D { return p.vertices }

// Edges returns the polygon edges. The slice must not be modified.
func (p *Polygon) Edges() []Segment { return p.edges }

// Triangles returns the triangulation as corner triples.
func (p *Polygon) Triangles() [][3]Vector2D {
	out := make([][3]Vector2D, len(p.triangles))
	for i, t := range p.triangles {
		out[i] = [3]Vector2D{p.vertices[t[0]], p.vertices[t[1]], p.vertices[t[2]]}
	}
	return out
}

// Area returns the unsigned area.
func (p *Polygon) Area() float64 {
	a := SignedArea(p.vertices)
	if a < 0 {
		return -a
	}
	return a
}

// Contains reports whether q lies inside the polygon (even-odd rule).
func (p *Polygon) Contains(q Vector2D) bool {
	inside := false
	n := len(p.vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.vertices[i], p.vertices[j]
		if (a.Y > q.Y) != (b.Y > q.Y) &&
			q.X < (b.X-a.X)*(q.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// SignedArea returns the shoelace area of v, positive for counter-clockwise
// order.
func SignedArea(v []Vector2D) float64 {
	var sum float64
	n := len(v)
	for i := range v {
		sum += v[i].Cross(v[(i+1)%n])
	}
	return sum / 2
}

// triangulate runs ear clipping on a simple polygon. Degenerate input yields
// as many triangles as could be clipped.
func triangulate(v []Vector2D) [][3]int {
	n := len(v)
	if n < 3 {
		return nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// Work on a counter-clockwise ring.
	if SignedArea(v) < 0 {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			idx[i], idx[j] = idx[j], idx[i]
		}
	}

	tris := make([][3]int, 0, n-2)
	guard := 2 * n * n
	for len(idx) > 3 && guard > 0 {
		guard--
		clipped := false
		for i := range idx {
			prev := idx[(i+len(idx)-1)%len(idx)]
			cur := idx[i]
			next := idx[(i+1)%len(idx)]
			if !isEar(v, idx, prev, cur, next) {
				continue
			}
			tris = append(tris, [3]int{prev, cur, next})
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			break
		}
	}
	if len(idx) == 3 {
		tris = append(tris, [3]int{idx[0], idx[1], idx[2]})
	}
	return tris
}

func isEar(v []Vector2D, ring []int, prev, cur, next int) bool {
	a, b, c := v[prev], v[cur], v[next]
	if b.Sub(a).Cross(c.Sub(b)) <= 0 {
		return false
	}
	for _, k := range ring {
		if k == prev || k == cur || k == next {
			continue
		}
		if pointInTriangle(v[k], a, b, c) {
			return false
		}
	}
	return true
}

func pointInTriangle(p, a, b, c Vector2D) bool {
	d1 := b.Sub(a).Cross(p.Sub(a))
	d2 := c.Sub(b).Cross(p.Sub(b))
	d3 := a.Sub(c).Cross(p.Sub(c))
	return d1 >= 0 && d2 >= 0 && d3 >= 0
}
