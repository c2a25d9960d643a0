package geometry

// Matrix is a 2x2 matrix in row-major order.
type Matrix struct {
	A11, A12 float64
	A21, A22 float64
}

// MatrixFromColumns builds a matrix whose columns are c1 and c2.
func MatrixFromColumns(c1, c2 Vector2D) Matrix {
	return Matrix{A11: c1.X, A12: c2.X, A21: c1.Y, A22: c2.Y}
}

// OuterProduct returns a * b^T.
func OuterProduct(a, b Vector2D) Matrix {
	return Matrix{a.X * b.X, a.X * b.Y, a.Y * b.X, a.Y * b.Y}
}

// Transposed returns m^T.
func (m Matrix) Transposed() Matrix {
	return Matrix{m.A11, m.A21, m.A12, m.A22}
}

// Determinant returns det(m).
func (m Matrix) Determinant() float64 {
	return m.A11*m.A22 - m.A21*m.A12
}

// Add returns m + o.
func (m Matrix) Add(o Matrix) Matrix {
	return Matrix{m.A11 + o.A11, m.A12 + o.A12, m.A21 + o.A21, m.A22 + o.A22}
}

// Sub returns m - o.
func (m Matrix) Sub(o Matrix) Matrix {
	return Matrix{m.A11 - o.A11, m.A12 - o.A12, m.A21 - o.A21, m.A22 - o.A22}
}

// Mul returns the matrix product m * o.
func (m Matrix) Mul(o Matrix) Matrix {
	return Matrix{
		m.A11*o.A11 + m.A12*o.A21, m.A11*o.A12 + m.A12*o.A22,
		m.A21*o.A11 + m.A22*o.A21, m.A21*o.A12 + m.A22*o.A22,
	}
}

// Scale multiplies every entry by s.
func (m Matrix) Scale(s float64) Matrix {
	return Matrix{m.A11 * s, m.A12 * s, m.A21 * s, m.A22 * s}
}

// Apply returns m * v.
func (m Matrix) Apply(v Vector2D) Vector2D {
	return Vector2D{m.A11*v.X + m.A12*v.Y, m.A21*v.X + m.A22*v.Y}
}
