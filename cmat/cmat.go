// Package cmat provides the dense complex linear algebra used by the
// magnon dynamics calculation: general complex matrices with products and
// adjoints, a Cholesky factorisation for Hermitian positive-definite
// matrices, and Hermitian eigendecomposition and inversion realised through
// the real-symmetric embedding of a complex matrix.
package cmat

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
)

// Dense is a row-major dense complex matrix.
type Dense struct {
	rows int
	cols int
	data []complex128
}

func NewDense(rows, cols int) *Dense {
	return &Dense{rows: rows, cols: cols, data: make([]complex128, rows*cols)}
}

// FromRows builds a matrix from explicit row data.
func FromRows(rows [][]complex128) *Dense {
	m := NewDense(len(rows), len(rows[0]))
	for i, row := range rows {
		if len(row) != m.cols {
			panic(fmt.Sprintf("%d %d", len(row), m.cols))
		}
		copy(m.data[i*m.cols:(i+1)*m.cols], row)
	}
	return m
}

// Identity returns the n by n unit matrix.
func Identity(n int) *Dense {
	m := NewDense(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

func (m *Dense) Dims() (int, int)           { return m.rows, m.cols }
func (m *Dense) At(i, j int) complex128     { return m.data[i*m.cols+j] }
func (m *Dense) Set(i, j int, v complex128) { m.data[i*m.cols+j] = v }

func (m *Dense) IsEmpty() bool { return m.rows == 0 || m.cols == 0 }

func (m *Dense) Clone() *Dense {
	c := NewDense(m.rows, m.cols)
	copy(c.data, m.data)
	return c
}

// AddDiag adds v to every diagonal entry.
func (m *Dense) AddDiag(v complex128) {
	n := min(m.rows, m.cols)
	for i := 0; i < n; i++ {
		m.data[i*m.cols+i] += v
	}
}

// Add accumulates c*b into m, where b has the same shape as m.
func (m *Dense) Add(c complex128, b *Dense) {
	if m.rows != b.rows || m.cols != b.cols {
		panic(fmt.Sprintf("%dx%d %dx%d", m.rows, m.cols, b.rows, b.cols))
	}
	for i, bv := range b.data {
		m.data[i] += c * bv
	}
}

// Scale multiplies every entry by c.
func (m *Dense) Scale(c complex128) {
	for i := range m.data {
		m.data[i] *= c
	}
}

// H returns the conjugate transpose.
func (m *Dense) H() *Dense {
	h := NewDense(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			h.data[j*h.cols+i] = cmplx.Conj(m.data[i*m.cols+j])
		}
	}
	return h
}

// Trace returns the sum of the diagonal entries.
func (m *Dense) Trace() complex128 {
	var tr complex128
	n := min(m.rows, m.cols)
	for i := 0; i < n; i++ {
		tr += m.data[i*m.cols+i]
	}
	return tr
}

// SetSub copies s into m with its top-left corner at (row, col).
func (m *Dense) SetSub(row, col int, s *Dense) {
	for i := 0; i < s.rows; i++ {
		copy(m.data[(row+i)*m.cols+col:(row+i)*m.cols+col+s.cols],
			s.data[i*s.cols:(i+1)*s.cols])
	}
}

func (m *Dense) general() cblas128.General {
	return cblas128.General{Rows: m.rows, Cols: m.cols, Stride: m.cols, Data: m.data}
}

// Mul returns the matrix product a*b.
func Mul(a, b *Dense) *Dense {
	if a.cols != b.rows {
		panic(fmt.Sprintf("%dx%d %dx%d", a.rows, a.cols, b.rows, b.cols))
	}
	c := NewDense(a.rows, b.cols)
	cblas128.Gemm(blas.NoTrans, blas.NoTrans, 1, a.general(), b.general(), 0, c.general())
	return c
}

// Mul3 returns the matrix product a*b*c.
func Mul3(a, b, c *Dense) *Dense {
	return Mul(Mul(a, b), c)
}

// IsHermitian reports whether m equals its conjugate transpose within eps.
func (m *Dense) IsHermitian(eps float64) bool {
	if m.rows != m.cols {
		return false
	}
	for i := 0; i < m.rows; i++ {
		for j := i; j < m.cols; j++ {
			d := m.data[i*m.cols+j] - cmplx.Conj(m.data[j*m.cols+i])
			if math.Abs(real(d)) > eps || math.Abs(imag(d)) > eps {
				return false
			}
		}
	}
	return true
}

func (m *Dense) String() string {
	lines := make([]string, 0, m.rows)
	for i := 0; i < m.rows; i++ {
		cs := make([]string, 0, m.cols)
		for j := 0; j < m.cols; j++ {
			cs = append(cs, fmt.Sprintf("%v", m.data[i*m.cols+j]))
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}
	return strings.Join(lines, "\n")
}
