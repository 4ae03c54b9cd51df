package cmat

import (
	"math"
	"math/cmplx"
)

// Vec3 is a real three-component vector.
type Vec3 [3]float64

// CVec3 is a complex three-component vector.
type CVec3 [3]complex128

// Mat3 is a real 3x3 matrix.
type Mat3 [3][3]float64

// CMat3 is a complex 3x3 matrix.
type CMat3 [3][3]complex128

func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]} }
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func (v Vec3) Dot(w Vec3) float64 { return v[0]*w[0] + v[1]*w[1] + v[2]*w[2] }

func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Normalized returns v scaled to unit length, or v itself if it is zero.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Complex promotes v to a complex vector.
func (v Vec3) Complex() CVec3 {
	return CVec3{complex(v[0], 0), complex(v[1], 0), complex(v[2], 0)}
}

func (v CVec3) Conj() CVec3 {
	return CVec3{cmplx.Conj(v[0]), cmplx.Conj(v[1]), cmplx.Conj(v[2])}
}

func (v CVec3) Scale(s complex128) CVec3 { return CVec3{v[0] * s, v[1] * s, v[2] * s} }

// DotU is the unconjugated inner product v^T w.
func (v CVec3) DotU(w CVec3) complex128 { return v[0]*w[0] + v[1]*w[1] + v[2]*w[2] }

// Dot is the sesquilinear inner product <v|w>.
func (v CVec3) Dot(w CVec3) complex128 {
	return cmplx.Conj(v[0])*w[0] + cmplx.Conj(v[1])*w[1] + cmplx.Conj(v[2])*w[2]
}

func (m Mat3) MulVec(v Vec3) Vec3 {
	var r Vec3
	for i := 0; i < 3; i++ {
		r[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return r
}

func (m Mat3) Mul(n Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

func (m Mat3) Transpose() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

func (m Mat3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Inverse returns the inverse via the adjugate. It panics on a singular
// matrix, which for lattice matrices means invalid cell parameters.
func (m Mat3) Inverse() Mat3 {
	det := m.Det()
	if det == 0 {
		panic("singular 3x3 matrix")
	}
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			i1, i2 := (i+1)%3, (i+2)%3
			j1, j2 := (j+1)%3, (j+2)%3
			r[j][i] = (m[i1][j1]*m[i2][j2] - m[i1][j2]*m[i2][j1]) / det
		}
	}
	return r
}

// Complex promotes m to a complex matrix.
func (m Mat3) Complex() CMat3 {
	var r CMat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = complex(m[i][j], 0)
		}
	}
	return r
}

// Identity3 is the real 3x3 unit matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// CIdentity3 is the complex 3x3 unit matrix.
func CIdentity3() CMat3 {
	return Identity3().Complex()
}

func (m CMat3) Add(n CMat3) CMat3 {
	var r CMat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] + n[i][j]
		}
	}
	return r
}

func (m CMat3) Scale(s complex128) CMat3 {
	var r CMat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] * s
		}
	}
	return r
}

func (m CMat3) Mul(n CMat3) CMat3 {
	var r CMat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

func (m CMat3) MulVec(v CVec3) CVec3 {
	var r CVec3
	for i := 0; i < 3; i++ {
		r[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return r
}

func (m CMat3) Transpose() CMat3 {
	var r CMat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Skew returns the matrix S with S*w = v x w for all w.
func Skew(v Vec3) Mat3 {
	return Mat3{
		{0, -v[2], v[1]},
		{v[2], 0, -v[0]},
		{-v[1], v[0], 0},
	}
}

// Projector returns the projector n n^T onto the direction of v.
func Projector(v Vec3) Mat3 {
	n := v.Normalized()
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = n[i] * n[j]
		}
	}
	return r
}

// OrthoProjector returns the projector onto the plane perpendicular to v.
func OrthoProjector(v Vec3) Mat3 {
	p := Projector(v)
	r := Identity3()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] -= p[i][j]
		}
	}
	return r
}

// RotationAxisAngle returns the rotation by angle about the given axis,
// following the Rodrigues formula.
func RotationAxisAngle(axis Vec3, angle float64) Mat3 {
	n := axis.Normalized()
	s, c := math.Sin(angle), math.Cos(angle)
	sk := Skew(n)
	p := Projector(n)
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			id := 0.0
			if i == j {
				id = 1
			}
			r[i][j] = c*id + s*sk[i][j] + (1-c)*p[i][j]
		}
	}
	return r
}

// RotationTo returns a rotation taking the direction of from to the
// direction of to. fallback serves as rotation axis in the antiparallel
// case where the cross product vanishes.
func RotationTo(from, to, fallback Vec3) Mat3 {
	f := from.Normalized()
	t := to.Normalized()
	axis := f.Cross(t)
	s := axis.Norm()
	c := f.Dot(t)
	if s < 1e-12 {
		if c > 0 {
			return Identity3()
		}
		// Antiparallel vectors, rotate half a turn about the fallback
		// axis, orthogonalised against the source direction.
		ax := fallback.Sub(f.Scale(fallback.Dot(f)))
		if ax.Norm() < 1e-12 {
			ax = f.Cross(Vec3{1, 0, 0})
			if ax.Norm() < 1e-12 {
				ax = f.Cross(Vec3{0, 1, 0})
			}
		}
		return RotationAxisAngle(ax, math.Pi)
	}
	return RotationAxisAngle(axis, math.Atan2(s, c))
}
