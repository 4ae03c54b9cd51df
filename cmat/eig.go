package cmat

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Chol computes the Cholesky factorisation H = C^H * C of a Hermitian
// positive-definite matrix and returns the upper-triangular factor C.
// On a non-positive pivot it returns an error together with the factor
// built so far, with the remaining columns zero.
func Chol(h *Dense) (*Dense, error) {
	if h.rows != h.cols {
		return nil, errors.Errorf("cholesky of non-square %dx%d matrix", h.rows, h.cols)
	}
	n := h.rows
	c := NewDense(n, n)
	for j := 0; j < n; j++ {
		d := h.At(j, j)
		for k := 0; k < j; k++ {
			ckj := c.At(k, j)
			d -= cmplx.Conj(ckj) * ckj
		}
		if real(d) <= 0 {
			return c, errors.Errorf("matrix not positive definite, pivot %d is %v", j, d)
		}
		diag := math.Sqrt(real(d))
		c.Set(j, j, complex(diag, 0))
		for i := j + 1; i < n; i++ {
			s := h.At(j, i)
			for k := 0; k < j; k++ {
				s -= cmplx.Conj(c.At(k, j)) * c.At(k, i)
			}
			c.Set(j, i, s/complex(diag, 0))
		}
	}
	return c, nil
}

// embed returns the real symmetric 2n x 2n matrix [[A, -B], [B, A]]
// for the complex matrix M = A + iB.
func embed(m *Dense) *mat.Dense {
	n := m.rows
	s := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a := real(m.At(i, j))
			b := imag(m.At(i, j))
			s.Set(i, j, a)
			s.Set(i, n+j, -b)
			s.Set(n+i, j, b)
			s.Set(n+i, n+j, a)
		}
	}
	return s
}

// EigHerm computes the eigendecomposition of a Hermitian matrix. It returns
// the eigenvalues in ascending order and a matrix whose columns are the
// corresponding orthonormal eigenvectors.
//
// The complex problem is solved through its real symmetric embedding, whose
// spectrum repeats each eigenvalue twice. The complex eigenvectors are
// recovered per near-degenerate group by orthonormalising the candidates
// u + iv built from the real eigenvectors (u; v).
func EigHerm(m *Dense) ([]float64, *Dense, error) {
	if m.rows != m.cols {
		return nil, nil, errors.Errorf("eigendecomposition of non-square %dx%d matrix", m.rows, m.cols)
	}
	n := m.rows
	if n == 0 {
		return nil, NewDense(0, 0), nil
	}

	s := embed(m)
	sym := mat.NewSymDense(2*n, nil)
	for i := 0; i < 2*n; i++ {
		for j := i; j < 2*n; j++ {
			sym.SetSym(i, j, 0.5*(s.At(i, j)+s.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, nil, errors.New("eigendecomposition failed to converge")
	}
	vals2 := eig.Values(nil)
	var vecs2 mat.Dense
	eig.VectorsTo(&vecs2)

	// Scale of the spectrum, used to decide which embedded eigenvalues
	// belong to the same group.
	scale := 0.0
	for _, v := range vals2 {
		scale = math.Max(scale, math.Abs(v))
	}
	tol := 1e-10 * math.Max(scale, 1)

	evals := make([]float64, 0, n)
	evecs := NewDense(n, n)
	col := 0

	for lo := 0; lo < 2*n; {
		hi := lo + 1
		for hi < 2*n && math.Abs(vals2[hi]-vals2[lo]) <= tol {
			hi++
		}
		// 2m embedded vectors yield m complex eigenvectors.
		want := (hi - lo) / 2
		kept := make([][]complex128, 0, want)
		for k := lo; k < hi && len(kept) < want; k++ {
			z := make([]complex128, n)
			for i := 0; i < n; i++ {
				z[i] = complex(vecs2.At(i, k), vecs2.At(n+i, k))
			}
			// Project out the already accepted vectors of this group.
			for _, q := range kept {
				var dot complex128
				for i := 0; i < n; i++ {
					dot += cmplx.Conj(q[i]) * z[i]
				}
				for i := 0; i < n; i++ {
					z[i] -= dot * q[i]
				}
			}
			norm := 0.0
			for i := 0; i < n; i++ {
				norm += real(z[i])*real(z[i]) + imag(z[i])*imag(z[i])
			}
			norm = math.Sqrt(norm)
			if norm < 1e-8 {
				continue
			}
			for i := 0; i < n; i++ {
				z[i] /= complex(norm, 0)
			}
			kept = append(kept, z)
		}
		if len(kept) != want {
			return nil, nil, errors.Errorf("could not recover %d eigenvectors for eigenvalue %g", want, vals2[lo])
		}
		for _, z := range kept {
			evals = append(evals, vals2[lo])
			for i := 0; i < n; i++ {
				evecs.Set(i, col, z[i])
			}
			col++
		}
		lo = hi
	}
	if col != n {
		return nil, nil, errors.Errorf("recovered %d of %d eigenvectors", col, n)
	}
	return evals, evecs, nil
}

// Inv returns the inverse of a general complex matrix, computed through the
// real embedding [[A, -B], [B, A]].
func Inv(m *Dense) (*Dense, error) {
	if m.rows != m.cols {
		return nil, errors.Errorf("inverse of non-square %dx%d matrix", m.rows, m.cols)
	}
	n := m.rows
	var sinv mat.Dense
	if err := sinv.Inverse(embed(m)); err != nil {
		return nil, errors.Wrap(err, "matrix is singular")
	}
	inv := NewDense(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			inv.Set(i, j, complex(sinv.At(i, j), sinv.At(n+i, j)))
		}
	}
	return inv, nil
}
