package cmat

import (
	"math"
	"math/cmplx"
	"testing"
)

func approx(t *testing.T, got, want complex128, eps float64) {
	t.Helper()
	if cmplx.Abs(got-want) > eps {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMul(t *testing.T) {
	t.Parallel()
	a := FromRows([][]complex128{
		{1, 2i},
		{3, 4},
	})
	b := FromRows([][]complex128{
		{5, 6},
		{7i, 8},
	})
	c := Mul(a, b)
	want := FromRows([][]complex128{
		{5 - 14, 6 + 16i},
		{15 + 28i, 50},
	})
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			approx(t, c.At(i, j), want.At(i, j), 1e-12)
		}
	}
}

func TestH(t *testing.T) {
	t.Parallel()
	a := FromRows([][]complex128{
		{1 + 1i, 2},
		{3i, 4 - 2i},
	})
	h := a.H()
	approx(t, h.At(0, 0), 1-1i, 0)
	approx(t, h.At(0, 1), -3i, 0)
	approx(t, h.At(1, 0), 2, 0)
	approx(t, h.At(1, 1), 4+2i, 0)
}

func TestChol(t *testing.T) {
	t.Parallel()
	h := FromRows([][]complex128{
		{4, 2 + 2i, 0},
		{2 - 2i, 10, 1i},
		{0, -1i, 6},
	})
	c, err := Chol(h)
	if err != nil {
		t.Fatal(err)
	}
	r := Mul(c.H(), c)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			approx(t, r.At(i, j), h.At(i, j), 1e-12)
		}
		for j := 0; j < i; j++ {
			approx(t, c.At(i, j), 0, 0)
		}
	}
}

func TestCholNotPositiveDefinite(t *testing.T) {
	t.Parallel()
	h := FromRows([][]complex128{
		{1, 2},
		{2, 1},
	})
	c, err := Chol(h)
	if err == nil {
		t.Fatal("expected an error for an indefinite matrix")
	}
	// The factor built up to the failing pivot comes back with the error.
	if c == nil {
		t.Fatal("no partial factor returned")
	}
	approx(t, c.At(0, 0), 1, 0)
	approx(t, c.At(0, 1), 2, 0)
	approx(t, c.At(1, 1), 0, 0)
}

func TestEigHerm(t *testing.T) {
	t.Parallel()
	m := FromRows([][]complex128{
		{2, 1i},
		{-1i, 2},
	})
	vals, vecs, err := EigHerm(m)
	if err != nil {
		t.Fatal(err)
	}
	wantVals := []float64{1, 3}
	for i, w := range wantVals {
		if math.Abs(vals[i]-w) > 1e-10 {
			t.Fatalf("eigenvalue %d: got %g, want %g", i, vals[i], w)
		}
	}
	// Each column must satisfy M v = lambda v and be normalised.
	mv := Mul(m, vecs)
	for k := 0; k < 2; k++ {
		var norm float64
		for i := 0; i < 2; i++ {
			approx(t, mv.At(i, k), complex(vals[k], 0)*vecs.At(i, k), 1e-10)
			norm += real(vecs.At(i, k))*real(vecs.At(i, k)) + imag(vecs.At(i, k))*imag(vecs.At(i, k))
		}
		if math.Abs(norm-1) > 1e-10 {
			t.Fatalf("column %d has norm^2 %g", k, norm)
		}
	}
}

func TestEigHermDegenerate(t *testing.T) {
	t.Parallel()
	// Twofold degenerate eigenvalue 1, plus eigenvalue 4.
	m := FromRows([][]complex128{
		{1, 0, 0},
		{0, 2, 1 + 1i},
		{0, 1 - 1i, 3},
	})
	vals, vecs, err := EigHerm(m)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 4}
	for i, w := range want {
		if math.Abs(vals[i]-w) > 1e-10 {
			t.Fatalf("eigenvalue %d: got %g, want %g", i, vals[i], w)
		}
	}
	// Orthonormal columns.
	g := Mul(vecs.H(), vecs)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := complex128(0)
			if i == j {
				want = 1
			}
			approx(t, g.At(i, j), want, 1e-10)
		}
	}
}

func TestInv(t *testing.T) {
	t.Parallel()
	m := FromRows([][]complex128{
		{1 + 1i, 2, 0},
		{0, 3i, 1},
		{5, 0, 1 - 2i},
	})
	inv, err := Inv(m)
	if err != nil {
		t.Fatal(err)
	}
	id := Mul(m, inv)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := complex128(0)
			if i == j {
				want = 1
			}
			approx(t, id.At(i, j), want, 1e-10)
		}
	}
}

func TestIsHermitian(t *testing.T) {
	t.Parallel()
	h := FromRows([][]complex128{
		{1, 2 + 1i},
		{2 - 1i, 3},
	})
	if !h.IsHermitian(1e-12) {
		t.Fatal("hermitian matrix not recognised")
	}
	h.Set(0, 1, 2+2i)
	if h.IsHermitian(1e-12) {
		t.Fatal("non-hermitian matrix accepted")
	}
}
