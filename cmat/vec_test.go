package cmat

import (
	"math"
	"testing"
)

func vecApprox(t *testing.T, got, want Vec3, eps float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		if math.Abs(got[i]-want[i]) > eps {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCross(t *testing.T) {
	t.Parallel()
	vecApprox(t, Vec3{1, 0, 0}.Cross(Vec3{0, 1, 0}), Vec3{0, 0, 1}, 0)
	vecApprox(t, Vec3{0, 1, 0}.Cross(Vec3{1, 0, 0}), Vec3{0, 0, -1}, 0)
}

func TestSkew(t *testing.T) {
	t.Parallel()
	v := Vec3{1, 2, 3}
	w := Vec3{-2, 0.5, 4}
	vecApprox(t, Skew(v).MulVec(w), v.Cross(w), 1e-14)
}

func TestRotationAxisAngle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		axis  Vec3
		angle float64
		in    Vec3
		want  Vec3
	}{
		{"quarter turn about z", Vec3{0, 0, 1}, math.Pi / 2, Vec3{1, 0, 0}, Vec3{0, 1, 0}},
		{"half turn about x", Vec3{1, 0, 0}, math.Pi, Vec3{0, 1, 0}, Vec3{0, -1, 0}},
		{"full turn", Vec3{1, 1, 1}, 2 * math.Pi, Vec3{3, -2, 1}, Vec3{3, -2, 1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			vecApprox(t, RotationAxisAngle(tt.axis, tt.angle).MulVec(tt.in), tt.want, 1e-12)
		})
	}
}

func TestRotationTo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		from, to Vec3
	}{
		{"generic", Vec3{1, 2, 3}, Vec3{0, 0, 1}},
		{"parallel", Vec3{0, 0, 2}, Vec3{0, 0, 1}},
		{"antiparallel", Vec3{0, 0, -1}, Vec3{0, 0, 1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := RotationTo(tt.from, tt.to, Vec3{1, 0, 0})
			vecApprox(t, r.MulVec(tt.from.Normalized()), tt.to.Normalized(), 1e-12)
			// A rotation preserves lengths.
			got := r.MulVec(Vec3{1, 2, 3})
			if math.Abs(got.Norm()-Vec3{1, 2, 3}.Norm()) > 1e-12 {
				t.Fatalf("length not preserved: %v", got)
			}
		})
	}
}

func TestProjectors(t *testing.T) {
	t.Parallel()
	v := Vec3{1, -2, 2}
	p := Projector(v)
	o := OrthoProjector(v)
	vecApprox(t, p.MulVec(v), v, 1e-12)
	vecApprox(t, o.MulVec(v), Vec3{}, 1e-12)
	// P + O is the identity.
	sum := p
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum[i][j] += o[i][j]
		}
	}
	w := Vec3{0.3, 4, -1}
	vecApprox(t, sum.MulVec(w), w, 1e-12)
}

func TestMat3Inverse(t *testing.T) {
	t.Parallel()
	m := Mat3{{2, 1, 0}, {0, 3, 1}, {1, 0, 4}}
	id := m.Mul(m.Inverse())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(id[i][j]-want) > 1e-12 {
				t.Fatalf("got %v", id)
			}
		}
	}
}

func TestBMatrix(t *testing.T) {
	t.Parallel()
	deg := math.Pi / 180
	a := AMatrix(5, 6, 7, 80*deg, 95*deg, 110*deg)
	b := BMatrix(5, 6, 7, 80*deg, 95*deg, 110*deg)
	// B^T A = 2 pi I.
	prod := b.Transpose().Mul(a)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 2 * math.Pi
			}
			if math.Abs(prod[i][j]-want) > 1e-10 {
				t.Fatalf("B^T A = %v", prod)
			}
		}
	}
}
