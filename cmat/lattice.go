package cmat

import "math"

// AMatrix returns the crystallographic basis matrix whose columns are the
// lattice vectors in a Cartesian frame, with a along x and b in the xy
// plane. Angles are in radians.
func AMatrix(a, b, c, alpha, beta, gamma float64) Mat3 {
	ca, cb, cg := math.Cos(alpha), math.Cos(beta), math.Cos(gamma)
	sg := math.Sin(gamma)
	v := math.Sqrt(1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg)
	return Mat3{
		{a, b * cg, c * cb},
		{0, b * sg, c * (ca - cb*cg) / sg},
		{0, 0, c * v / sg},
	}
}

// BMatrix returns the reciprocal basis matrix 2 pi (A^-1)^T for the given
// cell parameters, angles in radians.
func BMatrix(a, b, c, alpha, beta, gamma float64) Mat3 {
	inv := AMatrix(a, b, c, alpha, beta, gamma).Inverse().Transpose()
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = 2 * math.Pi * inv[i][j]
		}
	}
	return r
}
