package magnon

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/jkrueger1/magnon/cmat"
)

// calcCorrelationsFromHamiltonian builds the spin-spin correlation matrices
// of equations (44) and (47) of Toth 2015 from the diagonalised
// Hamiltonian.
func (m *Model) calcCorrelationsFromHamiltonian(hMat, chol, g *cmat.Dense,
	q cmat.Vec3, evals []float64, evecs *cmat.Dense) ([]EnergyAndWeight, error) {

	n := len(m.sites)
	if n == 0 {
		return nil, nil
	}

	// Eigenvectors sorted by descending energy.
	order := make([]int, len(evals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return evals[order[a]] >= evals[order[b]]
	})
	evecMat := cmat.NewDense(2*n, 2*n)
	for col, src := range order {
		for row := 0; row < 2*n; row++ {
			evecMat.Set(row, col, evecs.At(row, src))
		}
	}
	evecMatH := evecMat.H()

	// Equation (32) from Toth 2015.
	energyMat := cmat.Mul3(evecMatH, hMat, evecMat)
	eSqrt := cmat.Mul(g, energyMat)
	for i := 0; i < 2*n; i++ {
		eSqrt.Set(i, i, cmplx.Sqrt(eSqrt.At(i, i)))
	}

	// The energies are re-created from the transformed Hamiltonian so
	// they stay consistent with the weights.
	out := make([]EnergyAndWeight, 2*n)
	for i := range out {
		out[i].E = real(energyMat.At(i, i))
	}

	// A failed inversion leaves the energies without correlation weights.
	cholInv, err := cmat.Inv(chol)
	if err != nil {
		m.log.Error("cholesky inversion failed", "Q", q, "err", err.Error())
		return out, nil
	}

	// Equation (34) from Toth 2015.
	trafo := cmat.Mul3(cholInv, evecMat, eSqrt)
	trafoH := trafo.H()

	// Spin correlation functions of equation (47) from Toth 2015.
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			mm := cmat.NewDense(2*n, 2*n)
			for i := 0; i < n; i++ {
				si := &m.sites[i]
				for j := 0; j < n; j++ {
					sj := &m.sites[j]

					// Pre-factors of equation (44) from Toth 2015.
					sMag := math.Sqrt(si.SpinMagCalc * sj.SpinMagCalc)
					arg := -m.phaseSign * twoPi * sj.PosCalc.Sub(si.PosCalc).Dot(q)
					pre := cmplx.Exp(complex(0, arg)) * complex(sMag, 0)

					ui, uj := si.GeUCalc, sj.GeUCalc
					uci, ucj := si.GeUConjCalc, sj.GeUConjCalc

					mm.Set(i, j, pre*ui[x]*ucj[y])
					mm.Set(i, n+j, pre*ui[x]*uj[y])
					mm.Set(n+i, j, pre*uci[x]*ucj[y])
					mm.Set(n+i, n+j, pre*uci[x]*uj[y])
				}
			}

			mTrafo := cmat.Mul3(trafoH, mm, trafo)
			for i := range out {
				out[i].S[x][y] += mTrafo.At(i, i) / complex(float64(2*n), 0)
			}
		}
	}

	return out, nil
}

// bose is the occupation factor for magnon creation or annihilation at
// energy E and temperature T.
func bose(e, t float64) float64 {
	n := 1 / (math.Exp(math.Abs(e)/(kB*t)) - 1)
	if e >= 0 {
		n += 1
	}
	return n
}

// boseCutoff evaluates the Bose factor no closer to the divergence at
// E = 0 than the given cutoff.
func boseCutoff(e, t, cutoff float64) float64 {
	if math.Abs(e) < math.Abs(cutoff) {
		e = math.Copysign(cutoff, e)
	}
	return bose(e, t)
}

func cTrace3(m cmat.CMat3) complex128 {
	return m[0][0] + m[1][1] + m[2][2]
}

// CalcIntensities applies the Bose factor, the magnetic form factor and
// the neutron polarisation projector to the correlation matrices and fills
// in the summed weights.
func (m *Model) CalcIntensities(q cmat.Vec3, eAndWs []EnergyAndWeight) {
	// Orthogonal projector for magnetic neutron scattering, see
	// Shirane 2002, p. 37, equation (2.64).
	projNeutron := cmat.OrthoProjector(q).Complex()

	ffact := 1.0
	if m.magFFact != nil {
		// |Q| in 1/A.
		qAbs := m.xtalB.MulVec(q).Norm()
		if v, err := m.magFFact.Eval(map[string]complex128{"Q": complex(qAbs, 0)}); err == nil {
			ffact = real(v)
		} else {
			m.log.Warn("magnetic form factor evaluation failed",
				"Q", q, "err", err)
		}
	}

	for i := range eAndWs {
		ew := &eAndWs[i]

		if m.temperature >= 0 {
			ew.S = ew.S.Scale(complex(boseCutoff(ew.E, m.temperature, m.boseCutoff), 0))
		}
		if m.magFFact != nil {
			ew.S = ew.S.Scale(complex(ffact, 0))
		}

		ew.SPerp = projNeutron.Mul(ew.S).Mul(projNeutron)

		ew.SSum = cTrace3(ew.S)
		ew.SPerpSum = cTrace3(ew.SPerp)
		ew.WeightFull = math.Abs(real(ew.SSum))
		ew.Weight = math.Abs(real(ew.SPerpSum))
	}
}
