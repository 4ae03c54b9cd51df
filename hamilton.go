package magnon

import (
	"math"
	"math/cmplx"

	"github.com/jkrueger1/magnon/cmat"
)

const twoPi = 2 * math.Pi

// siteIndices addresses the exchange matrix of one (site1, site2) pair.
type siteIndices [2]int

type jMap map[siteIndices]cmat.CMat3

// CalcRealJ builds the real-space interaction matrix of a coupling,
// equations (10) to (13) of Toth 2015: the Heisenberg constant on the
// diagonal, the DMI vector as antisymmetric part and the general matrix
// added on top. For incommensurate structures the matrix is rotated with
// respect to the magnetic unit cell.
func (m *Model) CalcRealJ(term *ExchangeTerm) cmat.CMat3 {
	var j cmat.CMat3
	for i := 0; i < 3; i++ {
		j[i][i] = term.JCalc
	}

	// DMI as cross product matrix.
	var dmiRe, dmiIm cmat.Vec3
	for i := 0; i < 3; i++ {
		dmiRe[i] = -real(term.DMICalc[i])
		dmiIm[i] = -imag(term.DMICalc[i])
	}
	skRe := cmat.Skew(dmiRe)
	skIm := cmat.Skew(dmiIm)
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			j[i][k] += complex(skRe[i][k], skIm[i][k])
		}
	}

	j = j.Add(term.JGenCalc)

	// Rotation with respect to the magnetic unit cell, equations (21),
	// (6) and (2) as well as section 10 of Toth 2015.
	if m.IsIncommensurate() {
		angle := twoPi * m.ordering.Dot(term.DistCalc)
		if math.Abs(angle) > m.eps {
			rot := cmat.RotationAxisAngle(m.rotAxis, angle)
			j = j.Mul(rot.Complex())
		}
	}

	return j
}

// CalcReciprocalJs Fourier transforms the couplings into the reciprocal
// interaction matrices J(Q) and J(Q=0), equations (12) and (14) of
// Toth 2015.
func (m *Model) CalcReciprocalJs(q cmat.Vec3) (jQ, jQ0 jMap) {
	jQ = make(jMap)
	jQ0 = make(jMap)

	add := func(j jMap, idx siteIndices, j33 cmat.CMat3) {
		if old, ok := j[idx]; ok {
			j[idx] = old.Add(j33)
		} else {
			j[idx] = j33
		}
	}

	for i := range m.terms {
		term := &m.terms[i]
		if term.Site1Calc >= len(m.sites) || term.Site2Calc >= len(m.sites) {
			continue
		}

		idx := siteIndices{term.Site1Calc, term.Site2Calc}
		idxT := siteIndices{term.Site2Calc, term.Site1Calc}

		j := m.CalcRealJ(term)
		jT := j.Transpose()

		phase := complex(0, m.phaseSign*twoPi*term.DistCalc.Dot(q))
		add(jQ, idx, j.Scale(cmplx.Exp(phase)))
		add(jQ, idxT, jT.Scale(cmplx.Exp(-phase)))

		add(jQ0, idx, j)
		add(jQ0, idxT, jT)
	}

	return jQ, jQ0
}

// CalcHamiltonian builds the spin-wave Hamiltonian at the given momentum,
// equations (25) and (26) of Toth 2015. The returned matrix has dimension
// 2N x 2N for N magnetic sites.
func (m *Model) CalcHamiltonian(q cmat.Vec3) *cmat.Dense {
	n := len(m.sites)
	if n == 0 {
		return cmat.NewDense(0, 0)
	}

	jQ, jQ0 := m.CalcReciprocalJs(q)

	h00 := cmat.NewDense(n, n)
	h00cmQ := cmat.NewDense(n, n) // H00*(-Q)
	h0N := cmat.NewDense(n, n)

	useField := math.Abs(m.field.Mag) > m.eps

	for i := 0; i < n; i++ {
		si := &m.sites[i]

		for j := 0; j < n; j++ {
			sj := &m.sites[j]
			idx := siteIndices{i, j}

			// Equation (26) from Toth 2015.
			if j33, ok := jQ[idx]; ok {
				sMag := complex(0.5*math.Sqrt(si.SpinMagCalc*sj.SpinMagCalc), 0)
				h00.Set(i, j, h00.At(i, j)+sMag*si.UCalc.DotU(j33.MulVec(sj.UConjCalc)))
				h00cmQ.Set(i, j, h00cmQ.At(i, j)+sMag*si.UConjCalc.DotU(j33.MulVec(sj.UCalc)))
				h0N.Set(i, j, h0N.At(i, j)+sMag*si.UCalc.DotU(j33.MulVec(sj.UCalc)))
			}

			if j033, ok := jQ0[idx]; ok {
				c := complex(sj.SpinMagCalc, 0) * si.VCalc.DotU(j033.MulVec(sj.VCalc))
				h00.Set(i, i, h00.At(i, i)-c)
				h00cmQ.Set(i, i, h00cmQ.At(i, i)-c)
			}
		}

		// External field, equation (28) from Toth 2015.
		if useField {
			field := m.field.Dir.Scale(-m.field.Mag).Complex()
			gv := si.G.MulVec(si.VCalc)
			bgv := complex(muB, 0) * field.DotU(gv)
			h00.Set(i, i, h00.At(i, i)-bgv)
			h00cmQ.Set(i, i, h00cmQ.At(i, i)-cmplx.Conj(bgv))
		}
	}

	// Equation (25) from Toth 2015.
	h := cmat.NewDense(2*n, 2*n)
	h.SetSub(0, 0, h00)
	h.SetSub(0, n, h0N)
	h.SetSub(n, 0, h0N.H())
	h.SetSub(n, n, h00cmQ)
	return h
}

// CalcEnergiesFromHamiltonian diagonalises a spin-wave Hamiltonian with the
// paraunitary scheme of Toth 2015: a Cholesky factorisation, retried with a
// small diagonal shift when the matrix is not positive definite, followed
// by a Hermitian eigenproblem. With onlyEnergies the correlation matrices
// are skipped.
func (m *Model) CalcEnergiesFromHamiltonian(h *cmat.Dense, q cmat.Vec3, onlyEnergies bool) ([]EnergyAndWeight, error) {
	n := len(m.sites)
	if n == 0 || h.IsEmpty() {
		return nil, nil
	}

	// Equation (30) from Toth 2015.
	g := cmat.Identity(2 * n)
	for i := n; i < 2*n; i++ {
		g.Set(i, i, -1)
	}

	// Equation (31) from Toth 2015. When the retries run out the last,
	// possibly invalid, factor is used so that a scan over many Q points
	// is not aborted by a single unstable one.
	work := h.Clone()
	var chol *cmat.Dense
	tries := 0
	for ; tries < m.cholTries; tries++ {
		c, err := cmat.Chol(work)
		if err == nil {
			chol = c
			break
		}
		if tries >= m.cholTries-1 {
			m.log.Warn("cholesky decomposition failed",
				"Q", q, "err", err.Error())
			chol = c
			break
		}
		work.AddDiag(complex(m.cholDelta, 0))
	}
	if m.performChecks && tries > 0 {
		m.log.Warn("needed corrections for cholesky decomposition",
			"tries", tries, "Q", q)
	}

	// See p. 5 in Toth 2015.
	hMat := cmat.Mul3(chol, g, chol.H())
	if m.performChecks && !hMat.IsHermitian(m.eps) {
		m.log.Warn("hamiltonian is not hermitian", "Q", q)
	}

	evals, evecs, err := cmat.EigHerm(hMat)
	if err != nil {
		m.log.Error("eigensystem calculation failed",
			"Q", q, "err", err.Error())
		return nil, nil
	}

	if onlyEnergies {
		out := make([]EnergyAndWeight, len(evals))
		for i, e := range evals {
			out[i].E = e
		}
		return out, nil
	}

	return m.calcCorrelationsFromHamiltonian(hMat, chol, g, q, evals, evecs)
}

// CalcMinimumEnergy returns the energy closest to zero at the Gamma point.
func (m *Model) CalcMinimumEnergy() (float64, error) {
	eAndWs, err := m.CalcEnergies(cmat.Vec3{}, true)
	if err != nil {
		return 0, err
	}
	if len(eAndWs) == 0 {
		return 0, nil
	}
	min := eAndWs[0].E
	for _, ew := range eAndWs[1:] {
		if math.Abs(ew.E) < math.Abs(min) {
			min = ew.E
		}
	}
	return min, nil
}

// CalcGroundStateEnergy returns the classical ground-state energy, the
// zero-operator term in the expansion of equation (20) in Toth 2015.
func (m *Model) CalcGroundStateEnergy() float64 {
	e := 0.0
	for i := range m.terms {
		term := &m.terms[i]
		if term.Site1Calc >= len(m.sites) || term.Site2Calc >= len(m.sites) {
			continue
		}
		si := &m.sites[term.Site1Calc]
		sj := &m.sites[term.Site2Calc]

		j := m.CalcRealJ(term)
		spinI := si.VCalc.Scale(complex(si.SpinMagCalc, 0))
		spinJ := sj.VCalc.Scale(complex(sj.SpinMagCalc, 0))
		e += real(spinI.DotU(j.MulVec(spinJ)))
	}
	return e
}
