package magnon

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/cmplx"

	"github.com/jkrueger1/magnon/cmat"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// UniteEnergies merges branches whose energies agree within eps, summing
// their correlation matrices and weights.
func (m *Model) UniteEnergies(eAndWs []EnergyAndWeight) []EnergyAndWeight {
	united := make([]EnergyAndWeight, 0, len(eAndWs))

	for _, cur := range eAndWs {
		merged := false
		for i := range united {
			if math.Abs(united[i].E-cur.E) <= m.eps {
				united[i].S = united[i].S.Add(cur.S)
				united[i].SPerp = united[i].SPerp.Add(cur.SPerp)
				united[i].SSum += cur.SSum
				united[i].SPerpSum += cur.SPerpSum
				united[i].Weight += cur.Weight
				united[i].WeightFull += cur.WeightFull
				merged = true
				break
			}
		}
		if !merged {
			united = append(united, cur)
		}
	}

	return united
}

// CheckImagWeights reports whether any imaginary weight components remain.
// They should cancel once degenerate energies are united.
func (m *Model) CheckImagWeights(q cmat.Vec3, eAndWs []EnergyAndWeight) bool {
	if !m.performChecks {
		return true
	}
	ok := true
	for i := range eAndWs {
		ew := &eAndWs[i]
		if math.Abs(imag(ew.SPerpSum)) > m.eps || math.Abs(imag(ew.SSum)) > m.eps {
			ok = false
			m.log.Warn("remaining imaginary S(Q, E) component",
				"Q", q, "E", ew.E,
				"imag_S", imag(ew.SSum),
				"imag_S_perp", imag(ew.SPerpSum))
		}
	}
	return ok
}

// CalcEnergies returns the magnon energies and weights at the given
// momentum transfer in rlu. For incommensurate structures the three
// branches at Q, Q+O and Q-O are combined following equations (39) and
// (40) of Toth 2015. With onlyEnergies the weights are skipped.
func (m *Model) CalcEnergies(q cmat.Vec3, onlyEnergies bool) ([]EnergyAndWeight, error) {
	var eAndWs []EnergyAndWeight

	if m.calcH {
		var err error
		eAndWs, err = m.CalcEnergiesFromHamiltonian(m.CalcHamiltonian(q), q, onlyEnergies)
		if err != nil {
			return nil, err
		}
	}

	if m.IsIncommensurate() {
		// Equations (39) and (40) from Toth 2015.
		projNorm := cmat.Projector(m.rotAxis).Complex()

		rotIncomm := cmat.CIdentity3()
		sk := cmat.Skew(m.rotAxis)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				rotIncomm[i][j] -= complex(0, m.phaseSign*sk[i][j])
				rotIncomm[i][j] -= projNorm[i][j]
				rotIncomm[i][j] *= 0.5
			}
		}
		var rotIncommConj cmat.CMat3
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				rotIncommConj[i][j] = cmplx.Conj(rotIncomm[i][j])
			}
		}

		var eAndWsP, eAndWsM []EnergyAndWeight
		var err error
		if m.calcHp {
			qp := q.Add(m.ordering)
			eAndWsP, err = m.CalcEnergiesFromHamiltonian(m.CalcHamiltonian(qp), qp, onlyEnergies)
			if err != nil {
				return nil, err
			}
		}
		if m.calcHm {
			qm := q.Sub(m.ordering)
			eAndWsM, err = m.CalcEnergiesFromHamiltonian(m.CalcHamiltonian(qm), qm, onlyEnergies)
			if err != nil {
				return nil, err
			}
		}

		if !onlyEnergies {
			for i := range eAndWs {
				eAndWs[i].S = eAndWs[i].S.Mul(projNorm)
			}
			for i := range eAndWsP {
				eAndWsP[i].S = eAndWsP[i].S.Mul(rotIncomm)
			}
			for i := range eAndWsM {
				eAndWsM[i].S = eAndWsM[i].S.Mul(rotIncommConj)
			}
		}

		eAndWs = append(eAndWs, eAndWsP...)
		eAndWs = append(eAndWs, eAndWsM...)
	}

	if !onlyEnergies {
		m.CalcIntensities(q, eAndWs)
	}
	if m.uniteDegenerate {
		eAndWs = m.UniteEnergies(eAndWs)
	}
	if !onlyEnergies {
		m.CheckImagWeights(q, eAndWs)
	}

	return eAndWs, nil
}

// CalcEnergiesHKL is CalcEnergies with the momentum given as separate
// h, k, l components.
func (m *Model) CalcEnergiesHKL(h, k, l float64, onlyEnergies bool) ([]EnergyAndWeight, error) {
	return m.CalcEnergies(cmat.Vec3{h, k, l}, onlyEnergies)
}

// CalcDispersion samples numQs points on the straight path from the start
// to the end momentum and calculates S(Q, E) at each of them in parallel.
// The result is ordered along the path.
func (m *Model) CalcDispersion(ctx context.Context,
	hStart, kStart, lStart, hEnd, kEnd, lEnd float64, numQs int) ([]SofQE, error) {

	if numQs < 1 {
		return nil, errors.Errorf("invalid number of Q points %d", numQs)
	}

	hs := make([]float64, numQs)
	ks := make([]float64, numQs)
	ls := make([]float64, numQs)
	if numQs == 1 {
		hs[0], ks[0], ls[0] = hStart, kStart, lStart
	} else {
		floats.Span(hs, hStart, hEnd)
		floats.Span(ks, kStart, kEnd)
		floats.Span(ls, lStart, lEnd)
	}

	results := make([]SofQE, numQs)

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(m.numThreads)

	for i := 0; i < numQs; i++ {
		i := i
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			eAndS, err := m.CalcEnergiesHKL(hs[i], ks[i], ls[i], false)
			if err != nil {
				return err
			}
			results[i] = SofQE{H: hs[i], K: ks[i], L: ls[i], EAndS: eAndS}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SaveDispersion writes the dispersion along the given path as a text
// table with one row per Q point and magnon branch.
func (m *Model) SaveDispersion(w io.Writer,
	hStart, kStart, lStart, hEnd, kEnd, lEnd float64, numQs int) error {

	results, err := m.CalcDispersion(context.Background(),
		hStart, kStart, lStart, hEnd, kEnd, lEnd, numQs)
	if err != nil {
		return err
	}

	width := m.prec * 2
	_, err = fmt.Fprintf(w, "%-*s%-*s%-*s%-*s%-*s%-*s%-*s%-*s\n",
		width, "# h", width, "k", width, "l", width, "E",
		width, "w", width, "S_xx", width, "S_yy", width, "S_zz")
	if err != nil {
		return errors.Wrap(err, "write dispersion header")
	}

	for _, res := range results {
		for _, ew := range res.EAndS {
			_, err = fmt.Fprintf(w, "%-*.*g%-*.*g%-*.*g%-*.*g%-*.*g%-*.*g%-*.*g%-*.*g\n",
				width, m.prec, res.H,
				width, m.prec, res.K,
				width, m.prec, res.L,
				width, m.prec, ew.E,
				width, m.prec, ew.Weight,
				width, m.prec, real(ew.SPerp[0][0]),
				width, m.prec, real(ew.SPerp[1][1]),
				width, m.prec, real(ew.SPerp[2][2]))
			if err != nil {
				return errors.Wrap(err, "write dispersion row")
			}
		}
	}
	return nil
}
