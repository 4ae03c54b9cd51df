package magnon

import (
	"github.com/jkrueger1/magnon/cmat"
)

var zdir = cmat.Vec3{0, 0, 1}

// rotToTrafo extracts the local frame vectors from a spin rotation
// matrix, equation (9) of Toth 2015: u spans the plane orthogonal to the
// rotated spin, v is the rotated spin direction.
func rotToTrafo(r cmat.Mat3) (u, v cmat.CVec3) {
	for i := 0; i < 3; i++ {
		u[i] = complex(r[i][0], r[i][1])
		v[i] = complex(r[i][2], 0)
	}
	return u, v
}

// spinToTrafo rotates a local spin to the ferromagnetic [001] direction,
// equations (7) and (9) of Toth 2015.
func (m *Model) spinToTrafo(spinDir cmat.Vec3) (u, v cmat.CVec3) {
	rot := cmat.RotationTo(spinDir, zdir, m.rotAxis)
	return rotToTrafo(rot)
}

// CalcExternalField calculates the rotation aligning the external field
// with the [001] direction.
func (m *Model) CalcExternalField() {
	useField := m.field.Mag > m.eps || m.field.Mag < -m.eps || m.field.AlignSpins
	if !useField {
		return
	}
	rot := cmat.RotationTo(m.field.Dir.Scale(-1), zdir, m.rotAxis)
	m.rotField = rot.Transpose()
}

// CalcMagneticSite parses the site expressions and calculates the local
// spin frame. Expressions that fail to evaluate are logged and leave
// their component at zero, so one bad site does not block the rest of
// the model.
func (m *Model) CalcMagneticSite(site *MagneticSite) {
	vars := m.exprVars()
	m.calcMagneticSite(site, vars)
}

func (m *Model) calcMagneticSite(site *MagneticSite, vars map[string]complex128) {
	if site.G == (cmat.CMat3{}) {
		site.G = cmat.Identity3().Complex().Scale(complex(gE, 0))
	}

	// Defaults for the degraded path.
	site.SpinMagCalc = 0
	site.PosCalc = cmat.Vec3{}
	site.SpinDirCalc = cmat.Vec3{}

	var err error
	if site.SpinMag != "" {
		site.SpinMagCalc, err = m.evalR(site.SpinMag, vars)
		if err != nil {
			m.log.Error("parsing spin magnitude",
				"site", site.Name, "err", err.Error())
		}
	}

	hasExplicitTrafo := true
	var spinOrtho cmat.CVec3
	for i := 0; i < 3; i++ {
		if site.Pos[i] != "" {
			site.PosCalc[i], err = m.evalR(site.Pos[i], vars)
			if err != nil {
				m.log.Error("parsing position",
					"site", site.Name, "component", i, "err", err.Error())
			}
		}
		if site.SpinDir[i] != "" {
			site.SpinDirCalc[i], err = m.evalR(site.SpinDir[i], vars)
			if err != nil {
				m.log.Error("parsing spin direction",
					"site", site.Name, "component", i, "err", err.Error())
			}
		}
		if site.SpinOrtho[i] != "" {
			spinOrtho[i], err = m.evalC(site.SpinOrtho[i], vars)
			if err != nil {
				hasExplicitTrafo = false
				m.log.Error("parsing spin orthogonal plane",
					"site", site.Name, "component", i, "err", err.Error())
			}
		} else {
			hasExplicitTrafo = false
		}
	}

	// Spin rotation of equation (9) from Toth 2015. An aligning field
	// overrides both the site spin direction and an explicit plane.
	switch {
	case m.field.AlignSpins:
		site.UCalc, site.VCalc = rotToTrafo(m.rotField)
	case hasExplicitTrafo:
		site.UCalc = spinOrtho
		_, site.VCalc = m.spinToTrafo(site.SpinDirCalc)
	default:
		site.UCalc, site.VCalc = m.spinToTrafo(site.SpinDirCalc)
	}

	site.UConjCalc = site.UCalc.Conj()
	site.GeUCalc = site.G.MulVec(site.UCalc)
	site.GeUConjCalc = site.G.MulVec(site.UConjCalc)
	site.GeVCalc = site.G.MulVec(site.VCalc)
}

// CalcMagneticSites calculates all magnetic sites.
func (m *Model) CalcMagneticSites() {
	vars := m.exprVars()
	for i := range m.sites {
		m.calcMagneticSite(&m.sites[i], vars)
	}
}

// CalcExchangeTerm parses the coupling expressions and resolves the site
// references. A coupling with an unresolvable site reference is logged
// and skipped in all later calculations; failing expressions are logged
// and leave their component at zero.
func (m *Model) CalcExchangeTerm(term *ExchangeTerm) {
	vars := m.exprVars()
	m.calcExchangeTerm(term, vars)
}

func (m *Model) calcExchangeTerm(term *ExchangeTerm, vars map[string]complex128) {
	// Out-of-range site indices mark the coupling as dangling.
	var ok bool
	if term.Site1Calc, ok = m.GetMagneticSiteIndex(term.Site1); !ok {
		term.Site1Calc = len(m.sites)
		m.log.Error("unknown site 1 in coupling",
			"coupling", term.Name, "site", term.Site1)
		return
	}
	if term.Site2Calc, ok = m.GetMagneticSiteIndex(term.Site2); !ok {
		term.Site2Calc = len(m.sites)
		m.log.Error("unknown site 2 in coupling",
			"coupling", term.Name, "site", term.Site2)
		return
	}

	var err error
	term.JCalc = 0
	if term.J != "" {
		term.JCalc, err = m.evalC(term.J, vars)
		if err != nil {
			m.log.Error("parsing J",
				"coupling", term.Name, "err", err.Error())
		}
	}

	term.DistCalc = cmat.Vec3{}
	term.DMICalc = cmat.CVec3{}
	term.JGenCalc = cmat.CMat3{}
	for i := 0; i < 3; i++ {
		if term.Dist[i] != "" {
			term.DistCalc[i], err = m.evalR(term.Dist[i], vars)
			if err != nil {
				m.log.Error("parsing distance",
					"coupling", term.Name, "component", i, "err", err.Error())
			}
		}
		if term.DMI[i] != "" {
			term.DMICalc[i], err = m.evalC(term.DMI[i], vars)
			if err != nil {
				m.log.Error("parsing DMI",
					"coupling", term.Name, "component", i, "err", err.Error())
			}
		}
		for j := 0; j < 3; j++ {
			if term.JGen[i][j] == "" {
				continue
			}
			term.JGenCalc[i][j], err = m.evalC(term.JGen[i][j], vars)
			if err != nil {
				m.log.Error("parsing general exchange",
					"coupling", term.Name, "row", i, "col", j, "err", err.Error())
			}
		}
	}

	// Coupling length in lab units.
	pos1 := m.xtalA.MulVec(m.sites[term.Site1Calc].PosCalc)
	pos2 := m.xtalA.MulVec(m.sites[term.Site2Calc].PosCalc.Add(term.DistCalc))
	term.LengthCalc = pos2.Sub(pos1).Norm()
}

// CalcExchangeTerms calculates all couplings.
func (m *Model) CalcExchangeTerms() {
	vars := m.exprVars()
	for i := range m.terms {
		m.calcExchangeTerm(&m.terms[i], vars)
	}
}

// CalcAll recalculates the field rotation, all sites and all couplings,
// in that order.
func (m *Model) CalcAll() {
	m.CalcExternalField()
	m.CalcMagneticSites()
	m.CalcExchangeTerms()
}
