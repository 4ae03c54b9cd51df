// Package magnon calculates magnon dispersion relations and dynamical spin
// structure factors in linear spin-wave theory, following the formalism of
// Toth and Lake, J. Phys.: Condens. Matter 27 166002 (2015).
//
// A Model holds magnetic sites, couplings between them and an optional
// external field. All numeric inputs are expression strings, so couplings
// can be given symbolically in terms of named variables. After changing the
// model call CalcExternalField, CalcMagneticSites and CalcExchangeTerms,
// then query energies and weights with CalcEnergies or scan a path in
// reciprocal space with CalcDispersion.
package magnon

import (
	"log/slog"
	"math"
	"runtime"
	"strconv"

	"github.com/jkrueger1/magnon/cmat"
	"github.com/jkrueger1/magnon/expr"
	"github.com/pkg/errors"
)

const (
	// Bohr magneton in meV/T.
	muB = 0.057883818060
	// Electron g factor.
	gE = -2.00231930436256
	// Boltzmann constant in meV/K.
	kB = 0.08617333

	// Diagonal shift and retry bound of the regularised Cholesky
	// factorisation.
	defaultCholDelta = 0.0025
	defaultCholTries = 50
)

// Variable is a named value usable in model expressions.
type Variable struct {
	Name  string
	Value complex128
}

// MagneticSite is one spin in the magnetic unit cell. The exported string
// fields are parsable expressions; the Calc fields are filled in by
// Model.CalcMagneticSites.
type MagneticSite struct {
	Name   string
	SymIdx int

	Pos       [3]string
	SpinDir   [3]string
	SpinOrtho [3]string
	SpinMag   string
	G         cmat.CMat3

	PosCalc     cmat.Vec3
	SpinDirCalc cmat.Vec3
	SpinMagCalc float64

	// Local frame of the spin: u spans the plane orthogonal to the spin
	// direction, v points along it.
	UCalc     cmat.CVec3
	UConjCalc cmat.CVec3
	VCalc     cmat.CVec3

	// The same vectors premultiplied with the g tensor.
	GeUCalc     cmat.CVec3
	GeUConjCalc cmat.CVec3
	GeVCalc     cmat.CVec3
}

// ExchangeTerm couples two magnetic sites, possibly across unit cells.
// Dist counts unit cells between the two sites. The coupling energy is
// J * S1.S2 plus the antisymmetric DMI part and a general 3x3 matrix part.
type ExchangeTerm struct {
	Name   string
	SymIdx int

	Site1 string
	Site2 string
	Dist  [3]string

	J    string
	DMI  [3]string
	JGen [3][3]string

	Site1Calc  int
	Site2Calc  int
	DistCalc   cmat.Vec3
	LengthCalc float64
	JCalc      complex128
	DMICalc    cmat.CVec3
	JGenCalc   cmat.CMat3
}

// ExternalField is a homogeneous magnetic field. With AlignSpins set, all
// site spins are forced along the field instead of their own directions.
type ExternalField struct {
	AlignSpins bool
	Dir        cmat.Vec3
	Mag        float64
}

// EnergyAndWeight is one magnon branch at a fixed Q: its energy, the full
// spin-spin correlation matrix and the neutron-weighted projection.
type EnergyAndWeight struct {
	E float64

	S          cmat.CMat3
	SSum       complex128
	WeightFull float64

	SPerp    cmat.CMat3
	SPerpSum complex128
	Weight   float64
}

// SofQE collects the branches at one momentum transfer.
type SofQE struct {
	H, K, L float64
	EAndS   []EnergyAndWeight
}

// Model is a magnetic structure together with calculation settings.
// A Model is not safe for concurrent mutation; CalcDispersion runs
// read-only calculations from several goroutines.
type Model struct {
	sites     []MagneticSite
	terms     []ExchangeTerm
	variables []Variable

	field    ExternalField
	rotField cmat.Mat3

	ordering            cmat.Vec3
	rotAxis             cmat.Vec3
	forceIncommensurate bool

	temperature float64
	boseCutoff  float64
	magFFactSrc string
	magFFact    *expr.Expr

	uniteDegenerate bool
	performChecks   bool
	calcH           bool
	calcHp          bool
	calcHm          bool

	eps  float64
	prec int

	xtal  [6]float64 // a, b, c in A, angles in rad
	xtalA cmat.Mat3
	xtalB cmat.Mat3

	scatteringPlane [3]cmat.Vec3

	phaseSign  float64
	cholDelta  float64
	cholTries  int
	numThreads int

	log *slog.Logger
}

// New returns a model with an empty structure and default settings: a
// cubic 5 A lattice, ordering wavevector zero, rotation axis [100] and
// temperature effects disabled.
func New() *Model {
	m := &Model{log: slog.Default()}
	m.Clear()
	return m
}

// Clear removes all sites, couplings and variables and restores the
// default settings.
func (m *Model) Clear() {
	m.sites = nil
	m.terms = nil
	m.variables = nil

	m.field = ExternalField{Dir: cmat.Vec3{0, 0, 1}}
	m.rotField = cmat.Identity3()

	m.ordering = cmat.Vec3{}
	m.rotAxis = cmat.Vec3{1, 0, 0}
	m.forceIncommensurate = false

	m.temperature = -1
	m.boseCutoff = 0.025
	m.magFFactSrc = ""
	m.magFFact = nil

	m.uniteDegenerate = true
	m.performChecks = true
	m.calcH, m.calcHp, m.calcHm = true, true, true

	m.eps = 1e-6
	m.prec = 6

	deg90 := math.Pi / 2
	m.xtal = [6]float64{5, 5, 5, deg90, deg90, deg90}
	m.xtalA = cmat.AMatrix(5, 5, 5, deg90, deg90, deg90)
	m.xtalB = cmat.BMatrix(5, 5, 5, deg90, deg90, deg90)

	m.scatteringPlane = [3]cmat.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

	m.phaseSign = -1
	m.cholDelta = defaultCholDelta
	m.cholTries = defaultCholTries
	m.numThreads = defaultThreads()
}

func defaultThreads() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// Copy returns a deep copy sharing no mutable state with m. Parsed
// expressions are shared, they are immutable after parsing.
func (m *Model) Copy() *Model {
	c := *m
	c.sites = append([]MagneticSite(nil), m.sites...)
	c.terms = append([]ExchangeTerm(nil), m.terms...)
	c.variables = append([]Variable(nil), m.variables...)
	return &c
}

func (m *Model) MagneticSites() []MagneticSite  { return m.sites }
func (m *Model) ExchangeTerms() []ExchangeTerm  { return m.terms }
func (m *Model) Variables() []Variable          { return m.variables }
func (m *Model) ExternalField() ExternalField   { return m.field }
func (m *Model) OrderingWavevector() cmat.Vec3  { return m.ordering }
func (m *Model) RotationAxis() cmat.Vec3        { return m.rotAxis }
func (m *Model) Temperature() float64           { return m.temperature }
func (m *Model) BoseCutoff() float64            { return m.boseCutoff }
func (m *Model) MagneticFormFactor() string     { return m.magFFactSrc }
func (m *Model) Eps() float64                   { return m.eps }
func (m *Model) Precision() int                 { return m.prec }
func (m *Model) CrystalLattice() [6]float64     { return m.xtal }
func (m *Model) CrystalATrafo() cmat.Mat3       { return m.xtalA }
func (m *Model) CrystalBTrafo() cmat.Mat3       { return m.xtalB }
func (m *Model) ScatteringPlane() [3]cmat.Vec3  { return m.scatteringPlane }
func (m *Model) NumThreads() int                { return m.numThreads }

// IsIncommensurate reports whether the ordering wavevector is nonzero or
// incommensurate handling has been forced.
func (m *Model) IsIncommensurate() bool {
	if m.forceIncommensurate {
		return true
	}
	return m.ordering.Norm() > m.eps
}

func (m *Model) AddMagneticSite(site MagneticSite) { m.sites = append(m.sites, site) }
func (m *Model) AddExchangeTerm(term ExchangeTerm) { m.terms = append(m.terms, term) }

func (m *Model) ClearMagneticSites() { m.sites = nil }
func (m *Model) ClearExchangeTerms() { m.terms = nil }
func (m *Model) ClearVariables()     { m.variables = nil }

func (m *Model) ClearExternalField() {
	m.field = ExternalField{Dir: cmat.Vec3{0, 0, 1}}
	m.rotField = cmat.Identity3()
}

// SetVariable adds a variable or overwrites the value of an existing one.
func (m *Model) SetVariable(v Variable) {
	for i := range m.variables {
		if m.variables[i].Name == v.Name {
			m.variables[i].Value = v.Value
			return
		}
	}
	m.variables = append(m.variables, v)
}

func (m *Model) SetEps(eps float64)                { m.eps = eps }
func (m *Model) SetPrecision(prec int)             { m.prec = prec }
func (m *Model) SetTemperature(t float64)          { m.temperature = t }
func (m *Model) SetBoseCutoff(cut float64)         { m.boseCutoff = cut }
func (m *Model) SetExternalField(f ExternalField)  { m.field = f }
func (m *Model) SetOrderingWavevector(q cmat.Vec3) { m.ordering = q }
func (m *Model) SetRotationAxis(ax cmat.Vec3)      { m.rotAxis = ax }
func (m *Model) SetForceIncommensurate(b bool)     { m.forceIncommensurate = b }
func (m *Model) SetUniteDegenerateEnergies(b bool) { m.uniteDegenerate = b }
func (m *Model) SetPerformChecks(b bool)           { m.performChecks = b }

// SetCholeskyRegularisation configures the diagonal shift added when the
// Cholesky factorisation of a Hamiltonian fails and the number of retries
// before giving up. Values at or below zero restore the defaults.
func (m *Model) SetCholeskyRegularisation(delta float64, tries int) {
	if delta <= 0 {
		delta = defaultCholDelta
	}
	if tries <= 0 {
		tries = defaultCholTries
	}
	m.cholDelta, m.cholTries = delta, tries
}

// SetCalcHamiltonian selects which of the H(Q), H(Q+O) and H(Q-O)
// branches are evaluated for incommensurate structures.
func (m *Model) SetCalcHamiltonian(h, hp, hm bool) {
	m.calcH, m.calcHp, m.calcHm = h, hp, hm
}

// SetNumThreads bounds the parallelism of dispersion scans. Values below
// one restore the default.
func (m *Model) SetNumThreads(n int) {
	if n < 1 {
		n = defaultThreads()
	}
	m.numThreads = n
}

// SetLogger replaces the logger used for calculation warnings.
func (m *Model) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	m.log = l
}

// SetMagneticFormFactor sets the magnetic form factor as a function of Q
// in 1/A, or removes it when the formula is empty.
func (m *Model) SetMagneticFormFactor(formula string) error {
	if formula == "" {
		m.magFFactSrc, m.magFFact = "", nil
		return nil
	}
	e, err := expr.Parse(formula)
	if err != nil {
		return errors.Wrap(err, "invalid magnetic form factor")
	}
	// Probe once so a formula with unknown variables fails early.
	if _, err := e.Eval(map[string]complex128{"Q": 1}); err != nil {
		return errors.Wrap(err, "invalid magnetic form factor")
	}
	m.magFFactSrc, m.magFFact = formula, e
	return nil
}

// SetCrystalLattice sets the unit cell, lengths in A and angles in
// radians, and recalculates the crystal coordinate trafos.
func (m *Model) SetCrystalLattice(a, b, c, alpha, beta, gamma float64) error {
	for _, ang := range []float64{alpha, beta, gamma} {
		if ang <= 0 || ang >= math.Pi {
			return errors.Errorf("invalid lattice angle %g rad", ang)
		}
	}
	if a <= 0 || b <= 0 || c <= 0 {
		return errors.Errorf("invalid lattice constants %g, %g, %g", a, b, c)
	}
	m.xtal = [6]float64{a, b, c, alpha, beta, gamma}
	m.xtalA = cmat.AMatrix(a, b, c, alpha, beta, gamma)
	m.xtalB = cmat.BMatrix(a, b, c, alpha, beta, gamma)
	return nil
}

// SetScatteringPlane sets the two in-plane vectors of the scattering plane
// in rlu; the plane normal is their cross product in crystal coordinates.
func (m *Model) SetScatteringPlane(ah, ak, al, bh, bk, bl float64) {
	a := cmat.Vec3{ah, ak, al}
	b := cmat.Vec3{bh, bk, bl}
	n := m.xtalB.MulVec(a).Cross(m.xtalB.MulVec(b))
	up := m.xtalB.Inverse().MulVec(n)
	m.scatteringPlane = [3]cmat.Vec3{a, b, up}
}

// RotateExternalField rotates the field direction about the given axis.
func (m *Model) RotateExternalField(axis cmat.Vec3, angle float64) {
	m.field.Dir = cmat.RotationAxisAngle(axis, angle).MulVec(m.field.Dir)
}

// FindMagneticSite returns the site with the given name, or nil.
func (m *Model) FindMagneticSite(name string) *MagneticSite {
	for i := range m.sites {
		if m.sites[i].Name == name {
			return &m.sites[i]
		}
	}
	return nil
}

// FindExchangeTerm returns the coupling with the given name, or nil.
func (m *Model) FindExchangeTerm(name string) *ExchangeTerm {
	for i := range m.terms {
		if m.terms[i].Name == name {
			return &m.terms[i]
		}
	}
	return nil
}

// GetMagneticSiteIndex resolves a site reference that is either a site
// name or a numeric index.
func (m *Model) GetMagneticSiteIndex(name string) (int, bool) {
	for i := range m.sites {
		if m.sites[i].Name == name {
			return i, true
		}
	}
	if idx, err := strconv.Atoi(name); err == nil && idx >= 0 && idx < len(m.sites) {
		return idx, true
	}
	return len(m.sites), false
}

// GetExchangeTermIndex resolves a coupling reference that is either a
// coupling name or a numeric index.
func (m *Model) GetExchangeTermIndex(name string) (int, bool) {
	for i := range m.terms {
		if m.terms[i].Name == name {
			return i, true
		}
	}
	if idx, err := strconv.Atoi(name); err == nil && idx >= 0 && idx < len(m.terms) {
		return idx, true
	}
	return len(m.terms), false
}

// GetSupercellMinMax returns the smallest and largest unit cell offsets
// spanned by the couplings.
func (m *Model) GetSupercellMinMax() (cmat.Vec3, cmat.Vec3) {
	var min, max cmat.Vec3
	for _, term := range m.terms {
		for i := 0; i < 3; i++ {
			min[i] = math.Min(min[i], term.DistCalc[i])
			max[i] = math.Max(max[i], term.DistCalc[i])
		}
	}
	return min, max
}

// exprVars builds the variable bindings for the expression parser.
func (m *Model) exprVars() map[string]complex128 {
	vars := make(map[string]complex128, len(m.variables))
	for _, v := range m.variables {
		vars[v.Name] = v.Value
	}
	return vars
}

func (m *Model) evalC(src string, vars map[string]complex128) (complex128, error) {
	return expr.Eval(src, vars)
}

func (m *Model) evalR(src string, vars map[string]complex128) (float64, error) {
	v, err := expr.Eval(src, vars)
	if err != nil {
		return 0, err
	}
	return real(v), nil
}
