package magnon

import (
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"testing"

	"github.com/jkrueger1/magnon/cmat"
)

// quietLogger swallows the warnings that degraded-model tests provoke
// on purpose.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fmChain builds a ferromagnetic spin chain along a with spin 1 and a
// nearest neighbour coupling J = -1 meV. Its dispersion is the textbook
// E(h) = 2 - 2 cos(2 pi h).
func fmChain(t *testing.T) *Model {
	t.Helper()
	m := New()
	m.AddMagneticSite(MagneticSite{
		Name:    "Fe",
		Pos:     [3]string{"0", "0", "0"},
		SpinDir: [3]string{"0", "0", "1"},
		SpinMag: "1",
	})
	m.AddExchangeTerm(ExchangeTerm{
		Name:  "J1",
		Site1: "Fe",
		Site2: "Fe",
		Dist:  [3]string{"1", "0", "0"},
		J:     "-1",
	})
	m.CalcAll()
	return m
}

// afmChain builds a two-site antiferromagnetic chain with opposite spins
// and J = +1 meV between them.
func afmChain(t *testing.T) *Model {
	t.Helper()
	m := New()
	m.AddMagneticSite(MagneticSite{
		Name:    "up",
		Pos:     [3]string{"0", "0", "0"},
		SpinDir: [3]string{"0", "0", "1"},
		SpinMag: "1",
	})
	m.AddMagneticSite(MagneticSite{
		Name:    "down",
		Pos:     [3]string{"0.5", "0", "0"},
		SpinDir: [3]string{"0", "0", "-1"},
		SpinMag: "1",
	})
	m.AddExchangeTerm(ExchangeTerm{
		Name: "J1", Site1: "up", Site2: "down",
		Dist: [3]string{"0", "0", "0"}, J: "1",
	})
	m.AddExchangeTerm(ExchangeTerm{
		Name: "J1b", Site1: "down", Site2: "up",
		Dist: [3]string{"1", "0", "0"}, J: "1",
	})
	m.CalcAll()
	return m
}

func TestSpinTrafo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		spin  [3]string
		wantU cmat.CVec3
		wantV cmat.CVec3
	}{
		{
			name:  "spin along z",
			spin:  [3]string{"0", "0", "1"},
			wantU: cmat.CVec3{1, 1i, 0},
			wantV: cmat.CVec3{0, 0, 1},
		},
		{
			name:  "spin along x",
			spin:  [3]string{"1", "0", "0"},
			wantU: cmat.CVec3{0, 1i, 1},
			wantV: cmat.CVec3{-1, 0, 0},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := New()
			m.AddMagneticSite(MagneticSite{
				Name: "a", SpinDir: tt.spin, SpinMag: "1",
			})
			m.CalcMagneticSites()
			site := &m.MagneticSites()[0]
			for i := 0; i < 3; i++ {
				if cmplx.Abs(site.UCalc[i]-tt.wantU[i]) > 1e-12 {
					t.Fatalf("u = %v, want %v", site.UCalc, tt.wantU)
				}
				if cmplx.Abs(site.VCalc[i]-tt.wantV[i]) > 1e-12 {
					t.Fatalf("v = %v, want %v", site.VCalc, tt.wantV)
				}
			}
		})
	}
}

func TestAlignSpins(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetExternalField(ExternalField{Dir: cmat.Vec3{0, 0, -1}, Mag: 1, AlignSpins: true})
	m.AddMagneticSite(MagneticSite{
		Name: "a", SpinDir: [3]string{"1", "0", "0"}, SpinMag: "1",
	})
	m.CalcAll()
	// The field overrides the site spin direction; -dir is +z, so the
	// local frame is the identity frame.
	site := &m.MagneticSites()[0]
	want := cmat.CVec3{0, 0, 1}
	for i := 0; i < 3; i++ {
		if cmplx.Abs(site.VCalc[i]-want[i]) > 1e-12 {
			t.Fatalf("v = %v, want %v", site.VCalc, want)
		}
	}
}

func TestVariablesInExpressions(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetVariable(Variable{Name: "J", Value: -2})
	m.AddMagneticSite(MagneticSite{
		Name: "a", SpinDir: [3]string{"0", "0", "1"}, SpinMag: "1",
	})
	m.AddExchangeTerm(ExchangeTerm{
		Name: "J1", Site1: "a", Site2: "a",
		Dist: [3]string{"1", "0", "0"}, J: "J/2",
	})
	m.CalcAll()
	if got := m.ExchangeTerms()[0].JCalc; got != -1 {
		t.Fatalf("JCalc = %v, want -1", got)
	}
}

func TestGetMagneticSiteIndex(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	if idx, ok := m.GetMagneticSiteIndex("Fe"); !ok || idx != 0 {
		t.Fatalf("by name: got %d, %v", idx, ok)
	}
	// Numeric references resolve as indices.
	if idx, ok := m.GetMagneticSiteIndex("0"); !ok || idx != 0 {
		t.Fatalf("by index: got %d, %v", idx, ok)
	}
	if _, ok := m.GetMagneticSiteIndex("missing"); ok {
		t.Fatal("unknown site resolved")
	}
}

func TestHamiltonianHermitian(t *testing.T) {
	t.Parallel()
	for _, m := range []*Model{fmChain(t), afmChain(t)} {
		for _, h := range []float64{0.1, 0.25, 0.7} {
			ham := m.CalcHamiltonian(cmat.Vec3{h, 0, 0})
			if !ham.IsHermitian(1e-10) {
				t.Fatalf("hamiltonian not hermitian at h = %g", h)
			}
		}
	}
}

func TestReciprocalJTransposeSymmetry(t *testing.T) {
	t.Parallel()
	m := afmChain(t)
	q := cmat.Vec3{0.3, 0, 0}
	jQ, jQ0 := m.CalcReciprocalJs(q)
	jQm, _ := m.CalcReciprocalJs(q.Scale(-1))

	// Swapping the site indices and negating Q transposes J(Q).
	j01 := jQ[siteIndices{0, 1}]
	j10m := jQm[siteIndices{1, 0}]
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			if cmplx.Abs(j01[i][k]-j10m[k][i]) > 1e-12 {
				t.Fatalf("J(Q) transpose symmetry violated at (%d,%d)", i, k)
			}
		}
	}

	// At Q = 0 this reduces to a plain transpose.
	j01 = jQ0[siteIndices{0, 1}]
	j10 := jQ0[siteIndices{1, 0}]
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			if cmplx.Abs(j01[i][k]-j10[k][i]) > 1e-12 {
				t.Fatalf("J(0) transpose symmetry violated at (%d,%d)", i, k)
			}
		}
	}
}

func TestFMChainDispersion(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	for _, h := range []float64{0.1, 0.25, 0.4, 0.5} {
		eAndWs, err := m.CalcEnergiesHKL(h, 0, 0, true)
		if err != nil {
			t.Fatalf("h = %g: %+v", h, err)
		}
		if len(eAndWs) != 2 {
			t.Fatalf("h = %g: got %d branches, want 2", h, len(eAndWs))
		}
		want := 2 - 2*math.Cos(2*math.Pi*h)
		// Magnon and its paraunitary partner at -E.
		var maxE, minE float64
		for _, ew := range eAndWs {
			maxE = math.Max(maxE, ew.E)
			minE = math.Min(minE, ew.E)
		}
		if math.Abs(maxE-want) > 1e-8 {
			t.Fatalf("h = %g: E = %g, want %g", h, maxE, want)
		}
		if math.Abs(minE+want) > 1e-8 {
			t.Fatalf("h = %g: partner E = %g, want %g", h, minE, -want)
		}
	}
}

func TestFMChainGammaPointRegularised(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	// The Hamiltonian vanishes at the zone centre; the Cholesky step must
	// fall back to the regularised decomposition.
	eAndWs, err := m.CalcEnergiesHKL(0, 0, 0, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, ew := range eAndWs {
		if math.Abs(ew.E) > 0.01 {
			t.Fatalf("E = %g at the zone centre", ew.E)
		}
	}
}

func TestFMChainWeights(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	eAndWs, err := m.CalcEnergiesHKL(0.25, 0, 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(eAndWs) == 0 {
		t.Fatal("no branches")
	}
	for _, ew := range eAndWs {
		if ew.Weight < 0 || ew.WeightFull < 0 {
			t.Fatalf("negative weight %g / %g", ew.Weight, ew.WeightFull)
		}
		if math.Abs(imag(ew.SSum)) > 1e-6 || math.Abs(imag(ew.SPerpSum)) > 1e-6 {
			t.Fatalf("imaginary weight remains: %v, %v", ew.SSum, ew.SPerpSum)
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if cmplx.Abs(ew.S[i][j]-cmplx.Conj(ew.S[j][i])) > 1e-8 {
					t.Fatalf("correlation matrix not Hermitian at (%d,%d)", i, j)
				}
			}
		}
	}
	// The positive-energy magnon carries spectral weight.
	var found bool
	for _, ew := range eAndWs {
		if ew.E > 0 && ew.WeightFull > 1e-6 {
			found = true
		}
	}
	if !found {
		t.Fatal("magnon branch has no weight")
	}
}

func TestExternalFieldGap(t *testing.T) {
	t.Parallel()
	const b = 2.0 // Tesla
	m := fmChain(t)
	without, err := m.CalcEnergiesHKL(0.25, 0, 0, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	m.SetExternalField(ExternalField{Dir: cmat.Vec3{0, 0, 1}, Mag: b})
	m.CalcAll()
	with, err := m.CalcEnergiesHKL(0.25, 0, 0, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	maxOf := func(ews []EnergyAndWeight) float64 {
		max := math.Inf(-1)
		for _, ew := range ews {
			max = math.Max(max, ew.E)
		}
		return max
	}
	// The Zeeman term shifts the magnon energy by g mu_B B.
	shift := maxOf(with) - maxOf(without)
	want := gE * muB * b
	if math.Abs(shift-want) > 1e-8 {
		t.Fatalf("Zeeman shift = %g, want %g", shift, want)
	}
}

func TestAFMChainEnergies(t *testing.T) {
	t.Parallel()
	m := afmChain(t)
	m.SetUniteDegenerateEnergies(false)
	for _, h := range []float64{0.1, 0.3} {
		eAndWs, err := m.CalcEnergiesHKL(h, 0, 0, true)
		if err != nil {
			t.Fatalf("h = %g: %+v", h, err)
		}
		if len(eAndWs) != 4 {
			t.Fatalf("h = %g: got %d branches, want 4", h, len(eAndWs))
		}
		// Energies come in +/- pairs.
		es := make([]float64, len(eAndWs))
		for i, ew := range eAndWs {
			es[i] = ew.E
		}
		if math.Abs(es[0]+es[3]) > 1e-6 || math.Abs(es[1]+es[2]) > 1e-6 {
			t.Fatalf("h = %g: energies not paired: %v", h, es)
		}
	}
}

func TestGroundStateEnergy(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	// One coupling, parallel spins: E0 = J S^2 = -1 meV.
	if got := m.CalcGroundStateEnergy(); math.Abs(got+1) > 1e-12 {
		t.Fatalf("E0 = %g, want -1", got)
	}

	afm := afmChain(t)
	// Two couplings between antiparallel spins: E0 = -2 meV.
	if got := afm.CalcGroundStateEnergy(); math.Abs(got+2) > 1e-12 {
		t.Fatalf("AFM E0 = %g, want -2", got)
	}
}

func TestCalcMinimumEnergy(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	minE, err := m.CalcMinimumEnergy()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(minE) > 0.01 {
		t.Fatalf("minimum energy %g, want ~0", minE)
	}
}

func TestGetSupercellMinMax(t *testing.T) {
	t.Parallel()
	m := afmChain(t)
	min, max := m.GetSupercellMinMax()
	if min != (cmat.Vec3{}) || max != (cmat.Vec3{1, 0, 0}) {
		t.Fatalf("got %v, %v", min, max)
	}
}

func TestRotateExternalField(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetExternalField(ExternalField{Dir: cmat.Vec3{0, 0, 1}, Mag: 1})
	m.RotateExternalField(cmat.Vec3{0, 1, 0}, math.Pi/2)
	dir := m.ExternalField().Dir
	want := cmat.Vec3{1, 0, 0}
	for i := 0; i < 3; i++ {
		if math.Abs(dir[i]-want[i]) > 1e-12 {
			t.Fatalf("dir = %v, want %v", dir, want)
		}
	}
}

func TestBoseCutoff(t *testing.T) {
	t.Parallel()
	// Reference value of the occupation factor at E = 1 meV, T = 300 K.
	want := 1/(math.Exp(1/(kB*300))-1) + 1
	if got := bose(1, 300); math.Abs(got-want) > 1e-12 {
		t.Fatalf("bose = %g, want %g", got, want)
	}
	// Below the cutoff the factor saturates at its cutoff value.
	if got, sat := boseCutoff(1e-5, 300, 0.025), bose(0.025, 300); got != sat {
		t.Fatalf("cutoff bose = %g, want %g", got, sat)
	}
	// Negative energies count annihilation, without the +1 term.
	if got := bose(-1, 300); math.Abs(got-(want-1)) > 1e-12 {
		t.Fatalf("bose(-1) = %g, want %g", got, want-1)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	c := m.Copy()
	c.MagneticSites()[0].Name = "changed"
	c.SetTemperature(100)
	if m.MagneticSites()[0].Name != "Fe" {
		t.Fatal("copy shares site storage")
	}
	if m.Temperature() == 100 {
		t.Fatal("copy shares settings")
	}
}

// A site with an unparsable expression is calculated with the component
// at zero; the remaining sites are unaffected.
func TestCalcSitesContinueOnBadExpression(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetLogger(quietLogger())
	m.AddMagneticSite(MagneticSite{
		Name:    "bad",
		SpinDir: [3]string{"0", "0", "1"},
		SpinMag: "not@an@expression",
	})
	m.AddMagneticSite(MagneticSite{
		Name:    "good",
		SpinDir: [3]string{"0", "0", "1"},
		SpinMag: "3/2",
	})
	m.CalcMagneticSites()

	sites := m.MagneticSites()
	if sites[0].SpinMagCalc != 0 {
		t.Fatalf("bad site spin magnitude %g, want 0", sites[0].SpinMagCalc)
	}
	if sites[1].SpinMagCalc != 1.5 {
		t.Fatalf("good site spin magnitude %g, want 1.5", sites[1].SpinMagCalc)
	}
	if sites[1].VCalc != (cmat.CVec3{0, 0, 1}) {
		t.Fatalf("good site v = %v", sites[1].VCalc)
	}
}

// A coupling with an unresolvable site reference is skipped, the rest of
// the model keeps working.
func TestDanglingCouplingSkipped(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	m.SetLogger(quietLogger())
	m.AddExchangeTerm(ExchangeTerm{
		Name:  "J2",
		Site1: "Fe",
		Site2: "gone",
		Dist:  [3]string{"2", "0", "0"},
		J:     "5",
	})
	m.CalcExchangeTerms()

	if got := m.ExchangeTerms()[1].Site2Calc; got < len(m.MagneticSites()) {
		t.Fatalf("dangling coupling resolved to site %d", got)
	}

	eAndWs, err := m.CalcEnergiesHKL(0.25, 0, 0, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var maxE float64
	for _, ew := range eAndWs {
		maxE = math.Max(maxE, ew.E)
	}
	if want := 2 - 2*math.Cos(2*math.Pi*0.25); math.Abs(maxE-want) > 1e-8 {
		t.Fatalf("max E = %g, want %g", maxE, want)
	}
}
