package magnon

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/jkrueger1/magnon/cmat"
)

func TestUniteEnergies(t *testing.T) {
	t.Parallel()
	m := New()
	in := []EnergyAndWeight{
		{E: 1.0, Weight: 0.25, WeightFull: 0.5, SSum: 1},
		{E: 1.0 + 1e-9, Weight: 0.25, WeightFull: 0.5, SSum: 1},
		{E: 2.0, Weight: 1},
	}
	out := m.UniteEnergies(in)
	if len(out) != 2 {
		t.Fatalf("got %d branches, want 2", len(out))
	}
	if out[0].Weight != 0.5 || out[0].WeightFull != 1 || out[0].SSum != 2 {
		t.Fatalf("merged branch not summed: %+v", out[0])
	}
	if out[1].E != 2.0 || out[1].Weight != 1 {
		t.Fatalf("distinct branch changed: %+v", out[1])
	}
}

func TestIncommensurateBranches(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	m.SetUniteDegenerateEnergies(false)

	commensurate, err := m.CalcEnergiesHKL(0.35, 0, 0, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(commensurate) != 2 {
		t.Fatalf("got %d commensurate branches, want 2", len(commensurate))
	}

	m.SetOrderingWavevector(cmat.Vec3{0.123, 0, 0})
	m.CalcAll()
	if !m.IsIncommensurate() {
		t.Fatal("model not incommensurate")
	}

	// Branches at Q, Q+O and Q-O.
	eAndWs, err := m.CalcEnergiesHKL(0.35, 0, 0, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(eAndWs) != 6 {
		t.Fatalf("got %d incommensurate branches, want 6", len(eAndWs))
	}
	for _, ew := range eAndWs {
		if math.IsNaN(ew.E) || math.IsInf(ew.E, 0) {
			t.Fatalf("invalid energy %g", ew.E)
		}
	}
}

func TestForceIncommensurate(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	if m.IsIncommensurate() {
		t.Fatal("commensurate model reported incommensurate")
	}
	want, err := m.CalcEnergiesHKL(0.25, 0, 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	m.SetForceIncommensurate(true)
	if !m.IsIncommensurate() {
		t.Fatal("forced flag ignored")
	}

	// With a zero ordering wavevector the three incommensurate branches
	// coincide and their projectors sum to the identity, so uniting the
	// degenerate energies recovers the commensurate result.
	got, err := m.CalcEnergiesHKL(0.25, 0, 0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d branches, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i].E-want[i].E) > 1e-8 {
			t.Fatalf("branch %d energy %g, want %g", i, got[i].E, want[i].E)
		}
		if math.Abs(got[i].WeightFull-want[i].WeightFull) > 1e-8 {
			t.Fatalf("branch %d weight %g, want %g", i, got[i].WeightFull, want[i].WeightFull)
		}
	}
}

// A Q point whose factorisation never becomes positive definite is
// calculated with the best effort factor; it must not abort the scan.
func TestCalcDispersionUnstableModel(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetLogger(quietLogger())
	m.AddMagneticSite(MagneticSite{
		Name:    "Fe",
		Pos:     [3]string{"0", "0", "0"},
		SpinDir: [3]string{"0", "0", "1"},
		SpinMag: "1",
	})
	// An antiferromagnetic coupling on aligned spins: the chosen ground
	// state is unstable and the Hamiltonian is not positive definite
	// away from the zone centre.
	m.AddExchangeTerm(ExchangeTerm{
		Name:  "J1",
		Site1: "Fe",
		Site2: "Fe",
		Dist:  [3]string{"1", "0", "0"},
		J:     "1",
	})
	m.CalcAll()

	const numQs = 16
	results, err := m.CalcDispersion(context.Background(), 0, 0, 0, 1, 0, 0, numQs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(results) != numQs {
		t.Fatalf("got %d points, want %d", len(results), numQs)
	}
	for i, res := range results {
		wantH := float64(i) / float64(numQs-1)
		if math.Abs(res.H-wantH) > 1e-12 {
			t.Fatalf("point %d at h = %g, want %g", i, res.H, wantH)
		}
		for _, ew := range res.EAndS {
			if math.IsNaN(ew.E) || math.IsInf(ew.E, 0) {
				t.Fatalf("point %d has energy %g", i, ew.E)
			}
		}
	}
}

func TestCalcDispersion(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	const numQs = 7
	results, err := m.CalcDispersion(context.Background(), 0.1, 0, 0, 0.5, 0, 0, numQs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(results) != numQs {
		t.Fatalf("got %d points, want %d", len(results), numQs)
	}
	for i, res := range results {
		wantH := 0.1 + (0.5-0.1)*float64(i)/float64(numQs-1)
		if math.Abs(res.H-wantH) > 1e-12 || res.K != 0 || res.L != 0 {
			t.Fatalf("point %d at (%g, %g, %g), want h = %g", i, res.H, res.K, res.L, wantH)
		}
		var maxE float64
		for _, ew := range res.EAndS {
			maxE = math.Max(maxE, ew.E)
		}
		want := 2 - 2*math.Cos(2*math.Pi*res.H)
		if math.Abs(maxE-want) > 1e-8 {
			t.Fatalf("point %d: E = %g, want %g", i, maxE, want)
		}
	}
}

func TestCalcDispersionSinglePoint(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	results, err := m.CalcDispersion(context.Background(), 0.25, 0, 0, 0.75, 0, 0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(results) != 1 || results[0].H != 0.25 {
		t.Fatalf("got %+v, want single point at h = 0.25", results)
	}
}

func TestCalcDispersionCancelled(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.CalcDispersion(ctx, 0, 0, 0, 1, 0, 0, 128); err == nil {
		t.Fatal("cancelled dispersion scan did not fail")
	}
}

func TestSaveDispersion(t *testing.T) {
	t.Parallel()
	m := fmChain(t)
	var buf bytes.Buffer
	if err := m.SaveDispersion(&buf, 0.1, 0, 0, 0.5, 0, 0, 3); err != nil {
		t.Fatalf("%+v", err)
	}

	sc := bufio.NewScanner(&buf)
	if !sc.Scan() {
		t.Fatal("empty output")
	}
	header := sc.Text()
	if !strings.HasPrefix(header, "# h") {
		t.Fatalf("unexpected header %q", header)
	}
	for _, col := range []string{"E", "w", "S_xx", "S_yy", "S_zz"} {
		if !strings.Contains(header, col) {
			t.Fatalf("header %q misses column %q", header, col)
		}
	}

	rows := 0
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if fields := strings.Fields(line); len(fields) != 8 {
			t.Fatalf("row %q has %d columns, want 8", line, len(fields))
		}
		rows++
	}
	// Three Q points with a magnon branch and its negative partner each.
	if rows != 6 {
		t.Fatalf("got %d rows, want 6", rows)
	}
}
