// Command magnon calculates magnon dispersions and dynamical structure
// factors from a magnetic model file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jkrueger1/magnon"
	"github.com/jkrueger1/magnon/cmat"
	"github.com/jkrueger1/magnon/scandb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	modelFile string
	threads   int
	verbose   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "magnon",
		Short:         "linear spin-wave calculations for magnetic models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&modelFile, "model", "m", "", "magnetic model XML file")
	root.PersistentFlags().IntVar(&threads, "threads", 0, "number of calculation threads (0: automatic)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(dispCmd(), gridCmd(), energiesCmd(), infoCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "magnon: %v\n", err)
		os.Exit(1)
	}
}

// loadModel loads the model given with --model and applies the global
// calculation flags.
func loadModel() (*magnon.Model, error) {
	if modelFile == "" {
		return nil, errors.New("no model file given, use --model")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level}))

	m := magnon.New()
	m.SetLogger(logger)
	if err := m.LoadFile(modelFile); err != nil {
		return nil, err
	}
	if threads > 0 {
		m.SetNumThreads(threads)
	}
	return m, nil
}

func parseQ(vals []float64, what string) (cmat.Vec3, error) {
	if len(vals) != 3 {
		return cmat.Vec3{}, errors.Errorf("%s needs three components h,k,l, got %d", what, len(vals))
	}
	return cmat.Vec3{vals[0], vals[1], vals[2]}, nil
}

func dispCmd() *cobra.Command {
	var (
		start, end []float64
		points     int
		output     string
		dbPath     string
		scanName   string
	)

	cmd := &cobra.Command{
		Use:   "disp",
		Short: "calculate the dispersion along a path in reciprocal space",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel()
			if err != nil {
				return err
			}
			qs, err := parseQ(start, "--start")
			if err != nil {
				return err
			}
			qe, err := parseQ(end, "--end")
			if err != nil {
				return err
			}

			w := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrapf(err, "cannot create %q", output)
				}
				defer f.Close()
				w = f
			}

			if dbPath == "" {
				return m.SaveDispersion(w,
					qs[0], qs[1], qs[2], qe[0], qe[1], qe[2], points)
			}

			// Calculate once, then both print and store.
			results, err := m.CalcDispersion(cmd.Context(),
				qs[0], qs[1], qs[2], qe[0], qe[1], qe[2], points)
			if err != nil {
				return err
			}

			store, err := scandb.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			name := scanName
			if name == "" {
				name = fmt.Sprintf("(%g %g %g) to (%g %g %g)",
					qs[0], qs[1], qs[2], qe[0], qe[1], qe[2])
			}
			id, err := store.SaveScan(cmd.Context(), name,
				[3]float64(qs), [3]float64(qe), results)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "stored scan %d in %s\n", id, dbPath)

			for _, res := range results {
				for _, ew := range res.EAndS {
					fmt.Fprintf(w, "%g %g %g %g %g\n",
						res.H, res.K, res.L, ew.E, ew.Weight)
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64SliceVar(&start, "start", []float64{0, 0, 0}, "start momentum h,k,l in rlu")
	cmd.Flags().Float64SliceVar(&end, "end", []float64{1, 0, 0}, "end momentum h,k,l in rlu")
	cmd.Flags().IntVar(&points, "points", 128, "number of Q points on the path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&dbPath, "db", "", "also store the scan in this sqlite database")
	cmd.Flags().StringVar(&scanName, "name", "", "scan name used in the database")
	return cmd
}

func gridCmd() *cobra.Command {
	var (
		start, end []float64
		points     []int
		output     string
		asText     bool
		noWeights  bool
		noProj     bool
	)

	cmd := &cobra.Command{
		Use:   "grid",
		Short: "export S(Q, E) on a Q grid in the Takin grid format",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel()
			if err != nil {
				return err
			}
			qs, err := parseQ(start, "--start")
			if err != nil {
				return err
			}
			qe, err := parseQ(end, "--end")
			if err != nil {
				return err
			}
			if len(points) != 3 {
				return errors.Errorf("--points needs three dimensions, got %d", len(points))
			}
			if output == "" {
				return errors.New("no output file given, use --output")
			}

			if asText {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrapf(err, "cannot create %q", output)
				}
				defer f.Close()
				return m.SaveGridText(cmd.Context(), f, qs, qe,
					points[0], points[1], points[2], !noWeights, !noProj)
			}
			return m.SaveGrid(cmd.Context(), output, qs, qe,
				points[0], points[1], points[2], !noWeights, !noProj)
		},
	}

	cmd.Flags().Float64SliceVar(&start, "start", []float64{0, 0, 0}, "grid start h,k,l in rlu")
	cmd.Flags().Float64SliceVar(&end, "end", []float64{1, 1, 1}, "grid end h,k,l in rlu")
	cmd.Flags().IntSliceVar(&points, "points", []int{32, 32, 32}, "grid points per dimension")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output grid file")
	cmd.Flags().BoolVar(&asText, "text", false, "write a plain text grid instead of the binary format")
	cmd.Flags().BoolVar(&noWeights, "no-weights", false, "only calculate energies")
	cmd.Flags().BoolVar(&noProj, "no-projector", false, "use unprojected correlation weights")
	return cmd
}

func energiesCmd() *cobra.Command {
	var q []float64

	cmd := &cobra.Command{
		Use:   "energies",
		Short: "print the magnon energies and weights at one momentum",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel()
			if err != nil {
				return err
			}
			qv, err := parseQ(q, "--Q")
			if err != nil {
				return err
			}

			eAndWs, err := m.CalcEnergies(qv, false)
			if err != nil {
				return err
			}

			fmt.Printf("Q = (%g %g %g) rlu\n", qv[0], qv[1], qv[2])
			fmt.Printf("%-16s%-16s%-16s\n", "E (meV)", "weight", "full weight")
			for _, ew := range eAndWs {
				fmt.Printf("%-16g%-16g%-16g\n", ew.E, ew.Weight, ew.WeightFull)
			}
			return nil
		},
	}

	cmd.Flags().Float64SliceVarP(&q, "Q", "Q", []float64{0, 0, 0}, "momentum transfer h,k,l in rlu")
	return cmd
}

func infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "print a summary of the magnetic model",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel()
			if err != nil {
				return err
			}

			xtal := m.CrystalLattice()
			fmt.Printf("model: %s\n", modelFile)
			fmt.Printf("lattice: a=%g b=%g c=%g A\n", xtal[0], xtal[1], xtal[2])
			ordering := m.OrderingWavevector()
			fmt.Printf("ordering: (%g %g %g), incommensurate: %v\n",
				ordering[0], ordering[1], ordering[2], m.IsIncommensurate())

			fmt.Printf("\nmagnetic sites (%d):\n", len(m.MagneticSites()))
			for _, site := range m.MagneticSites() {
				fmt.Printf("  %-12s pos=(%g %g %g)  S=%g  spin=(%g %g %g)\n",
					site.Name,
					site.PosCalc[0], site.PosCalc[1], site.PosCalc[2],
					site.SpinMagCalc,
					site.SpinDirCalc[0], site.SpinDirCalc[1], site.SpinDirCalc[2])
			}

			fmt.Printf("\ncouplings (%d):\n", len(m.ExchangeTerms()))
			for _, term := range m.ExchangeTerms() {
				fmt.Printf("  %-12s %s -> %s  d=(%g %g %g)  J=%v  len=%g A\n",
					term.Name, term.Site1, term.Site2,
					term.DistCalc[0], term.DistCalc[1], term.DistCalc[2],
					term.JCalc, term.LengthCalc)
			}

			fmt.Printf("\nground state energy: %g meV\n", m.CalcGroundStateEnergy())
			if minE, err := m.CalcMinimumEnergy(); err == nil {
				fmt.Printf("minimum energy at Gamma: %g meV\n", minE)
			}
			return nil
		},
	}
	return cmd
}
