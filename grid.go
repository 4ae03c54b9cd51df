package magnon

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jkrueger1/magnon/cmat"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// gridVersion is the signature string embedded in exported grid files.
const gridVersion = "Takin/Magdyn Grid File Version 2 (doi: https://doi.org/10.5281/zenodo.4117437)."

// gridCell holds the branches of one Q point of the grid.
type gridCell struct {
	energies []float64
	weights  []float64
}

// SaveGrid exports S(Q, E) on a regular Q grid in the Takin grid file
// format: a binary file holding the grid geometry, per Q point the magnon
// energies and weights, and a trailing index block for random access.
//
// The grid spans numH x numK x numL points from qStart towards qEnd, in
// steps of (qEnd - qStart) / num per dimension. With withWeights unset
// only the energies are calculated and all weights are zero. With
// useProjector unset the weight is the trace of the full correlation
// matrix instead of the neutron-projected one.
func (m *Model) SaveGrid(ctx context.Context, path string,
	qStart, qEnd cmat.Vec3, numH, numK, numL int,
	withWeights, useProjector bool) error {

	if numH < 1 || numK < 1 || numL < 1 {
		return errors.Errorf("invalid grid dimensions %d x %d x %d", numH, numK, numL)
	}

	inc := cmat.Vec3{
		(qEnd[0] - qStart[0]) / float64(numH),
		(qEnd[1] - qStart[1]) / float64(numK),
		(qEnd[2] - qStart[2]) / float64(numL),
	}

	cells, err := m.calcGridCells(ctx, qStart, inc, numH, numK, numL, withWeights, useProjector)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer f.Close()

	// Placeholder for the index block offset, patched at the end.
	if err := binary.Write(f, binary.LittleEndian, uint64(0)); err != nil {
		return errors.Wrap(err, "write grid header")
	}
	for i := 0; i < 3; i++ {
		for _, v := range []float64{qStart[i], qEnd[i], inc[i]} {
			if err := binary.Write(f, binary.LittleEndian, v); err != nil {
				return errors.Wrap(err, "write grid header")
			}
		}
	}
	if _, err := f.WriteString(gridVersion); err != nil {
		return errors.Wrap(err, "write grid header")
	}

	offsets := make([]uint64, 0, len(cells))
	for _, cell := range cells {
		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return errors.Wrap(err, "write grid data")
		}
		offsets = append(offsets, uint64(pos))

		if err := binary.Write(f, binary.LittleEndian, uint32(len(cell.energies))); err != nil {
			return errors.Wrap(err, "write grid data")
		}
		for j := range cell.energies {
			if err := binary.Write(f, binary.LittleEndian, cell.energies[j]); err != nil {
				return errors.Wrap(err, "write grid data")
			}
			if err := binary.Write(f, binary.LittleEndian, cell.weights[j]); err != nil {
				return errors.Wrap(err, "write grid data")
			}
		}
	}

	idxBlock, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrap(err, "write grid index")
	}
	for _, off := range offsets {
		if err := binary.Write(f, binary.LittleEndian, off); err != nil {
			return errors.Wrap(err, "write grid index")
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "write grid index")
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(idxBlock)); err != nil {
		return errors.Wrap(err, "write grid index")
	}
	return errors.Wrap(f.Sync(), "write grid index")
}

// SaveGridText writes the same S(Q, E) grid as SaveGrid in a plain text
// format, one block per Q point with one line per magnon branch.
func (m *Model) SaveGridText(ctx context.Context, w io.Writer,
	qStart, qEnd cmat.Vec3, numH, numK, numL int,
	withWeights, useProjector bool) error {

	if numH < 1 || numK < 1 || numL < 1 {
		return errors.Errorf("invalid grid dimensions %d x %d x %d", numH, numK, numL)
	}

	inc := cmat.Vec3{
		(qEnd[0] - qStart[0]) / float64(numH),
		(qEnd[1] - qStart[1]) / float64(numK),
		(qEnd[2] - qStart[2]) / float64(numL),
	}

	cells, err := m.calcGridCells(ctx, qStart, inc, numH, numK, numL, withWeights, useProjector)
	if err != nil {
		return err
	}

	for hIdx := 0; hIdx < numH; hIdx++ {
		for kIdx := 0; kIdx < numK; kIdx++ {
			for lIdx := 0; lIdx < numL; lIdx++ {
				h := qStart[0] + inc[0]*float64(hIdx)
				k := qStart[1] + inc[1]*float64(kIdx)
				l := qStart[2] + inc[2]*float64(lIdx)

				if _, err := fmt.Fprintf(w, "Q = %g %g %g:\n", h, k, l); err != nil {
					return errors.Wrap(err, "write grid text")
				}
				cell := &cells[(hIdx*numK+kIdx)*numL+lIdx]
				for j := range cell.energies {
					_, err := fmt.Fprintf(w, "\tE = %g, S = %g\n",
						cell.energies[j], cell.weights[j])
					if err != nil {
						return errors.Wrap(err, "write grid text")
					}
				}
			}
		}
	}
	return nil
}

// calcGridCells calculates the grid in parallel, one task per (h, k)
// column. Cells are ordered h-major, then k, then l.
func (m *Model) calcGridCells(ctx context.Context,
	qStart, inc cmat.Vec3, numH, numK, numL int,
	withWeights, useProjector bool) ([]gridCell, error) {

	// The calculation only reads the model, but work on a copy so a
	// caller mutating m during a long export cannot corrupt the grid.
	dyn := m.Copy()

	cells := make([]gridCell, numH*numK*numL)

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(dyn.numThreads)

	for hIdx := 0; hIdx < numH; hIdx++ {
		for kIdx := 0; kIdx < numK; kIdx++ {
			hIdx, kIdx := hIdx, kIdx
			grp.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}

				h := qStart[0] + inc[0]*float64(hIdx)
				k := qStart[1] + inc[1]*float64(kIdx)

				for lIdx := 0; lIdx < numL; lIdx++ {
					l := qStart[2] + inc[2]*float64(lIdx)

					eAndS, err := dyn.CalcEnergiesHKL(h, k, l, !withWeights)
					if err != nil {
						return err
					}

					cell := gridCell{
						energies: make([]float64, 0, len(eAndS)),
						weights:  make([]float64, 0, len(eAndS)),
					}
					for i := range eAndS {
						e := eAndS[i].E
						if math.IsNaN(e) || math.IsInf(e, 0) {
							continue
						}
						w := eAndS[i].Weight
						if !useProjector {
							w = real(cTrace3(eAndS[i].S))
						}
						if math.IsNaN(w) || math.IsInf(w, 0) {
							w = 0
						}
						cell.energies = append(cell.energies, e)
						cell.weights = append(cell.weights, w)
					}
					cells[(hIdx*numK+kIdx)*numL+lIdx] = cell
				}
				return nil
			})
		}
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return cells, nil
}
