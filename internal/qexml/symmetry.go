package qexml

import (
	"fmt"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
)

const (
	crystalSymmetry = "crystal_symmetry"
	latticeSymmetry = "lattice_symmetry"
)

func decodeSymmetries(x *espressoXML, p *domain.ParsedParameters) error {
	f := &fields{}
	sy := x.Output.Symmetries
	flags := x.Input.SymmetryFlags

	p.NumberOfSymmetries = need(f, sy.NSym, "output/symmetries/nsym")
	p.NumberOfBravaisSymmetries = need(f, sy.NRot, "output/symmetries/nrot")
	p.DoNotUseTimeReversal = need(f, flags.NoInv, "input/symmetry_flags/noinv")
	p.NoTimeRevOperations = need(f, flags.NoTRev, "input/symmetry_flags/no_t_rev")
	if f.err != nil {
		return f.err
	}

	p.Symmetries = []domain.Symmetry{}
	p.LatticeSymmetries = []domain.Symmetry{}
	for i, s := range sy.Symmetry {
		at := fmt.Sprintf("output/symmetries/symmetry[%d]", i)
		if !f.require(s.Info != nil, at+"/info") {
			return f.err
		}
		kind := strings.TrimSpace(s.Info.Type)

		op := domain.Symmetry{Name: s.Info.Name, TRev: "0"}
		if s.Rotation == nil {
			f.missing(at + "/rotation")
			return f.err
		}
		if len(s.Rotation) != 9 {
			f.violated("%s/rotation: want 9 components, got %d", at, len(s.Rotation))
			return f.err
		}
		for r := 0; r < 3; r++ {
			copy(op.Rotation[r][:], s.Rotation[3*r:3*r+3])
		}
		if s.EquivalentAtoms != nil {
			op.EquivalentAtoms = []int(s.EquivalentAtoms)
		}
		if s.FractionalTranslation != nil {
			op.FractionalTranslation = []float64(s.FractionalTranslation)
		}

		switch kind {
		case crystalSymmetry:
			if strings.EqualFold(op.Name, "inversion") {
				p.InversionSymmetry = true
			}
			p.Symmetries = append(p.Symmetries, op)
		case latticeSymmetry:
			p.LatticeSymmetries = append(p.LatticeSymmetries, op)
		default:
			return fmt.Errorf("%w: %q at %s", domain.ErrUnknownSymmetryType, kind, at)
		}
	}
	return nil
}
