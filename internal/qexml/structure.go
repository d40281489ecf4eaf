package qexml

import (
	"fmt"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/units"
)

func decodeStructure(x *espressoXML, s *domain.ParsedStructure) error {
	f := &fields{}
	as := x.Output.AtomicStructure
	species := x.Output.AtomicSpecies
	recip := x.Output.BasisSet.ReciprocalLattice

	alat := need(f, as.Alat, "output/atomic_structure/@alat")
	s.NumberOfAtoms = need(f, as.Nat, "output/atomic_structure/@nat")
	s.NumberOfSpecies = need(f, species.NTyp, "output/atomic_species/@ntyp")

	s.AtomicPositionsUnits = "Angstrom"
	s.DirectLatticeVectorsUnits = "Angstrom"
	s.LatticeParameterXML = alat
	s.LatticeParameter = alat * units.BohrToAngstrom

	s.Cell.LatticeVectors = [3][3]float64{
		units.Scale(vec3(f, as.Cell.A1, "output/atomic_structure/cell/a1"), units.BohrToAngstrom),
		units.Scale(vec3(f, as.Cell.A2, "output/atomic_structure/cell/a2"), units.BohrToAngstrom),
		units.Scale(vec3(f, as.Cell.A3, "output/atomic_structure/cell/a3"), units.BohrToAngstrom),
	}
	lv := s.Cell.LatticeVectors
	s.Cell.Volume = units.CellVolume(lv[0], lv[1], lv[2])

	s.ReciprocalLatticeVectors = [3][3]float64{
		vec3(f, recip.B1, "output/basis_set/reciprocal_lattice/b1"),
		vec3(f, recip.B2, "output/basis_set/reciprocal_lattice/b2"),
		vec3(f, recip.B3, "output/basis_set/reciprocal_lattice/b3"),
	}

	s.Atoms = make([]domain.ParsedAtom, 0, len(as.Positions.Atoms))
	for i, a := range as.Positions.Atoms {
		pos := vec3(f, a.Coords, fmt.Sprintf("output/atomic_structure/atomic_positions/atom[%d]", i))
		s.Atoms = append(s.Atoms, domain.ParsedAtom{Name: a.Name, Position: units.Scale(pos, units.BohrToAngstrom)})
	}
	s.Cell.Atoms = s.Atoms

	s.Species = domain.ParsedSpecies{
		Index:  make([]int, 0, len(species.Species)),
		Pseudo: make([]string, 0, len(species.Species)),
		Mass:   make([]float64, 0, len(species.Species)),
		Type:   make([]string, 0, len(species.Species)),
	}
	for i, sp := range species.Species {
		at := fmt.Sprintf("output/atomic_species/species[%d]", i)
		s.Species.Index = append(s.Species.Index, i+1)
		s.Species.Pseudo = append(s.Species.Pseudo, need(f, sp.PseudoFile, at+"/pseudo_file"))
		s.Species.Mass = append(s.Species.Mass, need(f, sp.Mass, at+"/mass"))
		s.Species.Type = append(s.Species.Type, sp.Name)
	}

	return f.err
}
