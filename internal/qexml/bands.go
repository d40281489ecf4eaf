package qexml

import (
	"fmt"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/units"
)

// decodeBands extracts k-points and the per-channel eigenvalue and
// occupation arrays. Eigenvalues are converted to eV, k-points to 1/angstrom.
func decodeBands(x *espressoXML, layout bandLayout, out *domain.ParsedOutput) error {
	f := &fields{}
	bs := x.Output.BandStructure
	p := &out.Parameters

	nks := need(f, bs.NKs, "output/band_structure/nks")
	alat := need(f, x.Output.AtomicStructure.Alat, "output/atomic_structure/@alat")
	if f.err != nil {
		return f.err
	}
	p.NumberOfKPoints = nks
	scale := units.ReciprocalScale(alat * units.BohrToAngstrom)

	channels := layout.channels()
	eig := make([][][]float64, channels)
	occ := make([][][]float64, channels)
	p.KPoints = make([][3]float64, 0, len(bs.KSEnergies))
	p.KPointsWeights = make([]float64, 0, len(bs.KSEnergies))

	for i, ks := range bs.KSEnergies {
		at := fmt.Sprintf("output/band_structure/ks_energies[%d]", i)
		if !f.require(ks.KPoint != nil, at+"/k_point") {
			return f.err
		}
		k := vec3(f, ks.KPoint.Coords, at+"/k_point")
		w := need(f, ks.KPoint.Weight, at+"/k_point/@weight")
		f.require(ks.Eigenvalues != nil, at+"/eigenvalues")
		f.require(ks.Occupations != nil, at+"/occupations")
		if f.err != nil {
			return f.err
		}
		p.KPoints = append(p.KPoints, units.Scale(k, scale))
		p.KPointsWeights = append(p.KPointsWeights, w)

		energies := units.ScaleAll(ks.Eigenvalues, units.HartreeToEV)
		if !layout.spins {
			eig[0] = append(eig[0], energies)
			occ[0] = append(occ[0], []float64(ks.Occupations))
			continue
		}
		if len(energies) != layout.nbnd || len(ks.Occupations) != layout.nbnd {
			return fmt.Errorf("%w: %s: want %d eigenvalues and occupations, got %d and %d",
				domain.ErrSchemaInvariantViolation, at, layout.nbnd, len(energies), len(ks.Occupations))
		}
		up := layout.nbndUp
		eig[0] = append(eig[0], energies[:up])
		eig[1] = append(eig[1], energies[up:])
		occ[0] = append(occ[0], []float64(ks.Occupations[:up]))
		occ[1] = append(occ[1], []float64(ks.Occupations[up:]))
	}

	out.Bands = domain.BandsData{Bands: eig, Occupations: occ, BandsUnits: "eV"}
	if err := checkShape("band_eigenvalues", eig, channels, nks, layout.perChannel); err != nil {
		return err
	}
	return checkShape("band_occupations", occ, channels, nks, layout.perChannel)
}

func checkShape(name string, a [][][]float64, channels, nks, nbnd int) error {
	c, k, b, ok := domain.BandsData{Bands: a}.Shape()
	if !ok {
		return fmt.Errorf("%w: %s is ragged", domain.ErrSchemaInvariantViolation, name)
	}
	if nks == 0 {
		// an empty channel has no band axis to compare
		b = nbnd
	}
	if c != channels || k != nks || b != nbnd {
		return fmt.Errorf("%w: unexpected shape of %s: got (%d, %d, %d), want (%d, %d, %d)",
			domain.ErrSchemaInvariantViolation, name, c, k, b, channels, nks, nbnd)
	}
	return nil
}
