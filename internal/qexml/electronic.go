package qexml

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/units"
)

// bandLayout describes how the flat per-k-point eigenvalue vectors split
// into spin channels.
type bandLayout struct {
	spins      bool
	nbnd       int
	nbndUp     int
	perChannel int
}

func (l bandLayout) channels() int {
	if l.spins {
		return 2
	}
	return 1
}

func decodeElectronic(x *espressoXML, p *domain.ParsedParameters, opts Options, logger *slog.Logger) (bandLayout, error) {
	f := &fields{}
	in, o := x.Input, x.Output
	bs := o.BandStructure

	p.Occupations = strings.TrimSpace(in.Bands.Occupations.Value)

	p.LSDA = need(f, in.Spin.LSDA, "input/spin/lsda")
	p.SpinOrbitCalculation = need(f, in.Spin.SpinOrbit, "input/spin/spinorbit")
	p.NonColinearCalculation = need(f, o.Magnetization.Noncolin, "output/magnetization/noncolin")
	p.DoMagnetization = need(f, o.Magnetization.DoMagnetization, "output/magnetization/do_magnetization")
	p.SpinOrbitDomag = p.DoMagnetization
	p.TimeReversalFlag = !(p.NonColinearCalculation && p.DoMagnetization)

	switch {
	case p.NonColinearCalculation || p.SpinOrbitCalculation:
		p.NumberOfSpinComponents = 4
	case p.LSDA:
		p.NumberOfSpinComponents = 2
	default:
		p.NumberOfSpinComponents = 1
	}

	p.StartingMagnetization = make([]float64, 0, len(o.AtomicSpecies.Species))
	p.MagnetizationAngle1 = make([]float64, 0, len(o.AtomicSpecies.Species))
	p.MagnetizationAngle2 = make([]float64, 0, len(o.AtomicSpecies.Species))
	for _, s := range o.AtomicSpecies.Species {
		p.StartingMagnetization = append(p.StartingMagnetization, orZero(s.StartingMagnetization))
		p.MagnetizationAngle1 = append(p.MagnetizationAngle1, orZero(s.MagnetizationAngle1))
		p.MagnetizationAngle2 = append(p.MagnetizationAngle2, orZero(s.MagnetizationAngle2))
	}

	if bs.FermiEnergy != nil {
		ef := *bs.FermiEnergy * units.HartreeToEV
		p.FermiEnergy = &ef
	}
	p.NumberOfElectrons = need(f, bs.NElec, "output/band_structure/nelec")
	p.NumberOfAtomicWfc = need(f, bs.NumAtomicWfc, "output/band_structure/num_of_atomic_wfc")
	nbnd := need(f, bs.NBnd, "output/band_structure/nbnd")
	if f.err != nil {
		return bandLayout{}, f.err
	}

	layout, err := detectSpins(nbnd, bs.NBndUp, bs.NBndDw)
	if err != nil {
		return bandLayout{}, err
	}
	p.NumberOfBands = layout.perChannel

	if opts.IncludeDeprecatedV2Keys {
		deprecatedOccupationKeys(x, p, logger)
	}
	return layout, nil
}

// detectSpins treats the run as spin-polarized when both per-channel band
// counts are present; they must then add up to the total.
func detectSpins(nbnd int, up, down *int) (bandLayout, error) {
	if up == nil && down == nil {
		return bandLayout{nbnd: nbnd, perChannel: nbnd}, nil
	}
	if up == nil || down == nil {
		return bandLayout{}, fmt.Errorf("%w: only one of nbnd_up and nbnd_dw is present", domain.ErrInconsistentBandCount)
	}
	if nbnd != *up+*down {
		return bandLayout{}, fmt.Errorf("%w: nbnd=%d, nbnd_up=%d, nbnd_dw=%d", domain.ErrInconsistentBandCount, nbnd, *up, *down)
	}
	return bandLayout{spins: true, nbnd: nbnd, nbndUp: *up, perChannel: *up}, nil
}

func deprecatedOccupationKeys(x *espressoXML, p *domain.ParsedParameters, logger *slog.Logger) {
	fixed := p.Occupations == "from_input"
	tetra := strings.Contains(p.Occupations, "tetrahedra")
	smearing := !fixed

	p.FixedOccupations = &fixed
	p.TetrahedronMethod = &tetra
	p.SmearingMethod = &smearing

	if smearing && x.Output.BandStructure.Smearing == nil && x.Input.Bands.Smearing == nil {
		logger.Warn("smearing not found under input/bands nor output/band_structure", "occupations", p.Occupations)
	}
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
