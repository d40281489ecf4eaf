package qexml

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/units"
	"github.com/spf13/afero"
)

// Options tune the decoder output.
type Options struct {
	// IncludeDeprecatedV2Keys adds fixed_occupations, tetrahedron_method and
	// smearing_method, derived from the occupations string the way the
	// pre-XML output format reported them.
	IncludeDeprecatedV2Keys bool
}

// ParseFile reads the document at name, resolves its schema and decodes it.
func ParseFile(fs afero.Fs, name string, resolver *Resolver, opts Options, logger *slog.Logger) (*domain.ParsedOutput, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrDocument, name, err)
	}
	defer f.Close()

	doc, err := ReadDocument(f)
	if err != nil {
		return nil, err
	}
	schema, err := resolver.Resolve(doc)
	if err != nil {
		return nil, err
	}
	return Decode(doc, schema, opts, logger)
}

// Decode validates doc against schema in lax mode and extracts the parameter,
// structure and bands records. Validation problems end up in
// Parameters.XMLWarnings; missing required data and violated consistency
// checks are fatal.
func Decode(doc *Document, schema *Schema, opts Options, logger *slog.Logger) (*domain.ParsedOutput, error) {
	var x espressoXML
	if err := xml.Unmarshal(doc.raw, &x); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDocument, err)
	}
	if err := checkSections(&x); err != nil {
		return nil, err
	}

	out := &domain.ParsedOutput{}
	p := &out.Parameters
	p.XMLWarnings = append([]string{}, schema.Validate(doc)...)
	for _, w := range p.XMLWarnings {
		logger.Debug("xml validation warning", "schema", schema.Name, "warning", w)
	}

	p.LKPointDir = false
	p.ChargeDensity = "./charge-density.dat"
	p.RhoCutoffUnits = "eV"
	p.WfcCutoffUnits = "eV"
	p.FermiEnergyUnits = "eV"
	p.KPointsUnits = "1 / angstrom"
	p.SymmetriesUnits = "crystal"

	if err := decodeMetadata(&x, p); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	layout, err := decodeElectronic(&x, p, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("decode electronic state: %w", err)
	}
	if err := decodeSymmetries(&x, p); err != nil {
		return nil, fmt.Errorf("decode symmetries: %w", err)
	}
	if err := decodeBands(&x, layout, out); err != nil {
		return nil, fmt.Errorf("decode bands: %w", err)
	}
	if err := decodeStructure(&x, &out.Structure); err != nil {
		return nil, fmt.Errorf("decode structure: %w", err)
	}
	return out, nil
}

// fields collects the outcome of the required-field checks of one group and
// keeps the first failure.
type fields struct {
	err error
}

func (f *fields) missing(path string) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s", domain.ErrRequiredFieldMissing, path)
	}
}

func (f *fields) violated(format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s", domain.ErrSchemaInvariantViolation, fmt.Sprintf(format, args...))
	}
}

func (f *fields) require(present bool, path string) bool {
	if !present {
		f.missing(path)
	}
	return present
}

// need dereferences a required value, recording path when it is absent.
func need[T any](f *fields, v *T, path string) T {
	if v == nil {
		f.missing(path)
		var zero T
		return zero
	}
	return *v
}

func vec3(f *fields, l floatList, path string) [3]float64 {
	var v [3]float64
	if l == nil {
		f.missing(path)
		return v
	}
	if len(l) != 3 {
		f.violated("%s: want 3 components, got %d", path, len(l))
		return v
	}
	copy(v[:], l)
	return v
}

// checkSections guards every container element the groups dereference.
func checkSections(x *espressoXML) error {
	f := &fields{}
	if f.require(x.GeneralInfo != nil, "general_info") {
		f.require(x.GeneralInfo.XMLFormat != nil, "general_info/xml_format")
		f.require(x.GeneralInfo.Creator != nil, "general_info/creator")
	}
	if in := x.Input; f.require(in != nil, "input") {
		f.require(in.DFT != nil, "input/dft")
		f.require(in.Spin != nil, "input/spin")
		if f.require(in.Bands != nil, "input/bands") {
			f.require(in.Bands.Occupations != nil, "input/bands/occupations")
		}
		f.require(in.Basis != nil, "input/basis")
		f.require(in.SymmetryFlags != nil, "input/symmetry_flags")
	}
	if o := x.Output; f.require(o != nil, "output") {
		f.require(o.AlgorithmicInfo != nil, "output/algorithmic_info")
		f.require(o.AtomicSpecies != nil, "output/atomic_species")
		if f.require(o.AtomicStructure != nil, "output/atomic_structure") {
			f.require(o.AtomicStructure.Cell != nil, "output/atomic_structure/cell")
			f.require(o.AtomicStructure.Positions != nil, "output/atomic_structure/atomic_positions")
		}
		f.require(o.Symmetries != nil, "output/symmetries")
		if f.require(o.BasisSet != nil, "output/basis_set") {
			f.require(o.BasisSet.FFTGrid != nil, "output/basis_set/fft_grid")
			f.require(o.BasisSet.FFTSmooth != nil, "output/basis_set/fft_smooth")
			f.require(o.BasisSet.ReciprocalLattice != nil, "output/basis_set/reciprocal_lattice")
		}
		f.require(o.Magnetization != nil, "output/magnetization")
		f.require(o.BandStructure != nil, "output/band_structure")
	}
	return f.err
}

func decodeMetadata(x *espressoXML, p *domain.ParsedParameters) error {
	f := &fields{}
	in, o := x.Input, x.Output

	p.FormatName = x.GeneralInfo.XMLFormat.Name
	p.FormatVersion = x.GeneralInfo.XMLFormat.Version
	p.CreatorName = strings.ToLower(x.GeneralInfo.Creator.Name)
	p.CreatorVersion = x.GeneralInfo.Creator.Version

	p.DFTExchangeCorrelation = need(f, in.DFT.Functional, "input/dft/functional")
	p.LDAPlusUCalculation = o.DFT != nil && o.DFT.DFTU != nil

	p.WfcCutoff = need(f, in.Basis.EcutWfc, "input/basis/ecutwfc") * units.HartreeToEV
	p.RhoCutoff = need(f, o.BasisSet.EcutRho, "output/basis_set/ecutrho") * units.HartreeToEV
	p.FFTGrid = gridOf(o.BasisSet.FFTGrid)
	p.SmoothFFTGrid = gridOf(o.BasisSet.FFTSmooth)

	p.QRealSpace = need(f, o.AlgorithmicInfo.RealSpaceQ, "output/algorithmic_info/real_space_q")
	p.BetaRealSpace = o.AlgorithmicInfo.RealSpaceBeta
	if bc := o.BoundaryConditions; bc != nil && bc.AssumeIsolated != nil {
		v := strings.TrimSpace(*bc.AssumeIsolated)
		p.AssumeIsolated = &v
	}

	if k := in.KPointsIBZ; k != nil && k.MonkhorstPack != nil {
		mp := k.MonkhorstPack
		p.MonkhorstPackGrid = &[3]int{mp.NK1, mp.NK2, mp.NK3}
		p.MonkhorstPackOffset = &[3]int{mp.K1, mp.K2, mp.K3}
	}

	if ef := in.ElectricField; ef != nil {
		p.HasElectricField = ef.ElectricPotential != nil && strings.TrimSpace(*ef.ElectricPotential) == "sawtooth_potential"
		p.HasDipoleCorrection = ef.DipoleCorrection != nil && *ef.DipoleCorrection
	}
	if sc := in.SpinConstraints; sc != nil && sc.SpinConstraints != nil {
		p.ConstraintMag = constraintMag(strings.TrimSpace(*sc.SpinConstraints))
	}

	return f.err
}

func gridOf(g *fftGridXML) [3]int {
	return [3]int{g.NR1, g.NR2, g.NR3}
}

func constraintMag(kind string) int {
	switch kind {
	case "atomic":
		return 1
	case "atomic direction":
		return 2
	case "total":
		return 3
	case "total direction":
		return 6
	}
	return 0
}
