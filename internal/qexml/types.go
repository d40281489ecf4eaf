package qexml

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// The structs below mirror the subset of the qes schema the decoder reads.
// Pointer fields distinguish an absent element from a zero value.

type espressoXML struct {
	XMLName     xml.Name        `xml:"espresso"`
	GeneralInfo *generalInfoXML `xml:"general_info"`
	Input       *inputXML       `xml:"input"`
	Output      *outputXML      `xml:"output"`
}

type generalInfoXML struct {
	XMLFormat *namedVersionXML `xml:"xml_format"`
	Creator   *namedVersionXML `xml:"creator"`
}

type namedVersionXML struct {
	Name    string `xml:"NAME,attr"`
	Version string `xml:"VERSION,attr"`
	Value   string `xml:",chardata"`
}

type inputXML struct {
	DFT             *dftXML             `xml:"dft"`
	Spin            *spinXML            `xml:"spin"`
	Bands           *inputBandsXML      `xml:"bands"`
	Basis           *inputBasisXML      `xml:"basis"`
	KPointsIBZ      *kPointsIBZXML      `xml:"k_points_IBZ"`
	SymmetryFlags   *symmetryFlagsXML   `xml:"symmetry_flags"`
	ElectricField   *electricFieldXML   `xml:"electric_field"`
	SpinConstraints *spinConstraintsXML `xml:"spin_constraints"`
}

type dftXML struct {
	Functional *string   `xml:"functional"`
	DFTU       *struct{} `xml:"dftU"`
}

type spinXML struct {
	LSDA      *bool `xml:"lsda"`
	Noncolin  *bool `xml:"noncolin"`
	SpinOrbit *bool `xml:"spinorbit"`
}

type inputBandsXML struct {
	Smearing    *smearingXML    `xml:"smearing"`
	Occupations *occupationsXML `xml:"occupations"`
}

type smearingXML struct {
	Degauss *float64 `xml:"degauss,attr"`
	Value   string   `xml:",chardata"`
}

type occupationsXML struct {
	Spin  *int   `xml:"spin,attr"`
	Value string `xml:",chardata"`
}

type inputBasisXML struct {
	EcutWfc *float64 `xml:"ecutwfc"`
	EcutRho *float64 `xml:"ecutrho"`
}

type kPointsIBZXML struct {
	MonkhorstPack *monkhorstPackXML `xml:"monkhorst_pack"`
}

type monkhorstPackXML struct {
	NK1 int `xml:"nk1,attr"`
	NK2 int `xml:"nk2,attr"`
	NK3 int `xml:"nk3,attr"`
	K1  int `xml:"k1,attr"`
	K2  int `xml:"k2,attr"`
	K3  int `xml:"k3,attr"`
}

type symmetryFlagsXML struct {
	NoSym  *bool `xml:"nosym"`
	NoInv  *bool `xml:"noinv"`
	NoTRev *bool `xml:"no_t_rev"`
}

type electricFieldXML struct {
	ElectricPotential *string `xml:"electric_potential"`
	DipoleCorrection  *bool   `xml:"dipole_correction"`
}

type spinConstraintsXML struct {
	SpinConstraints *string `xml:"spin_constraints"`
}

type outputXML struct {
	AlgorithmicInfo    *algorithmicInfoXML    `xml:"algorithmic_info"`
	AtomicSpecies      *atomicSpeciesXML      `xml:"atomic_species"`
	AtomicStructure    *atomicStructureXML    `xml:"atomic_structure"`
	Symmetries         *symmetriesXML         `xml:"symmetries"`
	BasisSet           *basisSetXML           `xml:"basis_set"`
	DFT                *dftXML                `xml:"dft"`
	BoundaryConditions *boundaryConditionsXML `xml:"boundary_conditions"`
	Magnetization      *magnetizationXML      `xml:"magnetization"`
	BandStructure      *bandStructureXML      `xml:"band_structure"`
}

type algorithmicInfoXML struct {
	RealSpaceQ    *bool `xml:"real_space_q"`
	RealSpaceBeta *bool `xml:"real_space_beta"`
}

type atomicSpeciesXML struct {
	NTyp    *int         `xml:"ntyp,attr"`
	Species []speciesXML `xml:"species"`
}

type speciesXML struct {
	Name                  string   `xml:"name,attr"`
	Mass                  *float64 `xml:"mass"`
	PseudoFile            *string  `xml:"pseudo_file"`
	StartingMagnetization *float64 `xml:"starting_magnetization"`
	MagnetizationAngle1   *float64 `xml:"magnetization_angle1"`
	MagnetizationAngle2   *float64 `xml:"magnetization_angle2"`
}

type atomicStructureXML struct {
	Nat       *int                `xml:"nat,attr"`
	Alat      *float64            `xml:"alat,attr"`
	Positions *atomicPositionsXML `xml:"atomic_positions"`
	Cell      *cellXML            `xml:"cell"`
}

type atomicPositionsXML struct {
	Atoms []atomXML `xml:"atom"`
}

type atomXML struct {
	Name   string    `xml:"name,attr"`
	Coords floatList `xml:",chardata"`
}

type cellXML struct {
	A1 floatList `xml:"a1"`
	A2 floatList `xml:"a2"`
	A3 floatList `xml:"a3"`
}

type symmetriesXML struct {
	NSym     *int          `xml:"nsym"`
	NRot     *int          `xml:"nrot"`
	Symmetry []symmetryXML `xml:"symmetry"`
}

type symmetryXML struct {
	Info                  *symmetryInfoXML `xml:"info"`
	Rotation              floatList        `xml:"rotation"`
	FractionalTranslation floatList        `xml:"fractional_translation"`
	EquivalentAtoms       intList          `xml:"equivalent_atoms"`
}

type symmetryInfoXML struct {
	Name string `xml:"name,attr"`
	Type string `xml:",chardata"`
}

type basisSetXML struct {
	EcutRho           *float64              `xml:"ecutrho"`
	FFTGrid           *fftGridXML           `xml:"fft_grid"`
	FFTSmooth         *fftGridXML           `xml:"fft_smooth"`
	ReciprocalLattice *reciprocalLatticeXML `xml:"reciprocal_lattice"`
}

type fftGridXML struct {
	NR1 int `xml:"nr1,attr"`
	NR2 int `xml:"nr2,attr"`
	NR3 int `xml:"nr3,attr"`
}

type reciprocalLatticeXML struct {
	B1 floatList `xml:"b1"`
	B2 floatList `xml:"b2"`
	B3 floatList `xml:"b3"`
}

type boundaryConditionsXML struct {
	AssumeIsolated *string `xml:"assume_isolated"`
}

type magnetizationXML struct {
	Noncolin        *bool `xml:"noncolin"`
	DoMagnetization *bool `xml:"do_magnetization"`
}

type bandStructureXML struct {
	NBnd            *int            `xml:"nbnd"`
	NBndUp          *int            `xml:"nbnd_up"`
	NBndDw          *int            `xml:"nbnd_dw"`
	NElec           *float64        `xml:"nelec"`
	NumAtomicWfc    *int            `xml:"num_of_atomic_wfc"`
	FermiEnergy     *float64        `xml:"fermi_energy"`
	NKs             *int            `xml:"nks"`
	OccupationsKind *occupationsXML `xml:"occupations_kind"`
	Smearing        *smearingXML    `xml:"smearing"`
	KSEnergies      []ksEnergiesXML `xml:"ks_energies"`
}

type ksEnergiesXML struct {
	KPoint      *kPointXML `xml:"k_point"`
	Eigenvalues floatList  `xml:"eigenvalues"`
	Occupations floatList  `xml:"occupations"`
}

type kPointXML struct {
	Weight *float64  `xml:"weight,attr"`
	Coords floatList `xml:",chardata"`
}

// floatList is a whitespace separated list of reals. A present but empty
// element decodes to a non-nil empty slice.
type floatList []float64

func (f *floatList) UnmarshalText(b []byte) error {
	fields := strings.Fields(string(b))
	out := make(floatList, 0, len(fields))
	for _, s := range fields {
		v, err := strconv.ParseFloat(fortranExponent(s), 64)
		if err != nil {
			return fmt.Errorf("parse real %q: %w", s, err)
		}
		out = append(out, v)
	}
	*f = out
	return nil
}

type intList []int

func (l *intList) UnmarshalText(b []byte) error {
	fields := strings.Fields(string(b))
	out := make(intList, 0, len(fields))
	for _, s := range fields {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("parse integer %q: %w", s, err)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// fortranExponent rewrites Fortran double precision exponents (1.0D-3).
func fortranExponent(s string) string {
	return strings.NewReplacer("D", "E", "d", "e").Replace(s)
}
