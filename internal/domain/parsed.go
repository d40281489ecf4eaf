package domain

import (
	"encoding/json"
	"fmt"
)

// ParsedOutput is the normalized content of a pw.x XML output document.
type ParsedOutput struct {
	Parameters ParsedParameters
	Structure  ParsedStructure
	Bands      BandsData
}

// ParsedParameters is the flat metadata/physics record. Energies are in eV,
// k-points in 1/angstrom.
type ParsedParameters struct {
	XMLWarnings      []string `json:"xml_warnings"`
	LKPointDir       bool     `json:"lkpoint_dir"`
	ChargeDensity    string   `json:"charge_density"`
	RhoCutoffUnits   string   `json:"rho_cutoff_units"`
	WfcCutoffUnits   string   `json:"wfc_cutoff_units"`
	FermiEnergyUnits string   `json:"fermi_energy_units"`
	KPointsUnits     string   `json:"k_points_units"`
	SymmetriesUnits  string   `json:"symmetries_units"`

	FormatName     string `json:"format_name"`
	FormatVersion  string `json:"format_version"`
	CreatorName    string `json:"creator_name"`
	CreatorVersion string `json:"creator_version"`

	Occupations            string    `json:"occupations"`
	LSDA                   bool      `json:"lsda"`
	NonColinearCalculation bool      `json:"non_colinear_calculation"`
	SpinOrbitCalculation   bool      `json:"spin_orbit_calculation"`
	SpinOrbitDomag         bool      `json:"spin_orbit_domag"`
	DoMagnetization        bool      `json:"do_magnetization"`
	TimeReversalFlag       bool      `json:"time_reversal_flag"`
	NumberOfSpinComponents int       `json:"number_of_spin_components"`
	ConstraintMag          int       `json:"constraint_mag"`
	StartingMagnetization  []float64 `json:"starting_magnetization"`
	MagnetizationAngle1    []float64 `json:"magnetization_angle1"`
	MagnetizationAngle2    []float64 `json:"magnetization_angle2"`
	FermiEnergy            *float64  `json:"fermi_energy,omitempty"`
	NumberOfElectrons      float64   `json:"number_of_electrons"`
	NumberOfAtomicWfc      int       `json:"number_of_atomic_wfc"`
	NumberOfBands          int       `json:"number_of_bands"`
	HasElectricField       bool      `json:"has_electric_field"`
	HasDipoleCorrection    bool      `json:"has_dipole_correction"`
	LDAPlusUCalculation    bool      `json:"lda_plus_u_calculation"`
	DFTExchangeCorrelation string    `json:"dft_exchange_correlation"`

	NumberOfKPoints     int          `json:"number_of_k_points"`
	KPoints             [][3]float64 `json:"k_points"`
	KPointsWeights      []float64    `json:"k_points_weights"`
	MonkhorstPackGrid   *[3]int      `json:"monkhorst_pack_grid,omitempty"`
	MonkhorstPackOffset *[3]int      `json:"monkhorst_pack_offset,omitempty"`

	Symmetries                []Symmetry `json:"symmetries"`
	LatticeSymmetries         []Symmetry `json:"lattice_symmetries"`
	InversionSymmetry         bool       `json:"inversion_symmetry"`
	DoNotUseTimeReversal      bool       `json:"do_not_use_time_reversal"`
	NoTimeRevOperations       bool       `json:"no_time_rev_operations"`
	NumberOfBravaisSymmetries int        `json:"number_of_bravais_symmetries"`
	NumberOfSymmetries        int        `json:"number_of_symmetries"`

	WfcCutoff     float64 `json:"wfc_cutoff"`
	RhoCutoff     float64 `json:"rho_cutoff"`
	FFTGrid       [3]int  `json:"fft_grid"`
	SmoothFFTGrid [3]int  `json:"smooth_fft_grid"`

	QRealSpace     bool    `json:"q_real_space"`
	BetaRealSpace  *bool   `json:"beta_real_space,omitempty"`
	AssumeIsolated *string `json:"assume_isolated,omitempty"`

	FixedOccupations  *bool `json:"fixed_occupations,omitempty"`
	TetrahedronMethod *bool `json:"tetrahedron_method,omitempty"`
	SmearingMethod    *bool `json:"smearing_method,omitempty"`
}

// Symmetry is one symmetry operation in crystal coordinates.
type Symmetry struct {
	Name                  string        `json:"name"`
	Rotation              [3][3]float64 `json:"rotation"`
	TRev                  string        `json:"t_rev"`
	EquivalentAtoms       []int         `json:"equivalent_atoms,omitempty"`
	FractionalTranslation []float64     `json:"fractional_translation,omitempty"`
}

// BandsData is indexed [spin channel][k-point][band].
type BandsData struct {
	Occupations [][][]float64 `json:"occupations"`
	Bands       [][][]float64 `json:"bands"`
	BandsUnits  string        `json:"bands_units"`
}

// Shape returns (channels, k-points, bands) of the eigenvalue array, or
// ok=false when the array is ragged.
func (b BandsData) Shape() (channels, kpoints, bands int, ok bool) {
	return shape3(b.Bands)
}

func shape3(a [][][]float64) (int, int, int, bool) {
	channels := len(a)
	if channels == 0 {
		return 0, 0, 0, true
	}
	kpoints := len(a[0])
	bands := -1
	for _, ch := range a {
		if len(ch) != kpoints {
			return 0, 0, 0, false
		}
		for _, k := range ch {
			if bands == -1 {
				bands = len(k)
			}
			if len(k) != bands {
				return 0, 0, 0, false
			}
		}
	}
	if bands == -1 {
		bands = 0
	}
	return channels, kpoints, bands, true
}

// ParsedStructure is the structure record decoded from the XML output.
// Lengths are in angstrom.
type ParsedStructure struct {
	AtomicPositionsUnits      string        `json:"atomic_positions_units"`
	DirectLatticeVectorsUnits string        `json:"direct_lattice_vectors_units"`
	NumberOfAtoms             int           `json:"number_of_atoms"`
	LatticeParameter          float64       `json:"lattice_parameter"`
	LatticeParameterXML       float64       `json:"lattice_parameter_xml"`
	ReciprocalLatticeVectors  [3][3]float64 `json:"reciprocal_lattice_vectors"`
	Atoms                     []ParsedAtom  `json:"atoms"`
	Cell                      ParsedCell    `json:"cell"`
	NumberOfSpecies           int           `json:"number_of_species"`
	Species                   ParsedSpecies `json:"species"`
}

type ParsedCell struct {
	LatticeVectors [3][3]float64 `json:"lattice_vectors"`
	Volume         float64       `json:"volume"`
	Atoms          []ParsedAtom  `json:"atoms"`
}

type ParsedSpecies struct {
	Index  []int     `json:"index"`
	Pseudo []string  `json:"pseudo"`
	Mass   []float64 `json:"mass"`
	Type   []string  `json:"type"`
}

// ParsedAtom serializes as the historical [name, [x, y, z]] pair.
type ParsedAtom struct {
	Name     string
	Position [3]float64
}

func (a ParsedAtom) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Name, a.Position})
}

func (a *ParsedAtom) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("atom: want [name, position], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &a.Name); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Position)
}

// ToStructure converts the decoded record into a Structure usable as the
// input of a follow-up calculation.
func (s ParsedStructure) ToStructure() *Structure {
	out := &Structure{Cell: s.Cell.LatticeVectors}
	for i, name := range s.Species.Type {
		k := Kind{Name: name, Symbol: SymbolFromKindName(name)}
		if i < len(s.Species.Mass) {
			k.Mass = s.Species.Mass[i]
		}
		out.Kinds = append(out.Kinds, k)
	}
	for _, a := range s.Atoms {
		out.Sites = append(out.Sites, Site{KindName: a.Name, Position: a.Position})
	}
	return out
}
