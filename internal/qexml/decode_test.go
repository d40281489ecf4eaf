package qexml_test

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/ErlanBelekov/pwchain/internal/units"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
)

const tolerance = 1e-9

func newResolver() *qexml.Resolver {
	fs := afero.NewReadOnlyFs(afero.NewOsFs())
	return qexml.NewResolver(fs, filepath.Join("..", "..", "schemas"), "", slog.Default())
}

// decodeFixture loads testdata/name, applies the old/new replacement pairs
// and decodes the result.
func decodeFixture(t *testing.T, name string, opts qexml.Options, logger *slog.Logger, replacements ...string) (*domain.ParsedOutput, error) {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	text := string(raw)
	for i := 0; i+1 < len(replacements); i += 2 {
		if !strings.Contains(text, replacements[i]) {
			t.Fatalf("fixture %s does not contain %q", name, replacements[i])
		}
		text = strings.ReplaceAll(text, replacements[i], replacements[i+1])
	}

	doc, err := qexml.ReadDocument(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	schema, err := newResolver().Resolve(doc)
	if err != nil {
		t.Fatalf("resolve schema: %v", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return qexml.Decode(doc, schema, opts, logger)
}

func mustDecode(t *testing.T, name string, replacements ...string) *domain.ParsedOutput {
	t.Helper()
	out, err := decodeFixture(t, name, qexml.Options{}, nil, replacements...)
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) <= tolerance*math.Max(1, math.Abs(b)) }

// ---- whole document ----

func TestDecode_NonSpinPolarized(t *testing.T) {
	out := mustDecode(t, "si.xml")
	p := out.Parameters

	if len(p.XMLWarnings) != 0 {
		t.Errorf("xml warnings = %v, want none", p.XMLWarnings)
	}
	if p.CreatorName != "pwscf" || p.CreatorVersion != "6.3" {
		t.Errorf("creator = %s %s, want pwscf 6.3", p.CreatorName, p.CreatorVersion)
	}
	if p.FormatName != "QEXSD_18.01.01" {
		t.Errorf("format name = %s", p.FormatName)
	}
	if p.NumberOfBands != 4 {
		t.Errorf("number_of_bands = %d, want 4", p.NumberOfBands)
	}
	if p.NumberOfSpinComponents != 1 || p.LSDA {
		t.Errorf("spin components = %d lsda = %v, want 1 false", p.NumberOfSpinComponents, p.LSDA)
	}
	if !p.TimeReversalFlag {
		t.Error("time_reversal_flag = false, want true")
	}
	if p.FermiEnergy == nil || !approx(*p.FermiEnergy, 0.2*units.HartreeToEV) {
		t.Errorf("fermi_energy = %v, want %v", p.FermiEnergy, 0.2*units.HartreeToEV)
	}
	if !approx(p.WfcCutoff, 15*units.HartreeToEV) || !approx(p.RhoCutoff, 60*units.HartreeToEV) {
		t.Errorf("cutoffs = %v/%v", p.WfcCutoff, p.RhoCutoff)
	}
	if p.FFTGrid != [3]int{24, 24, 24} || p.SmoothFFTGrid != [3]int{20, 20, 20} {
		t.Errorf("fft grids = %v %v", p.FFTGrid, p.SmoothFFTGrid)
	}
	if diff := cmp.Diff(&[3]int{2, 2, 2}, p.MonkhorstPackGrid); diff != "" {
		t.Errorf("monkhorst_pack_grid mismatch (-want +got):\n%s", diff)
	}
	if p.BetaRealSpace == nil || *p.BetaRealSpace {
		t.Errorf("beta_real_space = %v, want false", p.BetaRealSpace)
	}
	if p.AssumeIsolated != nil {
		t.Errorf("assume_isolated = %q, want absent", *p.AssumeIsolated)
	}
	if p.FixedOccupations != nil || p.SmearingMethod != nil || p.TetrahedronMethod != nil {
		t.Error("deprecated keys present without the option")
	}
	if p.KPointsUnits != "1 / angstrom" || out.Bands.BandsUnits != "eV" {
		t.Errorf("units = %q %q", p.KPointsUnits, out.Bands.BandsUnits)
	}
}

func TestDecode_KPointsInInverseAngstrom(t *testing.T) {
	out := mustDecode(t, "si.xml")
	p := out.Parameters

	scale := 2 * math.Pi / (10.2 * units.BohrToAngstrom)
	want := [][3]float64{
		{-0.25 * scale, 0.25 * scale, -0.25 * scale},
		{0.25 * scale, -0.25 * scale, 0.75 * scale},
	}
	if diff := cmp.Diff(want, p.KPoints, cmpopts.EquateApprox(0, tolerance)); diff != "" {
		t.Errorf("k_points mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.5, 1.5}, p.KPointsWeights); diff != "" {
		t.Errorf("k_points_weights mismatch (-want +got):\n%s", diff)
	}
	if p.NumberOfKPoints != 2 {
		t.Errorf("number_of_k_points = %d, want 2", p.NumberOfKPoints)
	}
}

func TestDecode_EigenvaluesConvertedToEV(t *testing.T) {
	out := mustDecode(t, "si.xml")

	got := out.Bands.Bands[0][0][0]
	if want := -0.2 * 27.211383860484776; !approx(got, want) {
		t.Errorf("first eigenvalue = %.12f eV, want %.12f", got, want)
	}
	if got := out.Bands.Bands[0][0][3]; !approx(got, units.HartreeToEV) {
		t.Errorf("1 Ha eigenvalue = %.12f eV, want %.12f", got, units.HartreeToEV)
	}
	if got := out.Bands.Occupations[0][1][3]; got != 0.5 {
		t.Errorf("occupation = %v, want 0.5 (unconverted)", got)
	}
}

func TestDecode_FortranExponent(t *testing.T) {
	out := mustDecode(t, "si.xml", "-0.2 0.1 0.15 1.0", "-2.0D-1 0.1 0.15 1.0")

	if got, want := out.Bands.Bands[0][0][0], -0.2*units.HartreeToEV; !approx(got, want) {
		t.Errorf("eigenvalue = %v, want %v", got, want)
	}
}

func TestDecode_Structure(t *testing.T) {
	out := mustDecode(t, "si.xml")
	s := out.Structure

	if s.NumberOfAtoms != 2 || s.NumberOfSpecies != 1 {
		t.Errorf("atoms/species = %d/%d, want 2/1", s.NumberOfAtoms, s.NumberOfSpecies)
	}
	if !approx(s.LatticeParameter, 10.2*units.BohrToAngstrom) || s.LatticeParameterXML != 10.2 {
		t.Errorf("lattice parameter = %v (xml %v)", s.LatticeParameter, s.LatticeParameterXML)
	}
	b := units.BohrToAngstrom
	if want := 265.302 * b * b * b; !approx(s.Cell.Volume, want) {
		t.Errorf("volume = %v, want %v", s.Cell.Volume, want)
	}
	wantAtoms := []domain.ParsedAtom{
		{Name: "Si", Position: [3]float64{0, 0, 0}},
		{Name: "Si", Position: [3]float64{2.55 * b, 2.55 * b, 2.55 * b}},
	}
	if diff := cmp.Diff(wantAtoms, s.Atoms, cmpopts.EquateApprox(0, tolerance)); diff != "" {
		t.Errorf("atoms mismatch (-want +got):\n%s", diff)
	}
	wantSpecies := domain.ParsedSpecies{
		Index:  []int{1},
		Pseudo: []string{"Si.pbe-rrkj.UPF"},
		Mass:   []float64{28.0855},
		Type:   []string{"Si"},
	}
	if diff := cmp.Diff(wantSpecies, s.Species); diff != "" {
		t.Errorf("species mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_SpinPolarized(t *testing.T) {
	out := mustDecode(t, "fe_lsda.xml")
	p := out.Parameters

	if len(p.XMLWarnings) != 0 {
		t.Errorf("xml warnings = %v, want none", p.XMLWarnings)
	}
	if p.NumberOfBands != 3 {
		t.Errorf("number_of_bands = %d, want 3", p.NumberOfBands)
	}
	if p.NumberOfSpinComponents != 2 {
		t.Errorf("number_of_spin_components = %d, want 2", p.NumberOfSpinComponents)
	}
	if !p.LDAPlusUCalculation {
		t.Error("lda_plus_u_calculation = false, want true")
	}
	if p.ConstraintMag != 1 {
		t.Errorf("constraint_mag = %d, want 1", p.ConstraintMag)
	}
	if diff := cmp.Diff([]float64{0.5}, p.StartingMagnetization); diff != "" {
		t.Errorf("starting_magnetization mismatch (-want +got):\n%s", diff)
	}
	if p.FermiEnergy != nil {
		t.Errorf("fermi_energy = %v, want absent", *p.FermiEnergy)
	}
	if p.MonkhorstPackGrid != nil {
		t.Errorf("monkhorst_pack_grid = %v, want absent", *p.MonkhorstPackGrid)
	}
	if p.BetaRealSpace != nil {
		t.Errorf("beta_real_space = %v, want absent", *p.BetaRealSpace)
	}

	h := units.HartreeToEV
	wantBands := [][][]float64{
		{{-0.3 * h, 0.2 * h, 0.4 * h}},
		{{-0.25 * h, 0.25 * h, 0.45 * h}},
	}
	if diff := cmp.Diff(wantBands, out.Bands.Bands, cmpopts.EquateApprox(0, tolerance)); diff != "" {
		t.Errorf("bands mismatch (-want +got):\n%s", diff)
	}
	wantOcc := [][][]float64{{{1, 1, 0}}, {{1, 0.5, 0}}}
	if diff := cmp.Diff(wantOcc, out.Bands.Occupations); diff != "" {
		t.Errorf("occupations mismatch (-want +got):\n%s", diff)
	}
}

// ---- band counts and shapes ----

func TestDecode_BandShape(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		want    [3]int
	}{
		{"single channel", "si.xml", [3]int{1, 2, 4}},
		{"two channels", "fe_lsda.xml", [3]int{2, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustDecode(t, tt.fixture)
			for _, arr := range [][][][]float64{out.Bands.Bands, out.Bands.Occupations} {
				c, k, b, ok := domain.BandsData{Bands: arr}.Shape()
				if !ok {
					t.Fatal("ragged band array")
				}
				if got := [3]int{c, k, b}; got != tt.want {
					t.Errorf("shape = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDecode_InconsistentBandCount(t *testing.T) {
	tests := []struct {
		name         string
		replacements []string
	}{
		{"sum differs from total", []string{"<nbnd>6</nbnd>", "<nbnd>10</nbnd>", "<nbnd_up>3</nbnd_up>", "<nbnd_up>6</nbnd_up>"}},
		{"only up channel", []string{"<nbnd_dw>3</nbnd_dw>", ""}},
		{"only down channel", []string{"<nbnd_up>3</nbnd_up>", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFixture(t, "fe_lsda.xml", qexml.Options{}, nil, tt.replacements...)
			if !errors.Is(err, domain.ErrInconsistentBandCount) {
				t.Fatalf("expected ErrInconsistentBandCount, got %v", err)
			}
			if !errors.Is(err, domain.ErrSchemaInvariantViolation) {
				t.Errorf("expected error to be a schema invariant violation, got %v", err)
			}
		})
	}
}

func TestDecode_UnexpectedBandShape(t *testing.T) {
	tests := []struct {
		name         string
		fixture      string
		replacements []string
	}{
		{"short eigenvalue vector", "si.xml", []string{"-0.1 0.0 0.05 0.3", "-0.1 0.0 0.05"}},
		{"nks disagrees with k-points", "si.xml", []string{"<nks>2</nks>", "<nks>3</nks>"}},
		{"spin vector shorter than nbnd", "fe_lsda.xml", []string{"1.0 1.0 0.0 1.0 0.5 0.0", "1.0 1.0 0.0 1.0 0.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFixture(t, tt.fixture, qexml.Options{}, nil, tt.replacements...)
			if !errors.Is(err, domain.ErrSchemaInvariantViolation) {
				t.Fatalf("expected ErrSchemaInvariantViolation, got %v", err)
			}
			if errors.Is(err, domain.ErrInconsistentBandCount) {
				t.Errorf("shape failure reported as band count failure: %v", err)
			}
		})
	}
}

// ---- symmetries ----

func TestDecode_InversionSymmetry(t *testing.T) {
	tests := []struct {
		name         string
		replacements []string
		want         bool
	}{
		{"crystal inversion", nil, true},
		{"upper case name", []string{`name="inversion"`, `name="INVERSION"`}, true},
		{"mixed case name", []string{`name="inversion"`, `name="Inversion"`}, true},
		{"inversion only a lattice symmetry", []string{`<info name="inversion">crystal_symmetry`, `<info name="inversion">lattice_symmetry`}, false},
		{"no inversion entry", []string{`name="inversion"`, `name="mirror"`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustDecode(t, "si.xml", tt.replacements...)
			if got := out.Parameters.InversionSymmetry; got != tt.want {
				t.Errorf("inversion_symmetry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_SymmetryOperations(t *testing.T) {
	out := mustDecode(t, "si.xml")
	p := out.Parameters

	if len(p.Symmetries) != 2 || len(p.LatticeSymmetries) != 1 {
		t.Fatalf("symmetries = %d crystal / %d lattice, want 2 / 1", len(p.Symmetries), len(p.LatticeSymmetries))
	}
	want := domain.Symmetry{
		Name:                  "inversion",
		Rotation:              [3][3]float64{{-1, 0, 0}, {0, -1, 0}, {0, 0, -1}},
		TRev:                  "0",
		EquivalentAtoms:       []int{2, 1},
		FractionalTranslation: []float64{-0.25, -0.25, -0.25},
	}
	if diff := cmp.Diff(want, p.Symmetries[1]); diff != "" {
		t.Errorf("inversion operation mismatch (-want +got):\n%s", diff)
	}
	if lat := p.LatticeSymmetries[0]; lat.EquivalentAtoms != nil || lat.FractionalTranslation != nil {
		t.Errorf("lattice symmetry carries optional fields: %+v", lat)
	}
	if p.NumberOfSymmetries != 2 || p.NumberOfBravaisSymmetries != 3 {
		t.Errorf("nsym/nrot = %d/%d, want 2/3", p.NumberOfSymmetries, p.NumberOfBravaisSymmetries)
	}
}

func TestDecode_UnknownSymmetryType(t *testing.T) {
	_, err := decodeFixture(t, "si.xml", qexml.Options{}, nil, ">lattice_symmetry<", ">bogus_symmetry<")
	if !errors.Is(err, domain.ErrUnknownSymmetryType) {
		t.Fatalf("expected ErrUnknownSymmetryType, got %v", err)
	}
}

// ---- magnetization and time reversal ----

func TestDecode_TimeReversal(t *testing.T) {
	tests := []struct {
		name         string
		replacements []string
		wantTR       bool
		wantNSpin    int
	}{
		{"collinear magnetic", nil, true, 2},
		{"noncollinear magnetic", []string{"<noncolin>false</noncolin>", "<noncolin>true</noncolin>"}, false, 4},
		{"noncollinear without magnetization", []string{
			"<noncolin>false</noncolin>", "<noncolin>true</noncolin>",
			"<do_magnetization>true</do_magnetization>", "<do_magnetization>false</do_magnetization>",
		}, true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustDecode(t, "fe_lsda.xml", tt.replacements...)
			if got := out.Parameters.TimeReversalFlag; got != tt.wantTR {
				t.Errorf("time_reversal_flag = %v, want %v", got, tt.wantTR)
			}
			if got := out.Parameters.NumberOfSpinComponents; got != tt.wantNSpin {
				t.Errorf("number_of_spin_components = %d, want %d", got, tt.wantNSpin)
			}
		})
	}
}

// ---- optional and deprecated fields ----

func TestDecode_OptionalFieldsOmitted(t *testing.T) {
	out := mustDecode(t, "si.xml",
		"<fermi_energy>0.2</fermi_energy>", "",
		"<real_space_beta>false</real_space_beta>", "",
	)
	if out.Parameters.FermiEnergy != nil {
		t.Error("fermi_energy present, want omitted")
	}
	if out.Parameters.BetaRealSpace != nil {
		t.Error("beta_real_space present, want omitted")
	}
}

func TestDecode_AssumeIsolated(t *testing.T) {
	out := mustDecode(t, "si.xml", "<magnetization>",
		"<boundary_conditions><assume_isolated>makov-payne</assume_isolated></boundary_conditions>\n    <magnetization>")
	if out.Parameters.AssumeIsolated == nil || *out.Parameters.AssumeIsolated != "makov-payne" {
		t.Errorf("assume_isolated = %v, want makov-payne", out.Parameters.AssumeIsolated)
	}
}

func TestDecode_DeprecatedV2Keys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	out, err := decodeFixture(t, "si.xml", qexml.Options{IncludeDeprecatedV2Keys: true}, logger)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := out.Parameters
	if p.FixedOccupations == nil || *p.FixedOccupations {
		t.Errorf("fixed_occupations = %v, want false", p.FixedOccupations)
	}
	if p.SmearingMethod == nil || !*p.SmearingMethod {
		t.Errorf("smearing_method = %v, want true", p.SmearingMethod)
	}
	if p.TetrahedronMethod == nil || *p.TetrahedronMethod {
		t.Errorf("tetrahedron_method = %v, want false", p.TetrahedronMethod)
	}
	if strings.Contains(buf.String(), "smearing not found") {
		t.Errorf("unexpected smearing warning: %s", buf.String())
	}
}

func TestDecode_DeprecatedV2Keys_FixedOccupations(t *testing.T) {
	out, err := decodeFixture(t, "si.xml", qexml.Options{IncludeDeprecatedV2Keys: true}, nil,
		"<occupations>smearing</occupations>", "<occupations>from_input</occupations>")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !*out.Parameters.FixedOccupations || *out.Parameters.SmearingMethod {
		t.Errorf("fixed/smearing = %v/%v, want true/false", *out.Parameters.FixedOccupations, *out.Parameters.SmearingMethod)
	}
}

func TestDecode_DeprecatedV2Keys_MissingSmearingWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := decodeFixture(t, "si.xml", qexml.Options{IncludeDeprecatedV2Keys: true}, logger,
		`<smearing degauss="1.0e-2">mv</smearing>`, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(buf.String(), "smearing not found") {
		t.Errorf("expected smearing warning, log was: %s", buf.String())
	}
}

// ---- failures ----

func TestDecode_RequiredFieldMissing(t *testing.T) {
	tests := []struct {
		name         string
		replacements []string
	}{
		{"nelec", []string{"<nelec>8.0</nelec>", ""}},
		{"do_magnetization", []string{"<do_magnetization>false</do_magnetization>", ""}},
		{"ecutwfc", []string{"<ecutwfc>1.5e1</ecutwfc>", ""}},
		{"k-point weight", []string{`weight="0.5"`, ""}},
		{"lattice vector", []string{"<a2>0.0 5.1 5.1</a2>", ""}},
		{"general_info", []string{"<general_info>", "<general_infox>", "</general_info>", "</general_infox>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFixture(t, "si.xml", qexml.Options{}, nil, tt.replacements...)
			if !errors.Is(err, domain.ErrRequiredFieldMissing) {
				t.Fatalf("expected ErrRequiredFieldMissing, got %v", err)
			}
		})
	}
}

func TestDecode_ValidationWarningsAreNotFatal(t *testing.T) {
	out := mustDecode(t, "si.xml", "<npwx>193</npwx>", "<npwx>193</npwx><bogus/>", "<ngm>1459</ngm>", "")

	want := []string{
		`unexpected element "bogus" in espresso/output/basis_set`,
		`missing required element "ngm" in espresso/output/basis_set`,
	}
	if diff := cmp.Diff(want, out.Parameters.XMLWarnings); diff != "" {
		t.Errorf("xml warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestReadDocument_Malformed(t *testing.T) {
	_, err := qexml.ReadDocument(strings.NewReader("<espresso><output></espresso>"))
	if !errors.Is(err, domain.ErrDocument) {
		t.Fatalf("expected ErrDocument, got %v", err)
	}
}

func TestParseFile(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "si.xml"))
	if err != nil {
		t.Fatal(err)
	}
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/work/out/data-file-schema.xml", raw, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := qexml.ParseFile(fs, "/work/out/data-file-schema.xml", newResolver(), qexml.Options{}, slog.Default())
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if out.Parameters.NumberOfBands != 4 {
		t.Errorf("number_of_bands = %d, want 4", out.Parameters.NumberOfBands)
	}

	_, err = qexml.ParseFile(fs, "/work/out/missing.xml", newResolver(), qexml.Options{}, slog.Default())
	if !errors.Is(err, domain.ErrDocument) {
		t.Errorf("missing file: expected ErrDocument, got %v", err)
	}
}
