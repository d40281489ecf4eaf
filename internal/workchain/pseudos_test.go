package workchain_test

import (
	"context"
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

const familiesYAML = `sssp:
  Si: {filename: Si.pbe-n-rrkjus_psl.1.0.0.UPF, format: upf}
  Fe: {element: Fe, filename: Fe.pbe-spn-kjpaw_psl.0.2.1.UPF, format: upf, md5: abc}
`

func TestLoadFamilies_FillsElementFromKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/pwchain/families.yaml", []byte(familiesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	families, err := workchain.LoadFamilies(fs, "/etc/pwchain/families.yaml")
	if err != nil {
		t.Fatalf("LoadFamilies: %v", err)
	}

	want := workchain.StaticFamilies{"sssp": {
		"Si": {Element: "Si", Filename: "Si.pbe-n-rrkjus_psl.1.0.0.UPF", Format: "upf"},
		"Fe": {Element: "Fe", Filename: "Fe.pbe-spn-kjpaw_psl.0.2.1.UPF", Format: "upf", MD5: "abc"},
	}}
	if diff := cmp.Diff(want, families); diff != "" {
		t.Errorf("families mismatch (-want +got):\n%s", diff)
	}

	s := &domain.Structure{
		Kinds: []domain.Kind{{Name: "Fe1", Symbol: "Fe"}, {Name: "Fe2", Symbol: "Fe"}},
		Sites: []domain.Site{{KindName: "Fe1"}, {KindName: "Fe2"}},
	}
	got, err := families.PseudosForStructure(context.Background(), "sssp", s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["Fe2"].Filename != "Fe.pbe-spn-kjpaw_psl.0.2.1.UPF" {
		t.Errorf("pseudos = %+v", got)
	}
}

func TestLoadFamilies_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/bad.yaml", []byte("sssp: [not, a, map]"), 0o644)
	_ = afero.WriteFile(fs, "/nofile.yaml", []byte("sssp:\n  Si: {format: upf}\n"), 0o644)

	for _, path := range []string{"/missing.yaml", "/bad.yaml", "/nofile.yaml"} {
		if _, err := workchain.LoadFamilies(fs, path); err == nil {
			t.Errorf("%s: expected error", path)
		}
	}
}
