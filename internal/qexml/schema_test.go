package qexml_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/spf13/afero"
)

func memSchemas(t *testing.T, names ...string) afero.Fs {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "schemas", qexml.DefaultSchemaName))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	fs := afero.NewMemMapFs()
	for _, name := range names {
		if err := afero.WriteFile(fs, "/schemas/"+name, raw, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func docWithLocation(t *testing.T, location string) *qexml.Document {
	t.Helper()
	attr := ""
	if location != "" {
		attr = ` xsi:schemaLocation="` + location + `"`
	}
	doc, err := qexml.ReadDocument(strings.NewReader(
		`<qes:espresso xmlns:qes="http://www.quantum-espresso.org/ns/qes/qes-1.0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` + attr + `/>`))
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	return doc
}

func TestResolve_DocumentSchema(t *testing.T) {
	r := qexml.NewResolver(memSchemas(t, "qes-1.0.xsd", "qes_190304.xsd"), "/schemas", "", slog.Default())

	s, err := r.Resolve(docWithLocation(t, "http://www.quantum-espresso.org/ns/qes/qes-1.0 http://www.quantum-espresso.org/ns/qes/qes_190304.xsd"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Name != "qes_190304.xsd" {
		t.Errorf("schema = %s, want qes_190304.xsd", s.Name)
	}
	if s.TargetNamespace != "http://www.quantum-espresso.org/ns/qes/qes-1.0" {
		t.Errorf("target namespace = %s", s.TargetNamespace)
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	tests := []struct {
		name     string
		location string
	}{
		{"unreachable schema", "http://www.quantum-espresso.org/ns/qes/qes-1.0 http://www.quantum-espresso.org/ns/qes/qes_999999.xsd"},
		{"no schema location", ""},
		{"malformed location", "http://www.quantum-espresso.org/ns/qes/qes-1.0 not-a-schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := qexml.NewResolver(memSchemas(t, qexml.DefaultSchemaName), "/schemas", "", slog.Default())
			s, err := r.Resolve(docWithLocation(t, tt.location))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if s.Name != qexml.DefaultSchemaName {
				t.Errorf("schema = %s, want default %s", s.Name, qexml.DefaultSchemaName)
			}
		})
	}
}

func TestResolve_DefaultUnavailable(t *testing.T) {
	r := qexml.NewResolver(memSchemas(t), "/schemas", "", slog.Default())

	_, err := r.Resolve(docWithLocation(t, "http://www.quantum-espresso.org/ns/qes/qes-1.0 qes_999999.xsd"))
	if !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestResolve_MalformedDefault(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/schemas/"+qexml.DefaultSchemaName, []byte("<schema"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := qexml.NewResolver(fs, "/schemas", "", slog.Default())

	if _, err := r.Default(); !errors.Is(err, domain.ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestResolve_CachesLoadedSchemas(t *testing.T) {
	fs := memSchemas(t, qexml.DefaultSchemaName)
	r := qexml.NewResolver(fs, "/schemas", "", slog.Default())

	first, err := r.Default()
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Remove("/schemas/" + qexml.DefaultSchemaName); err != nil {
		t.Fatal(err)
	}
	second, err := r.Default()
	if err != nil {
		t.Fatalf("second load after removal: %v", err)
	}
	if first != second {
		t.Error("expected the cached schema to be returned")
	}
}

func TestValidate_UndeclaredRoot(t *testing.T) {
	r := qexml.NewResolver(memSchemas(t, qexml.DefaultSchemaName), "/schemas", "", slog.Default())
	s, err := r.Default()
	if err != nil {
		t.Fatal(err)
	}
	doc, err := qexml.ReadDocument(strings.NewReader(`<qes:pwscf xmlns:qes="http://www.quantum-espresso.org/ns/qes/qes-1.0"/>`))
	if err != nil {
		t.Fatal(err)
	}

	warnings := s.Validate(doc)
	if len(warnings) != 1 || !strings.Contains(warnings[0], `"pwscf" is not declared`) {
		t.Errorf("warnings = %v", warnings)
	}
}
