package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/cli"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := cli.NewRoot(afero.NewOsFs())
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

// ---- parse ----

func TestParse_SiliconDocument(t *testing.T) {
	stdout, _, err := execute(t, "parse", "--schema-dir", "../../schemas", "--compact", "../qexml/testdata/si.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var doc struct {
		Parameters map[string]any `json:"parameters"`
		Structure  map[string]any `json:"structure"`
		Bands      map[string]any `json:"bands"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if doc.Structure["number_of_atoms"] != float64(2) {
		t.Errorf("number_of_atoms = %v", doc.Structure["number_of_atoms"])
	}
	if doc.Bands["bands_units"] != "eV" {
		t.Errorf("bands_units = %v", doc.Bands["bands_units"])
	}
	if _, ok := doc.Parameters["fixed_occupations"]; ok {
		t.Error("deprecated keys present without --deprecated-v2-keys")
	}
}

func TestParse_DeprecatedKeys(t *testing.T) {
	stdout, _, err := execute(t, "parse", "--schema-dir", "../../schemas", "--deprecated-v2-keys", "../qexml/testdata/si.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(stdout, `"fixed_occupations"`) {
		t.Errorf("fixed_occupations missing from output")
	}
}

func TestParse_MissingFile(t *testing.T) {
	if _, _, err := execute(t, "parse", "--schema-dir", "../../schemas", "does-not-exist.xml"); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestParse_RequiresOneArgument(t *testing.T) {
	if _, _, err := execute(t, "parse"); err == nil {
		t.Fatal("expected usage error")
	}
}

// ---- token ----

func TestToken_SignsSubject(t *testing.T) {
	const secret = "cli-test-secret-with-32-characters!"
	stdout, _, err := execute(t, "token", "alice", "--secret", secret, "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	tok, err := jwt.Parse(strings.TrimSpace(stdout), func(*jwt.Token) (any, error) { return []byte(secret), nil })
	if err != nil || !tok.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	sub, _ := tok.Claims.GetSubject()
	if sub != "alice" {
		t.Errorf("sub = %q, want alice", sub)
	}
}

func TestToken_NoSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, _, err := execute(t, "token", "alice"); err == nil {
		t.Fatal("expected error without a secret")
	}
}

// ---- run ----

const siliconYAML = `code:
  label: pw
structure:
  cell:
    - [-2.715, 0, 2.715]
    - [0, 2.715, 2.715]
    - [-2.715, 2.715, 0]
  kinds:
    - {name: Si, symbol: Si, mass: 28.0855}
  sites:
    - {kind_name: Si, position: [0, 0, 0]}
    - {kind_name: Si, position: [1.3575, 1.3575, 1.3575]}
pseudos:
  Si: {element: Si, filename: Si.UPF, format: upf}
kpoints:
  mesh: [2, 2, 2]
parameters:
  CONTROL:
    calculation: scf
  SYSTEM:
    ecutwfc: 20
options:
  resources: {num_machines: 1, num_mpiprocs_per_machine: 1}
  max_wallclock_seconds: 60
max_iterations: 2
`

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakePW(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pw.x needs a POSIX shell")
	}
	src, err := filepath.Abs("../qexml/testdata/si.xml")
	if err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\n" +
		"mkdir -p out/aiida.save && cp '" + src + "' out/aiida.save/data-file-schema.xml\n" +
		"echo \"     convergence has been achieved in   5 iterations\"\n" +
		"echo \"   JOB DONE.\"\n"
	return writeFile(t, t.TempDir(), "pw.x", script, 0o755)
}

func TestRun_ConvergedWorkchain(t *testing.T) {
	dir := t.TempDir()
	inputs := writeFile(t, dir, "si.yaml", siliconYAML, 0o644)
	workDir := filepath.Join(dir, "work")

	stdout, stderr, err := execute(t, "run", inputs,
		"--pw-command", fakePW(t),
		"--work-dir", workDir,
		"--schema-dir", "../../schemas",
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stderr)
	}

	var res struct {
		WorkchainID string `json:"workchain_id"`
		Status      string `json:"status"`
		Iterations  int    `json:"iterations"`
		Outputs     struct {
			RemoteFolder struct {
				Path string `json:"path"`
			} `json:"remote_folder"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if res.Status != "finished" || res.Iterations != 1 {
		t.Errorf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Outputs.RemoteFolder.Path, filepath.Join(workDir, res.WorkchainID)) {
		t.Errorf("remote folder %q not below %s", res.Outputs.RemoteFolder.Path, workDir)
	}
	if !strings.Contains(stderr, "attempt submitted") {
		t.Errorf("progress not logged:\n%s", stderr)
	}
}

func TestRun_MissingPseudoAborts(t *testing.T) {
	dir := t.TempDir()
	yaml := strings.Replace(siliconYAML, "pseudos:\n  Si: {element: Si, filename: Si.UPF, format: upf}\n",
		"pseudos:\n  Ge: {element: Ge, filename: Ge.UPF, format: upf}\n", 1)
	inputs := writeFile(t, dir, "si.yaml", yaml, 0o644)

	stdout, _, err := execute(t, "run", inputs,
		"--pw-command", "/bin/true",
		"--work-dir", filepath.Join(dir, "work"),
		"--schema-dir", "../../schemas",
	)
	if err == nil {
		t.Fatal("expected an error for an aborted workchain")
	}
	if !strings.Contains(stdout, `"status": "aborted"`) || !strings.Contains(stdout, "no pseudopotential available") {
		t.Errorf("stdout = %s", stdout)
	}
}

func TestRun_InvalidInputs(t *testing.T) {
	dir := t.TempDir()
	inputs := writeFile(t, dir, "bad.yaml", "code:\n  label: pw\nunknown_key: 1\n", 0o644)

	if _, _, err := execute(t, "run", inputs, "--schema-dir", "../../schemas"); err == nil {
		t.Fatal("expected a decode error for an unknown key")
	}
}
