package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/ErlanBelekov/pwchain/internal/runner"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
	"github.com/spf13/afero"
)

// fakePW writes an executable shell script standing in for pw.x and returns
// its path.
func fakePW(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pw.x needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pw.x")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake pw.x: %v", err)
	}
	return path
}

// copyXML is a script snippet placing the silicon fixture where pw.x writes
// its data file.
func copyXML(t *testing.T) string {
	t.Helper()
	src, err := filepath.Abs("../qexml/testdata/si.xml")
	if err != nil {
		t.Fatal(err)
	}
	return "mkdir -p out/aiida.save && cp '" + src + "' out/aiida.save/data-file-schema.xml\n"
}

const scfDone = `echo "     convergence has been achieved in   6 iterations"
echo "     PWSCF        :      0.52s CPU      0.61s WALL"
echo "   JOB DONE."
`

func newRunner(t *testing.T, pw string, mutate ...func(*runner.Config)) (*runner.Runner, string) {
	t.Helper()
	fs := afero.NewOsFs()
	workDir := t.TempDir()
	cfg := runner.Config{WorkDir: workDir, PWCommand: pw, PseudoDir: "/opt/pseudos"}
	for _, m := range mutate {
		m(&cfg)
	}
	resolver := qexml.NewResolver(afero.NewReadOnlyFs(fs), "../../schemas", "", slog.Default())
	return runner.New(fs, cfg, resolver, slog.Default()), workDir
}

func TestSubmit_ConvergedSCF(t *testing.T) {
	r, workDir := newRunner(t, fakePW(t, copyXML(t)+scfDone))

	a, err := r.Submit(context.Background(), siliconCalc())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if a.State != domain.CalcStateFinished || !a.Converged {
		t.Fatalf("state = %s converged = %v, want FINISHED converged", a.State, a.Converged)
	}
	if a.Outputs.RemoteFolder == nil || filepath.Dir(a.Outputs.RemoteFolder.Path) != workDir {
		t.Errorf("remote folder = %+v, want a directory under %s", a.Outputs.RemoteFolder, workDir)
	}
	out := a.Outputs.Parameters
	if out == nil || out.XML == nil || out.Bands == nil {
		t.Fatalf("output parameters not decoded: %+v", out)
	}
	if out.XML.NumberOfBands != 4 {
		t.Errorf("number_of_bands = %d, want 4", out.XML.NumberOfBands)
	}
	if out.WallTimeSeconds != 0.61 {
		t.Errorf("wall time = %v, want 0.61", out.WallTimeSeconds)
	}
	if len(out.ParserWarnings) != 0 {
		t.Errorf("parser warnings = %v, want none", out.ParserWarnings)
	}
	if a.Outputs.Structure != nil {
		t.Error("scf must not report an output structure")
	}
	if _, err := os.Stat(filepath.Join(a.Outputs.RemoteFolder.Path, "aiida.in")); err != nil {
		t.Errorf("input file not written: %v", err)
	}
}

func TestSubmit_RelaxReportsOutputStructure(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, copyXML(t)+`echo "     bfgs converged in 2 scf cycles"
echo "   JOB DONE."`))
	in := siliconCalc()
	in.Parameters["CONTROL"]["calculation"] = "relax"

	a, err := r.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !a.FinishedOK() {
		t.Fatalf("state = %s converged = %v", a.State, a.Converged)
	}
	if a.Outputs.Structure == nil || len(a.Outputs.Structure.Sites) == 0 {
		t.Fatalf("output structure = %+v", a.Outputs.Structure)
	}
}

func TestSubmit_MissingExecutable(t *testing.T) {
	r, _ := newRunner(t, filepath.Join(t.TempDir(), "no-such-pw.x"))

	a, err := r.Submit(context.Background(), siliconCalc())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if a.State != domain.CalcStateSubmissionFailed {
		t.Errorf("state = %s, want SUBMISSIONFAILED", a.State)
	}
}

func TestSubmit_CodeCommandOverridesDefault(t *testing.T) {
	r, _ := newRunner(t, filepath.Join(t.TempDir(), "no-such-pw.x"))
	in := siliconCalc()
	in.Code.Command = fakePW(t, copyXML(t)+scfDone)

	a, err := r.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !a.FinishedOK() {
		t.Errorf("state = %s, want FINISHED", a.State)
	}
}

func TestSubmit_IncompleteExecution(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, `echo "     Program PWSCF starts"; exit 1`))

	a, err := r.Submit(context.Background(), siliconCalc())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if a.State != domain.CalcStateFailed {
		t.Fatalf("state = %s, want FAILED", a.State)
	}
	if !slices.Contains(a.Outputs.Parameters.ParserWarnings, workchain.MarkerIncompleteExecution) {
		t.Errorf("parser warnings = %v", a.Outputs.Parameters.ParserWarnings)
	}
	if got := workchain.Classify(a).Action; got != workchain.ActionReduceMaxSeconds {
		t.Errorf("classified as %s, want reduce_max_seconds", got)
	}
}

func TestSubmit_MaxCPUTime(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, copyXML(t)+`echo "     Maximum CPU time exceeded"
echo "   JOB DONE."`))

	a, err := r.Submit(context.Background(), siliconCalc())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if a.State != domain.CalcStateFailed {
		t.Fatalf("state = %s, want FAILED", a.State)
	}
	if got := workchain.Classify(a).Action; got != workchain.ActionRestartFromAttempt {
		t.Errorf("classified as %s, want restart_from_attempt", got)
	}
}

func TestSubmit_WallclockLimitKillsProcess(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, `exec sleep 30`))
	in := siliconCalc()
	in.Options.MaxWallclockSeconds = 1

	start := time.Now()
	a, err := r.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if time.Since(start) > 10*time.Second {
		t.Errorf("wall-clock limit not enforced, took %v", time.Since(start))
	}
	if a.State != domain.CalcStateFailed {
		t.Errorf("state = %s, want FAILED", a.State)
	}
}

func TestSubmit_CancelReturnsError(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, `exec sleep 30`))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err := r.Submit(ctx, siliconCalc())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSubmit_FinishedWithoutXMLIsParsingFailure(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, scfDone))

	a, err := r.Submit(context.Background(), siliconCalc())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if a.State != domain.CalcStateParsingFailed {
		t.Errorf("state = %s, want PARSINGFAILED", a.State)
	}
}

func TestSubmit_RestartCopiesParentOutput(t *testing.T) {
	parent := t.TempDir()
	if err := os.MkdirAll(filepath.Join(parent, "out", "aiida.save"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "out", "aiida.save", "charge-density.dat"), []byte("rho"), 0o644); err != nil {
		t.Fatal(err)
	}
	pw := fakePW(t, `test -f out/aiida.save/charge-density.dat || exit 3
`+copyXML(t)+scfDone)
	r, _ := newRunner(t, pw)

	in := siliconCalc()
	in.ParentFolder = &domain.RemoteFolder{Computer: "localhost", Path: parent}
	in.Parameters["CONTROL"]["restart_mode"] = domain.RestartModeRestart

	a, err := r.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !a.FinishedOK() {
		t.Errorf("state = %s converged = %v, parent output was not copied", a.State, a.Converged)
	}
}

func TestSubmit_MissingParentIsSubmissionFailure(t *testing.T) {
	r, _ := newRunner(t, fakePW(t, scfDone))
	in := siliconCalc()
	in.ParentFolder = &domain.RemoteFolder{Path: filepath.Join(t.TempDir(), "gone")}
	in.Parameters["CONTROL"]["restart_mode"] = domain.RestartModeRestart

	a, err := r.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if a.State != domain.CalcStateSubmissionFailed {
		t.Errorf("state = %s, want SUBMISSIONFAILED", a.State)
	}
}

func TestSubmit_MPICommand(t *testing.T) {
	pw := fakePW(t, `echo "ranks=$PWCHAIN_NP args=$*"
`+copyXML(t)+scfDone)
	r, _ := newRunner(t, pw, func(c *runner.Config) {
		c.MPICommand = "env PWCHAIN_NP={tot_num_mpiprocs}"
	})
	in := siliconCalc()
	in.Options.Resources = domain.Resources{NumMachines: 2, NumMPIProcsPerMachine: 4}
	in.Settings.CmdLine = []string{"-nk", "2"}

	a, err := r.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(a.Outputs.RemoteFolder.Path, "aiida.out"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "ranks=8 args=-nk 2 -in aiida.in") {
		t.Errorf("unexpected command line, output:\n%s", raw)
	}
}

func TestScoped_NestsWorkDir(t *testing.T) {
	r, workDir := newRunner(t, fakePW(t, copyXML(t)+scfDone))

	a, err := r.Scoped("wc-1").Submit(context.Background(), siliconCalc())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := filepath.Dir(a.Outputs.RemoteFolder.Path); got != filepath.Join(workDir, "wc-1") {
		t.Errorf("attempt dir parent = %s, want %s", got, filepath.Join(workDir, "wc-1"))
	}
}
