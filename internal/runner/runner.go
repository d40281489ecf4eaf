// Package runner executes pw.x attempts on the local machine.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// mpiProcsPlaceholder in MPI_COMMAND is replaced with the total rank count.
const mpiProcsPlaceholder = "{tot_num_mpiprocs}"

var xmlPath = filepath.Join(outDir, prefix+".save", "data-file-schema.xml")

type Config struct {
	WorkDir    string
	PWCommand  string
	MPICommand string
	PseudoDir  string
	// Computer labels the remote folders the runner hands out.
	Computer string
	Decode   qexml.Options
}

// Runner launches pw.x in a fresh directory under WorkDir for every attempt.
// fs must be backed by the OS filesystem since pw.x itself reads the input
// and writes its output there.
type Runner struct {
	fs       afero.Fs
	cfg      Config
	resolver *qexml.Resolver
	logger   *slog.Logger
}

var _ workchain.Calculator = (*Runner)(nil)

func New(fs afero.Fs, cfg Config, resolver *qexml.Resolver, logger *slog.Logger) *Runner {
	if cfg.Computer == "" {
		cfg.Computer = "localhost"
	}
	return &Runner{
		fs:       fs,
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.With("component", "runner"),
	}
}

// Scoped returns a runner whose attempt directories live under WorkDir/sub.
func (r *Runner) Scoped(sub string) *Runner {
	cp := *r
	cp.cfg.WorkDir = filepath.Join(r.cfg.WorkDir, sub)
	return &cp
}

// Submit runs one attempt to completion. Failures to prepare or start the
// process are reported as a SUBMISSIONFAILED attempt; only cancellation of
// ctx is returned as an error.
func (r *Runner) Submit(ctx context.Context, in domain.CalcInputs) (*domain.Attempt, error) {
	id := uuid.NewString()
	dir := filepath.Join(r.cfg.WorkDir, id)
	logger := r.logger.With("attempt_id", id, "dir", dir)

	a := &domain.Attempt{ID: id, Inputs: in, StartedAt: time.Now()}
	folder := &domain.RemoteFolder{Computer: r.cfg.Computer, Path: dir}

	if err := r.prepare(dir, in); err != nil {
		logger.WarnContext(ctx, "prepare attempt", "error", err)
		return r.finish(a, domain.CalcStateSubmissionFailed), nil
	}
	a.Outputs.RemoteFolder = folder

	argv, err := r.command(in)
	if err != nil {
		logger.WarnContext(ctx, "resolve command", "error", err)
		return r.finish(a, domain.CalcStateSubmissionFailed), nil
	}

	runErr := r.execute(ctx, dir, argv, in.Options.MaxWallclockSeconds)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run pw.x: %w", ctxErr)
	}
	if errors.Is(runErr, errNotStarted) {
		logger.WarnContext(ctx, "start pw.x", "error", runErr)
		return r.finish(a, domain.CalcStateSubmissionFailed), nil
	}
	if runErr != nil {
		logger.InfoContext(ctx, "pw.x exited with an error", "error", runErr)
	}

	return r.retrieve(ctx, logger, a, dir, runErr), nil
}

func (r *Runner) finish(a *domain.Attempt, state domain.CalcState) *domain.Attempt {
	a.State = state
	a.CompletedAt = time.Now()
	return a
}

// prepare creates the attempt directory, seeds it with the parent's
// output directory on restarts and writes the input file.
func (r *Runner) prepare(dir string, in domain.CalcInputs) error {
	if err := r.fs.MkdirAll(filepath.Join(dir, outDir), 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	mode := in.Parameters.String(domain.NamelistControl, "restart_mode", domain.RestartModeFromScratch)
	if in.ParentFolder != nil && mode == domain.RestartModeRestart {
		if err := copyTree(r.fs, filepath.Join(in.ParentFolder.Path, outDir), filepath.Join(dir, outDir)); err != nil {
			return fmt.Errorf("copy parent folder: %w", err)
		}
	}

	f, err := r.fs.Create(filepath.Join(dir, inputFile))
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	defer f.Close()
	return WriteInput(f, in, r.cfg.PseudoDir)
}

// command builds argv: the optional MPI launcher, the pw.x binary, extra
// command line settings and the input redirection.
func (r *Runner) command(in domain.CalcInputs) ([]string, error) {
	pw := r.cfg.PWCommand
	if in.Code.Command != "" {
		pw = in.Code.Command
	}
	if pw == "" {
		return nil, errors.New("no pw.x command configured")
	}

	var argv []string
	if r.cfg.MPICommand != "" {
		procs := strconv.Itoa(in.Options.Resources.TotalMPIProcs())
		argv = append(argv, strings.Fields(strings.ReplaceAll(r.cfg.MPICommand, mpiProcsPlaceholder, procs))...)
	}
	argv = append(argv, strings.Fields(pw)...)
	argv = append(argv, in.Settings.CmdLine...)
	argv = append(argv, "-in", inputFile)

	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, err
	}
	argv[0] = bin
	return argv, nil
}

var errNotStarted = errors.New("pw.x could not be started")

// execute runs argv in dir with stdout captured to the output file. Errors
// wrapping errNotStarted mean the process never ran.
func (r *Runner) execute(ctx context.Context, dir string, argv []string, wallclock int) error {
	cctx := ctx
	if wallclock > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, time.Duration(wallclock)*time.Second)
		defer cancel()
	}

	stdout, err := r.fs.Create(filepath.Join(dir, outputFile))
	if err != nil {
		return fmt.Errorf("%w: create output file: %v", errNotStarted, err)
	}
	defer stdout.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", errNotStarted, err)
	}
	if err := cmd.Wait(); err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("wall-clock limit of %ds exceeded: %w", wallclock, err)
		}
		return fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// retrieve scans the output file, decodes the XML data file and settles the
// terminal state of the attempt.
func (r *Runner) retrieve(ctx context.Context, logger *slog.Logger, a *domain.Attempt, dir string, runErr error) *domain.Attempt {
	retrieved := &domain.RetrievedFolder{Path: dir, Files: []string{outputFile}}
	a.Outputs.Retrieved = retrieved

	f, err := r.fs.Open(filepath.Join(dir, outputFile))
	if err != nil {
		logger.WarnContext(ctx, "open output file", "error", err)
		return r.finish(a, domain.CalcStateRetrievalFailed)
	}
	scan, err := scanOutput(f, a.Inputs.Parameters.String(domain.NamelistControl, "calculation", "scf"))
	f.Close()
	if err != nil {
		logger.WarnContext(ctx, "read output file", "error", err)
		return r.finish(a, domain.CalcStateRetrievalFailed)
	}

	params := &domain.OutputParameters{
		Warnings:        scan.warnings,
		ParserWarnings:  []string{},
		WallTimeSeconds: scan.wallTime,
	}
	if !scan.jobDone {
		params.ParserWarnings = append(params.ParserWarnings, workchain.MarkerIncompleteExecution)
	}
	a.Outputs.Parameters = params

	parsed, decodeErr := r.decode(filepath.Join(dir, xmlPath))
	switch {
	case decodeErr == nil:
		retrieved.Files = append(retrieved.Files, xmlPath)
		params.XML = &parsed.Parameters
		params.Bands = &parsed.Bands
		if movesIons(a.Inputs) {
			a.Outputs.Structure = parsed.Structure.ToStructure()
		}
	case errors.Is(decodeErr, afero.ErrFileNotFound):
		if scan.jobDone && !scan.failed() && runErr == nil {
			logger.WarnContext(ctx, "pw.x finished without writing the XML data file")
			return r.finish(a, domain.CalcStateParsingFailed)
		}
	default:
		logger.WarnContext(ctx, "decode xml data file", "error", decodeErr)
		params.ParserWarnings = append(params.ParserWarnings, decodeErr.Error())
		if scan.jobDone && !scan.failed() && runErr == nil {
			return r.finish(a, domain.CalcStateParsingFailed)
		}
	}

	if runErr != nil || !scan.jobDone || scan.failed() {
		return r.finish(a, domain.CalcStateFailed)
	}
	a.Converged = scan.converged
	return r.finish(a, domain.CalcStateFinished)
}

func (r *Runner) decode(path string) (*domain.ParsedOutput, error) {
	if _, err := r.fs.Stat(path); err != nil {
		return nil, afero.ErrFileNotFound
	}
	start := time.Now()
	out, err := qexml.ParseFile(r.fs, path, r.resolver, r.cfg.Decode, r.logger)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DecodeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return out, err
}

func movesIons(in domain.CalcInputs) bool {
	return ionicCalculations[in.Parameters.String(domain.NamelistControl, "calculation", "scf")]
}

// copyTree copies the regular files below src into dst.
func copyTree(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(fs, target, data, info.Mode().Perm())
	})
}
