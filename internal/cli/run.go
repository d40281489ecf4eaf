package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	ctxlog "github.com/ErlanBelekov/pwchain/internal/log"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/ErlanBelekov/pwchain/internal/runner"
	"github.com/ErlanBelekov/pwchain/internal/usecase"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runFlags struct {
	workDir        string
	pwCommand      string
	mpiCommand     string
	pseudoDir      string
	families       string
	schemaDir      string
	maxIterations  int
	cleanupTimeout time.Duration
}

type runResult struct {
	WorkchainID string                   `json:"workchain_id"`
	Status      domain.Status            `json:"status"`
	Iterations  int                      `json:"iterations"`
	Outputs     *domain.WorkchainOutputs `json:"outputs,omitempty"`
	AbortReason string                   `json:"abort_reason,omitempty"`
}

func newRunCommand(fs afero.Fs, root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <inputs.yaml>",
		Short: "Run a pw.x restart workchain on this machine",
		Long: `Run a pw.x restart workchain on this machine and print its outcome as JSON.
The inputs file uses the same layout as the "inputs" object of POST /workchains.

Examples:
  pwchain run si.yaml --pseudo-dir ~/pseudo
  pwchain run si.yaml --mpi-command "mpirun -np {tot_num_mpiprocs}" --families families.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkchain(cmd, fs, root, flags, args[0])
		},
	}

	cmd.Flags().StringVar(&flags.workDir, "work-dir", "pwchain-work", "Directory holding the attempt work directories")
	cmd.Flags().StringVar(&flags.pwCommand, "pw-command", "pw.x", "pw.x executable")
	cmd.Flags().StringVar(&flags.mpiCommand, "mpi-command", "", "MPI launcher prefix, {tot_num_mpiprocs} is substituted")
	cmd.Flags().StringVar(&flags.pseudoDir, "pseudo-dir", ".", "Directory holding the pseudopotential files")
	cmd.Flags().StringVar(&flags.families, "families", "", "YAML table of pseudo families")
	cmd.Flags().StringVar(&flags.schemaDir, "schema-dir", "schemas", "Directory holding the QES XSD files")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", domain.DefaultMaxIterations, "Attempt budget when the inputs do not set one")
	cmd.Flags().DurationVar(&flags.cleanupTimeout, "cleanup-timeout", 30*time.Second, "Bound on releasing each work directory")

	return cmd
}

func runWorkchain(cmd *cobra.Command, fs afero.Fs, root *rootFlags, flags *runFlags, path string) error {
	logger := root.logger(cmd.ErrOrStderr())

	inputs, err := readInputs(fs, path)
	if err != nil {
		return err
	}
	if inputs.MaxIterations <= 0 {
		inputs.MaxIterations = flags.maxIterations
	}
	if err := usecase.ValidateInputs(inputs); err != nil {
		return err
	}

	var families workchain.PseudoFamilyResolver
	if flags.families != "" {
		table, err := workchain.LoadFamilies(fs, flags.families)
		if err != nil {
			return err
		}
		families = table
	}

	id := uuid.NewString()
	ctx := ctxlog.WithWorkchainID(cmd.Context(), id)

	resolver := qexml.NewResolver(afero.NewReadOnlyFs(fs), flags.schemaDir, "", logger)
	pw := runner.New(fs, runner.Config{
		WorkDir:    flags.workDir,
		PWCommand:  flags.pwCommand,
		MPICommand: flags.mpiCommand,
		PseudoDir:  flags.pseudoDir,
	}, resolver, logger)
	cleaner := runner.NewCleaner(fs, flags.workDir)

	c := workchain.NewController(pw.Scoped(id), cleaner, families, logger, flags.cleanupTimeout)
	res, runErr := c.Run(ctx, inputs, &progress{logger: logger})

	out := runResult{WorkchainID: id, Status: domain.StatusFinished}
	if res != nil {
		out.Iterations = res.Iterations
		out.Outputs = res.Outputs
	}
	if runErr != nil {
		if !workchain.IsAbort(runErr) {
			return runErr
		}
		out.Status = domain.StatusAborted
		out.AbortReason = runErr.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("workchain %s aborted", id)
	}
	return nil
}

func readInputs(fs afero.Fs, path string) (domain.WorkchainInputs, error) {
	var inputs domain.WorkchainInputs

	f, err := fs.Open(path)
	if err != nil {
		return inputs, fmt.Errorf("open inputs: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&inputs); err != nil {
		return inputs, fmt.Errorf("decode inputs %s: %w", path, err)
	}
	return inputs, nil
}

// progress logs each attempt as it opens and closes.
type progress struct {
	logger *slog.Logger
	opened int
}

func (p *progress) OpenAttempt(ctx context.Context, index int, restartMode string) (string, error) {
	p.opened++
	p.logger.InfoContext(ctx, "attempt submitted", "attempt", index, "restart_mode", restartMode)
	return fmt.Sprintf("attempt-%d", p.opened), nil
}

func (p *progress) CloseAttempt(ctx context.Context, id string, a *domain.Attempt) error {
	if a == nil {
		return errors.New("close attempt: nil attempt")
	}
	p.logger.InfoContext(ctx, "attempt done", "attempt", a.Index, "state", a.State, "converged", a.Converged)
	return nil
}
