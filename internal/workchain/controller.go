// Package workchain drives a pw.x calculation to convergence: it launches
// attempts one at a time, inspects each terminal state and adapts the inputs
// of the next attempt until the calculation converges or the workchain has
// to abort.
package workchain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
)

// Calculator launches one pw.x attempt and blocks until it reaches a
// terminal state. A returned error means the attempt could not be handed to
// the runner at all.
type Calculator interface {
	Submit(ctx context.Context, in domain.CalcInputs) (*domain.Attempt, error)
}

// FolderCleaner releases the remote working directory of an attempt.
type FolderCleaner interface {
	Clean(ctx context.Context, folder domain.RemoteFolder) error
}

// PseudoFamilyResolver looks up the pseudopotentials of a named family for
// every kind of a structure.
type PseudoFamilyResolver interface {
	PseudosForStructure(ctx context.Context, family string, s *domain.Structure) (map[string]domain.Pseudo, error)
}

// AttemptRecorder journals attempts. Open is called before an attempt is
// submitted and Close once it reached its terminal state.
type AttemptRecorder interface {
	OpenAttempt(ctx context.Context, index int, restartMode string) (string, error)
	CloseAttempt(ctx context.Context, id string, a *domain.Attempt) error
}

// Result is what a workchain run produced. Outputs is nil unless the
// workchain finished successfully.
type Result struct {
	Outputs    *domain.WorkchainOutputs
	Attempts   []*domain.Attempt
	Iterations int
}

type Controller struct {
	calc           Calculator
	cleaner        FolderCleaner
	families       PseudoFamilyResolver
	logger         *slog.Logger
	cleanupTimeout time.Duration
}

func NewController(
	calc Calculator,
	cleaner FolderCleaner,
	families PseudoFamilyResolver,
	logger *slog.Logger,
	cleanupTimeout time.Duration,
) *Controller {
	if cleanupTimeout <= 0 {
		cleanupTimeout = 30 * time.Second
	}
	return &Controller{
		calc:           calc,
		cleaner:        cleaner,
		families:       families,
		logger:         logger.With("component", "workchain"),
		cleanupTimeout: cleanupTimeout,
	}
}

// Run executes the workchain described by in. rec may be nil.
//
// A workchain that has to give up returns an *AbortError whose Reason is one
// of the domain abort sentinels. Cancelling ctx stops the loop before the
// next attempt is launched; the attempt in flight is left to the runner.
// Either way the returned Result lists the attempts that ran.
func (c *Controller) Run(ctx context.Context, in domain.WorkchainInputs, rec AttemptRecorder) (*Result, error) {
	rc, err := c.setup(ctx, in)
	if err != nil {
		return &Result{}, err
	}
	if in.CleanWorkdir {
		defer c.cleanup(ctx, rc)
	} else {
		defer c.logger.InfoContext(ctx, "remote folders will not be cleaned")
	}

	for rc.shouldRun() {
		if err := ctx.Err(); err != nil {
			c.logger.WarnContext(ctx, "workchain cancelled", "iteration", rc.iteration, "error", err)
			return c.result(rc), fmt.Errorf("workchain cancelled: %w", err)
		}

		attempt, err := c.launch(ctx, rc, rec)
		if err != nil {
			return c.result(rc), err
		}

		d := c.inspect(ctx, rc, attempt)
		metrics.InspectionDecisionsTotal.WithLabelValues(d.Kind.String()).Inc()
		c.logger.DebugContext(ctx, "attempt inspected", "iteration", rc.iteration, "decision", d.Kind)
		if d.Kind == DecisionAbort {
			c.logger.WarnContext(ctx, "workchain aborted", "reason", d.Err, "iteration", rc.iteration)
			return c.result(rc), d.Err
		}
	}

	c.logger.InfoContext(ctx, "workchain completed", "iterations", rc.iteration)
	res := c.result(rc)
	res.Outputs = outputsOf(rc.restartSource)
	return res, nil
}

// setup validates the inputs and builds the context the loop starts from.
func (c *Controller) setup(ctx context.Context, in domain.WorkchainInputs) (*RestartContext, error) {
	if len(in.Structure.Sites) == 0 {
		return nil, abort(domain.ErrInvalidInputs, 0, "structure has no sites")
	}

	opts := optionsFor(in)
	params := in.Parameters.Clone()
	if opts.MaxWallclockSeconds > 0 {
		// stop pw.x cleanly before the scheduler kills it
		params.Set(domain.NamelistControl, "max_seconds", int(0.95*float64(opts.MaxWallclockSeconds)))
	}

	pseudos, err := c.validatePseudos(ctx, in)
	if err != nil {
		return nil, err
	}

	structure := in.Structure
	calcIn := domain.CalcInputs{
		Code:       in.Code,
		Structure:  &structure,
		Pseudos:    pseudos,
		KPoints:    in.KPoints,
		Parameters: params,
		Settings:   in.Settings.Clone(),
		Options:    opts,
	}
	return newRestartContext(calcIn, in.ParentFolder, in.MaxIterations), nil
}

// optionsFor returns the explicit options, or derives them from the
// automatic parallelization request.
func optionsFor(in domain.WorkchainInputs) domain.Options {
	if in.Options != nil {
		return *in.Options
	}
	if ap := in.AutoParallelization; ap != nil {
		machines := max(ap.MaxNumMachines, 1)
		return domain.Options{
			Resources:           domain.Resources{NumMachines: machines, NumMPIProcsPerMachine: 1},
			MaxWallclockSeconds: ap.MaxWallclockSeconds,
		}
	}
	return domain.Options{Resources: domain.Resources{NumMachines: 1, NumMPIProcsPerMachine: 1}}
}

func (c *Controller) launch(ctx context.Context, rc *RestartContext, rec AttemptRecorder) (*domain.Attempt, error) {
	in, mode := rc.next()
	c.logger.InfoContext(ctx, "launching attempt", "iteration", rc.iteration, "restart_mode", mode)

	var recordID string
	if rec != nil {
		id, err := rec.OpenAttempt(ctx, rc.iteration, mode)
		if err != nil {
			c.logger.ErrorContext(ctx, "open attempt record", "iteration", rc.iteration, "error", err)
		}
		recordID = id
	}

	started := time.Now()
	attempt, err := c.calc.Submit(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("submit attempt %d: %w", rc.iteration, ctxErr)
		}
		c.logger.WarnContext(ctx, "submit attempt", "iteration", rc.iteration, "error", err)
		attempt = &domain.Attempt{Inputs: in, State: domain.CalcStateSubmissionFailed, StartedAt: started, CompletedAt: time.Now()}
	}
	attempt.Index = rc.iteration
	rc.attempts = append(rc.attempts, attempt)

	metrics.AttemptsTotal.WithLabelValues(string(attempt.State)).Inc()
	metrics.AttemptDuration.Observe(time.Since(started).Seconds())

	if rec != nil && recordID != "" {
		if err := rec.CloseAttempt(ctx, recordID, attempt); err != nil {
			c.logger.ErrorContext(ctx, "close attempt record", "iteration", rc.iteration, "error", err)
		}
	}
	return attempt, nil
}

func (c *Controller) result(rc *RestartContext) *Result {
	return &Result{Attempts: rc.attempts, Iterations: rc.iteration}
}

func outputsOf(a *domain.Attempt) *domain.WorkchainOutputs {
	if a == nil {
		return nil
	}
	return &domain.WorkchainOutputs{
		OutputParameters: a.Outputs.Parameters,
		RemoteFolder:     a.Outputs.RemoteFolder,
		Retrieved:        a.Outputs.Retrieved,
		OutputStructure:  a.Outputs.Structure,
	}
}
