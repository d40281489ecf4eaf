package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/runner"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
)

// Engine runs one workchain to completion.
type Engine interface {
	Run(ctx context.Context, wc *domain.Workchain, rec workchain.AttemptRecorder) (*workchain.Result, error)
}

// LocalEngine runs workchains with the local pw.x runner. Attempts of a
// workchain live under WORK_DIR/<workchain id>.
type LocalEngine struct {
	runner         *runner.Runner
	cleaner        workchain.FolderCleaner
	families       workchain.PseudoFamilyResolver
	logger         *slog.Logger
	cleanupTimeout time.Duration
}

func NewLocalEngine(
	r *runner.Runner,
	cleaner workchain.FolderCleaner,
	families workchain.PseudoFamilyResolver,
	logger *slog.Logger,
	cleanupTimeout time.Duration,
) *LocalEngine {
	return &LocalEngine{
		runner:         r,
		cleaner:        cleaner,
		families:       families,
		logger:         logger,
		cleanupTimeout: cleanupTimeout,
	}
}

func (e *LocalEngine) Run(ctx context.Context, wc *domain.Workchain, rec workchain.AttemptRecorder) (*workchain.Result, error) {
	c := workchain.NewController(e.runner.Scoped(wc.ID), e.cleaner, e.families, e.logger, e.cleanupTimeout)
	return c.Run(ctx, wc.Inputs, rec)
}
