package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	ctxlog "github.com/ErlanBelekov/pwchain/internal/log"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/repository"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
)

const defaultHeartbeatInterval = 10 * time.Second

// Notifier is told about every workchain that reached a terminal status.
type Notifier interface {
	WorkchainDone(ctx context.Context, wc *domain.Workchain)
}

type Worker struct {
	id                string
	repo              repository.WorkchainRepository
	attempts          repository.AttemptRepository
	engine            Engine
	notifier          Notifier
	logger            *slog.Logger
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	concurrency       int
	sem               chan struct{}
}

func NewWorker(
	repo repository.WorkchainRepository,
	attempts repository.AttemptRepository,
	engine Engine,
	notifier Notifier,
	logger *slog.Logger,
	pollInterval time.Duration,
	concurrency int,
) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Worker{
		id:                id,
		repo:              repo,
		attempts:          attempts,
		engine:            engine,
		notifier:          notifier,
		logger:            logger.With("worker_id", id),
		pollInterval:      pollInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		concurrency:       concurrency,
		sem:               make(chan struct{}, concurrency),
	}
}

// SetHeartbeatInterval overrides how often running workchains are marked
// alive. It must be called before Start.
func (w *Worker) SetHeartbeatInterval(d time.Duration) {
	w.heartbeatInterval = d
}

func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()
	ctx = ctxlog.WithWorkerID(ctx, w.id)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "worker started", "concurrency", w.concurrency)

	for {
		select {
		case <-ctx.Done():
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.InfoContext(ctx, "worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return
	}

	workchains, err := w.repo.Claim(ctx, w.id, available)
	if err != nil {
		w.logger.Error("claim workchains", "error", err)
		return
	}

	if len(workchains) == 0 {
		return
	}

	w.logger.Info("claimed workchains", "count", len(workchains), "slots_used", len(w.sem)+len(workchains), "slots_total", cap(w.sem))

	for _, wc := range workchains {
		w.sem <- struct{}{}
		go func(wc *domain.Workchain) {
			metrics.WorkchainsInFlight.Inc()
			defer metrics.WorkchainsInFlight.Dec()
			defer func() { <-w.sem }()
			w.runWorkchain(ctx, wc)
		}(wc)
	}
}

func (w *Worker) runWorkchain(ctx context.Context, wc *domain.Workchain) {
	metrics.WorkchainPickupLatency.Observe(time.Since(wc.CreatedAt).Seconds())
	ctx = ctxlog.WithWorkchainID(ctx, wc.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, wc.ID)

	w.logger.InfoContext(ctx, "running workchain", "label", wc.Label, "max_iterations", wc.Inputs.MaxIterations)

	startedAt := time.Now()
	res, err := w.engine.Run(ctx, wc, newJournal(wc.ID, w.id, w.repo, w.attempts))
	cancelHeartbeat()

	iterations := 0
	if res != nil {
		iterations = res.Iterations
	}
	wc.Iterations = iterations

	if err != nil && ctx.Err() != nil {
		// Shutdown: the workchain stays running and the reaper takes it
		// once the heartbeat is stale.
		w.logger.WarnContext(ctx, "workchain interrupted by shutdown", "iterations", iterations)
		return
	}

	if err != nil {
		reason := err.Error()
		var abortErr *workchain.AbortError
		if !errors.As(err, &abortErr) {
			w.logger.ErrorContext(ctx, "workchain failed outside the restart loop", "error", err)
		}
		if !w.settle(ctx, "aborted", w.repo.Abort(ctx, wc.ID, reason, iterations)) {
			return
		}
		metrics.WorkchainDuration.WithLabelValues("aborted").Observe(time.Since(startedAt).Seconds())
		metrics.WorkchainsCompletedTotal.WithLabelValues("aborted").Inc()
		w.logger.WarnContext(ctx, "workchain aborted", "reason", reason, "iterations", iterations)

		wc.Status = domain.StatusAborted
		wc.AbortReason = &reason
		w.notifier.WorkchainDone(ctx, wc)
		return
	}

	if !w.settle(ctx, "finished", w.repo.Finish(ctx, wc.ID, res.Outputs, iterations)) {
		return
	}
	metrics.WorkchainDuration.WithLabelValues("finished").Observe(time.Since(startedAt).Seconds())
	metrics.WorkchainsCompletedTotal.WithLabelValues("finished").Inc()
	w.logger.InfoContext(ctx, "workchain finished", "iterations", iterations, "duration", time.Since(startedAt))

	wc.Status = domain.StatusFinished
	wc.Outputs = res.Outputs
	w.notifier.WorkchainDone(ctx, wc)
}

// settle reports whether the terminal write for status landed. The owner is
// only notified of a status the database holds.
func (w *Worker) settle(ctx context.Context, status string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrWorkchainNotRunning):
		w.logger.WarnContext(ctx, "workchain left the running state before it could be marked "+status)
	default:
		w.logger.ErrorContext(ctx, "mark workchain "+status, "error", err)
	}
	return false
}

func (w *Worker) heartbeat(ctx context.Context, workchainID string) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.UpdateHeartbeat(ctx, workchainID); err != nil {
				w.logger.WarnContext(ctx, "heartbeat failed", "error", err)
			}
		}
	}
}
