package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/repository"
)

const reapBatch = 100

// Reaper aborts running workchains whose worker stopped heartbeating. A
// workchain is never restarted from scratch behind the user's back: its
// attempts may have left partial state in the work directory.
type Reaper struct {
	repo             repository.WorkchainRepository
	notifier         Notifier
	logger           *slog.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
}

func NewReaper(repo repository.WorkchainRepository, notifier Notifier, logger *slog.Logger, interval, heartbeatTimeout time.Duration) *Reaper {
	return &Reaper{
		repo:             repo,
		notifier:         notifier,
		logger:           logger.With("component", "reaper"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	staleCutoff := time.Now().Add(-r.heartbeatTimeout)

	aborted, err := r.repo.AbortStale(ctx, staleCutoff, reapBatch)
	if err != nil {
		r.logger.Error("abort stale workchains", "error", err)
		return
	}
	if len(aborted) == 0 {
		return
	}

	metrics.ReaperAbortedTotal.Add(float64(len(aborted)))
	r.logger.Warn("aborted stale workchains", "count", len(aborted))
	for _, wc := range aborted {
		r.notifier.WorkchainDone(ctx, wc)
	}
}
