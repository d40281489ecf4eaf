package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/repository"
	"github.com/robfig/cron/v3"
)

const purgeBatch = 100

// Purger removes a directory tree below the work directory.
type Purger interface {
	RemoveAll(path string) error
}

// Janitor removes the work directories of workchains that terminated more
// than retention ago. It wakes up on a standard five-field cron schedule.
type Janitor struct {
	repo      repository.WorkchainRepository
	purger    Purger
	workDir   string
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewJanitor(repo repository.WorkchainRepository, purger Purger, workDir, schedule string, retention time.Duration, logger *slog.Logger) (*Janitor, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{
		repo:      repo,
		purger:    purger,
		workDir:   workDir,
		schedule:  sched,
		retention: retention,
		logger:    logger.With("component", "janitor"),
		now:       time.Now,
	}, nil
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("janitor started", "retention", j.retention)

	for {
		next := j.schedule.Next(j.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("janitor shut down")
			return
		case <-timer.C:
			j.Purge(ctx)
		}
	}
}

// Purge runs one sweep and returns the number of directories removed.
func (j *Janitor) Purge(ctx context.Context) int {
	ids, err := j.repo.FindPurgeable(ctx, j.now().Add(-j.retention), purgeBatch)
	if err != nil {
		j.logger.Error("find purgeable workchains", "error", err)
		return 0
	}

	purged := 0
	for _, id := range ids {
		if err := j.purger.RemoveAll(filepath.Join(j.workDir, id)); err != nil {
			metrics.JanitorPurgedTotal.WithLabelValues("error").Inc()
			j.logger.Warn("remove work directory", "workchain_id", id, "error", err)
			continue
		}
		if err := j.repo.MarkPurged(ctx, id); err != nil {
			metrics.JanitorPurgedTotal.WithLabelValues("error").Inc()
			j.logger.Error("mark workchain purged", "workchain_id", id, "error", err)
			continue
		}
		metrics.JanitorPurgedTotal.WithLabelValues("ok").Inc()
		purged++
	}

	if purged > 0 {
		j.logger.Info("purged work directories", "count", purged)
	}
	return purged
}
