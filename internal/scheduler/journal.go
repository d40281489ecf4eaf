package scheduler

import (
	"context"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/repository"
)

// journal records the attempts of one workchain and keeps its iteration
// counter current.
type journal struct {
	workchainID string
	workerID    string
	repo        repository.WorkchainRepository
	attempts    repository.AttemptRepository
	opened      map[string]time.Time
}

func newJournal(workchainID, workerID string, repo repository.WorkchainRepository, attempts repository.AttemptRepository) *journal {
	return &journal{
		workchainID: workchainID,
		workerID:    workerID,
		repo:        repo,
		attempts:    attempts,
		opened:      make(map[string]time.Time),
	}
}

func (j *journal) OpenAttempt(ctx context.Context, index int, restartMode string) (string, error) {
	startedAt := time.Now()
	rec, err := j.attempts.CreateAttempt(ctx, &domain.AttemptRecord{
		WorkchainID: j.workchainID,
		AttemptNum:  index,
		WorkerID:    j.workerID,
		RestartMode: restartMode,
		StartedAt:   startedAt,
	})
	if err != nil {
		return "", err
	}
	j.opened[rec.ID] = startedAt
	return rec.ID, nil
}

func (j *journal) CloseAttempt(ctx context.Context, id string, a *domain.Attempt) error {
	startedAt, ok := j.opened[id]
	if !ok {
		startedAt = a.StartedAt
	}
	delete(j.opened, id)

	if err := j.attempts.CompleteAttempt(ctx, id, a, time.Since(startedAt).Milliseconds()); err != nil {
		return err
	}
	return j.repo.UpdateIterations(ctx, j.workchainID, a.Index)
}
