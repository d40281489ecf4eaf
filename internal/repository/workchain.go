package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
)

type ListWorkchainsInput struct {
	UserID     string
	Status     domain.Status // empty = all statuses
	CursorTime *time.Time    // nil = first page
	CursorID   string        // used only when CursorTime is non-nil
	Limit      int
}

type WorkchainRepository interface {
	Create(ctx context.Context, wc *domain.Workchain) (*domain.Workchain, error)
	GetByID(ctx context.Context, id, userID string) (*domain.Workchain, error)
	List(ctx context.Context, input ListWorkchainsInput) ([]*domain.Workchain, error)

	// Worker methods. A claimed workchain is owned by one worker until it
	// is finished or aborted; there is no retry at this level since the
	// restart loop lives inside the workchain.
	Claim(ctx context.Context, workerID string, limit int) ([]*domain.Workchain, error)
	UpdateHeartbeat(ctx context.Context, id string) error
	UpdateIterations(ctx context.Context, id string, iterations int) error
	// Finish and Abort return domain.ErrWorkchainNotRunning when the
	// workchain already left the running state, e.g. reaped.
	Finish(ctx context.Context, id string, outputs *domain.WorkchainOutputs, iterations int) error
	Abort(ctx context.Context, id, reason string, iterations int) error

	// Reaper: running workchains whose worker stopped heartbeating.
	AbortStale(ctx context.Context, staleCutoff time.Time, limit int) ([]*domain.Workchain, error)

	// Janitor: terminated workchains whose work directory can be removed.
	FindPurgeable(ctx context.Context, completedBefore time.Time, limit int) ([]string, error)
	MarkPurged(ctx context.Context, id string) error
}
