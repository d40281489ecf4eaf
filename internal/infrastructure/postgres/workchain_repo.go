package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workchainColumns = `
	id, user_id, label, notify_email, inputs, status, iterations, outputs,
	abort_reason, claimed_at, claimed_by, heartbeat_at, completed_at,
	workdir_purged_at, created_at, updated_at`

type WorkchainRepository struct {
	pool *pgxpool.Pool
}

func NewWorkchainRepository(pool *pgxpool.Pool) *WorkchainRepository {
	return &WorkchainRepository{pool: pool}
}

func (r *WorkchainRepository) Create(ctx context.Context, wc *domain.Workchain) (*domain.Workchain, error) {
	query := `
		INSERT INTO workchains (user_id, label, notify_email, inputs, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING` + workchainColumns

	row := r.pool.QueryRow(ctx, query, wc.UserID, wc.Label, wc.NotifyEmail, wc.Inputs, wc.Status)
	return scanWorkchain(row)
}

func (r *WorkchainRepository) GetByID(ctx context.Context, id, userID string) (*domain.Workchain, error) {
	query := `SELECT` + workchainColumns + `
		FROM workchains
		WHERE id = $1 AND user_id = $2`

	row := r.pool.QueryRow(ctx, query, id, userID)
	return scanWorkchain(row)
}

func (r *WorkchainRepository) List(ctx context.Context, input repository.ListWorkchainsInput) ([]*domain.Workchain, error) {
	args := []any{input.UserID}
	where := []string{"user_id = $1"}

	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`SELECT %s
		FROM workchains
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		workchainColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workchains: %w", err)
	}
	defer rows.Close()
	return collectWorkchains(rows)
}

func (r *WorkchainRepository) Claim(ctx context.Context, workerID string, limit int) ([]*domain.Workchain, error) {
	// FOR UPDATE SKIP LOCKED prevents two workers from running one workchain.
	query := `
		UPDATE workchains
		SET    status       = 'running',
		       claimed_at   = NOW(),
		       claimed_by   = $1,
		       heartbeat_at = NOW(),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM workchains
			WHERE  status = 'pending'
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + workchainColumns

	rows, err := r.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim workchains: %w", err)
	}
	defer rows.Close()
	return collectWorkchains(rows)
}

func (r *WorkchainRepository) UpdateHeartbeat(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workchains SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'`, id)
	return err
}

func (r *WorkchainRepository) UpdateIterations(ctx context.Context, id string, iterations int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workchains SET iterations = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`, id, iterations)
	return err
}

func (r *WorkchainRepository) Finish(ctx context.Context, id string, outputs *domain.WorkchainOutputs, iterations int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workchains
		SET    status       = 'finished',
		       outputs      = $2,
		       iterations   = $3,
		       completed_at = NOW(),
		       updated_at   = NOW()
		WHERE id = $1 AND status = 'running'`, id, outputs, iterations)
	return terminalWrite(tag, err)
}

func (r *WorkchainRepository) Abort(ctx context.Context, id, reason string, iterations int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workchains
		SET    status       = 'aborted',
		       abort_reason = $2,
		       iterations   = $3,
		       completed_at = NOW(),
		       updated_at   = NOW()
		WHERE id = $1 AND status = 'running'`, id, reason, iterations)
	return terminalWrite(tag, err)
}

func terminalWrite(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkchainNotRunning
	}
	return nil
}

func (r *WorkchainRepository) AbortStale(ctx context.Context, staleCutoff time.Time, limit int) ([]*domain.Workchain, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE workchains
		SET    status       = 'aborted',
		       abort_reason = 'worker timeout',
		       completed_at = NOW(),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM workchains
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+workchainColumns, staleCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("abort stale workchains: %w", err)
	}
	defer rows.Close()
	return collectWorkchains(rows)
}

func (r *WorkchainRepository) FindPurgeable(ctx context.Context, completedBefore time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM workchains
		WHERE  status IN ('finished', 'aborted')
		  AND  completed_at < $1
		  AND  workdir_purged_at IS NULL
		ORDER BY completed_at ASC
		LIMIT $2`, completedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("find purgeable workchains: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan purgeable workchain: %w", err)
	}
	return ids, nil
}

func (r *WorkchainRepository) MarkPurged(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workchains SET workdir_purged_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func collectWorkchains(rows pgx.Rows) ([]*domain.Workchain, error) {
	var out []*domain.Workchain
	for rows.Next() {
		wc, err := scanWorkchain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workchains: %w", err)
	}
	return out, nil
}

// inputs and outputs are jsonb columns; pgx marshals them with encoding/json.
func scanWorkchain(row rowScanner) (*domain.Workchain, error) {
	var wc domain.Workchain
	err := row.Scan(
		&wc.ID, &wc.UserID, &wc.Label, &wc.NotifyEmail, &wc.Inputs, &wc.Status,
		&wc.Iterations, &wc.Outputs, &wc.AbortReason, &wc.ClaimedAt, &wc.ClaimedBy,
		&wc.HeartbeatAt, &wc.CompletedAt, &wc.WorkdirPurgedAt, &wc.CreatedAt, &wc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkchainNotFound
		}
		return nil, fmt.Errorf("scan workchain: %w", err)
	}
	return &wc, nil
}
