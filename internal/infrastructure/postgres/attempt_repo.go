package postgres

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `
	id, workchain_id, attempt_num, worker_id, restart_mode, started_at,
	completed_at, calc_id, state, converged, warnings, parser_warnings,
	remote_path, duration_ms`

func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *domain.AttemptRecord) (*domain.AttemptRecord, error) {
	query := `
		INSERT INTO workchain_attempts (workchain_id, attempt_num, worker_id, restart_mode, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING` + attemptColumns

	row := r.pool.QueryRow(ctx, query, a.WorkchainID, a.AttemptNum, a.WorkerID, a.RestartMode, a.StartedAt)
	return scanAttempt(row)
}

func (r *AttemptRepository) CompleteAttempt(ctx context.Context, id string, a *domain.Attempt, durationMS int64) error {
	warnings, parserWarnings := []string{}, []string{}
	if p := a.Outputs.Parameters; p != nil {
		warnings, parserWarnings = p.Warnings, p.ParserWarnings
	}
	var remotePath *string
	if f := a.Outputs.RemoteFolder; f != nil {
		remotePath = &f.Path
	}
	var calcID *string
	if a.ID != "" {
		calcID = &a.ID
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE workchain_attempts
		SET completed_at    = NOW(),
		    calc_id         = $2,
		    state           = $3,
		    converged       = $4,
		    warnings        = $5,
		    parser_warnings = $6,
		    remote_path     = $7,
		    duration_ms     = $8
		WHERE id = $1`,
		id, calcID, a.State, a.Converged, warnings, parserWarnings, remotePath, durationMS,
	)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) ListByWorkchainID(ctx context.Context, workchainID string) ([]*domain.AttemptRecord, error) {
	query := `SELECT` + attemptColumns + `
		FROM workchain_attempts
		WHERE workchain_id = $1
		ORDER BY attempt_num ASC, started_at ASC`

	rows, err := r.pool.Query(ctx, query, workchainID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.AttemptRecord
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row rowScanner) (*domain.AttemptRecord, error) {
	var a domain.AttemptRecord
	err := row.Scan(
		&a.ID, &a.WorkchainID, &a.AttemptNum, &a.WorkerID, &a.RestartMode, &a.StartedAt,
		&a.CompletedAt, &a.CalcID, &a.State, &a.Converged, &a.Warnings, &a.ParserWarnings,
		&a.RemotePath, &a.DurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	return &a, nil
}
