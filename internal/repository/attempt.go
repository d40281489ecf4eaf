package repository

import (
	"context"

	"github.com/ErlanBelekov/pwchain/internal/domain"
)

type AttemptRepository interface {
	// CreateAttempt opens an attempt record at the moment the calculation is
	// submitted. Returns the persisted record with its DB-generated ID.
	CreateAttempt(ctx context.Context, rec *domain.AttemptRecord) (*domain.AttemptRecord, error)

	// CompleteAttempt closes an open record with the terminal state of a.
	CompleteAttempt(ctx context.Context, id string, a *domain.Attempt, durationMS int64) error

	// ListByWorkchainID returns all attempts ordered by attempt number.
	// Ownership is assumed to have been verified by the caller.
	ListByWorkchainID(ctx context.Context, workchainID string) ([]*domain.AttemptRecord, error)
}
