package repository

import "context"

type UserRepository interface {
	// Upsert records the subject of an authenticated token so workchains
	// can reference it.
	Upsert(ctx context.Context, id string) error
}
