package repository

import (
	"context"

	"github.com/rpattn/stagedimport/internal/db"
)

// PostgresStore hands out pgx-backed repositories.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore builds a store on a pool (pgxpool.Pool or pgxmock).
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Repositories returns repositories running outside any transaction.
func (s *PostgresStore) Repositories() Repositories {
	return newRepositories(s.pool)
}

// WithTx runs fn with repositories bound to one transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(repos Repositories) error) error {
	return db.WithTx(ctx, s.pool, func(tx db.DBTX) error {
		return fn(newRepositories(tx))
	})
}

func newRepositories(exec db.DBTX) Repositories {
	return Repositories{
		Batches:  NewBatchRepository(exec),
		Rows:     NewStagingRowRepository(exec),
		Mappings: NewColumnMappingRepository(exec),
		Students: NewStudentRepository(exec),
		Records:  NewRecordRepository(exec),
	}
}
