package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_WithTxCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	batchID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students AS s")).
		WithArgs(batchID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	var removed int64
	err = NewPostgresStore(mock).WithTx(context.Background(), func(repos Repositories) error {
		var err error
		removed, err = repos.Students.DeleteProvisionedOrphans(context.Background(), batchID)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTxRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM import_batches").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(batchColumnNames))
	mock.ExpectRollback()

	err = NewPostgresStore(mock).WithTx(context.Background(), func(repos Repositories) error {
		_, err := repos.Batches.GetForUpdate(context.Background(), id)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrBatchNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumnMappingRepository_FindBestGlobalScope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM column_mappings WHERE target_type = $1 AND institution_id IS NULL AND lower(raw_header) = lower($2) ORDER BY confidence DESC")).
		WithArgs("academic_record", "Cod. Alumno").
		WillReturnRows(pgxmock.NewRows([]string{"id", "institution_id", "target_type", "raw_header", "field", "confidence", "usage_count", "last_used"}))

	_, ok, err := NewColumnMappingRepository(mock).FindBest(context.Background(), "academic_record", "Cod. Alumno", uuid.NullUUID{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
