package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchColumnNames = []string{
	"id", "user_id", "institution_id", "file_name", "file_key", "file_hash", "target_type", "status",
	"headers", "column_map", "period", "total_rows", "processed_rows", "succeeded_rows", "failed_rows",
	"error_log", "created_at", "updated_at",
}

func batchRows(batches ...domain.ImportBatch) *pgxmock.Rows {
	rows := pgxmock.NewRows(batchColumnNames)
	for _, b := range batches {
		params, err := batchParams(b)
		if err != nil {
			panic(err)
		}
		rows.AddRow(params...)
	}
	return rows
}

func sampleBatch() domain.ImportBatch {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	batch := domain.NewImportBatch("docente-1", uuid.NullUUID{UUID: uuid.New(), Valid: true}, "notas.csv", "abc123", "academic_record", now)
	batch.Headers = []string{"CODIGO", "MATEMATICAS"}
	batch.TotalRows = 2
	return batch
}

func TestBatchRepository_Get(t *testing.T) {
	t.Run("nominal", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		want := sampleBatch()
		want.Mapping = domain.ColumnMap{"CODIGO": domain.FieldStudentCode}
		mock.ExpectQuery(regexp.QuoteMeta("FROM import_batches WHERE id = $1")).
			WithArgs(want.ID).
			WillReturnRows(batchRows(want))

		got, err := NewBatchRepository(mock).Get(context.Background(), want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.InstitutionID, got.InstitutionID)
		assert.Equal(t, want.Headers, got.Headers)
		assert.Equal(t, want.Mapping, got.Mapping)
		assert.Equal(t, domain.BatchPending, got.Status)
		assert.False(t, got.Period.Valid)
		assert.Empty(t, got.Log)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta("FROM import_batches WHERE id = $1 FOR UPDATE")).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(batchColumnNames))

		_, err = NewBatchRepository(mock).GetForUpdate(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrBatchNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBatchRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	batch := sampleBatch()
	params, err := batchParams(batch)
	require.NoError(t, err)
	assert.Equal(t, pgtype.UUID{Bytes: batch.InstitutionID.UUID, Valid: true}, params[2])
	assert.Nil(t, params[9], "unconfirmed mapping is stored as NULL")

	mock.ExpectExec("INSERT INTO import_batches").
		WithArgs(params...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewBatchRepository(mock).Create(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepository_Update(t *testing.T) {
	t.Run("nominal", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		batch := sampleBatch()
		batch.Status = domain.BatchStaging
		mock.ExpectExec("UPDATE import_batches").
			WithArgs(batch.ID, "STAGING", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				2, 0, 0, 0, pgxmock.AnyArg(), batch.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewBatchRepository(mock).Update(context.Background(), batch))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("UPDATE import_batches").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = NewBatchRepository(mock).Update(context.Background(), sampleBatch())
		assert.True(t, errors.Is(err, domain.ErrBatchNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBatchRepository_FindByHashSkipsRolledBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	batch := sampleBatch()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE file_hash = $1 AND status <> $2")).
		WithArgs("abc123", "ROLLED_BACK").
		WillReturnRows(batchRows(batch))

	got, err := NewBatchRepository(mock).FindByHash(context.Background(), "abc123")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, batch.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepository_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM import_batches WHERE status IN ($1,$2) AND user_id = $3 ORDER BY created_at DESC LIMIT 50 OFFSET 10")).
		WithArgs("COMPLETED", "PARTIAL_SUCCESS", "docente-1").
		WillReturnRows(batchRows())

	got, err := NewBatchRepository(mock).List(context.Background(), BatchFilter{
		Statuses: []domain.BatchStatus{domain.BatchCompleted, domain.BatchPartialSuccess},
		UserID:   "docente-1",
		Offset:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
