package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const batchColumns = `id, user_id, institution_id, file_name, file_key, file_hash, target_type, status,
	headers, column_map, period, total_rows, processed_rows, succeeded_rows, failed_rows,
	error_log, created_at, updated_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type batchRepository struct {
	db db.DBTX
}

// NewBatchRepository wires a batch repository on top of a pgx executor.
func NewBatchRepository(exec db.DBTX) BatchRepository {
	return &batchRepository{db: exec}
}

func (r *batchRepository) Create(ctx context.Context, batch domain.ImportBatch) error {
	params, err := batchParams(batch)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO import_batches (`+batchColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		params...,
	)
	if err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

func (r *batchRepository) Get(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	row := r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	return scanBatchOrNotFound(row, id)
}

func (r *batchRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	row := r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1 FOR UPDATE`, id)
	return scanBatchOrNotFound(row, id)
}

func (r *batchRepository) Update(ctx context.Context, batch domain.ImportBatch) error {
	headers, err := marshalJSON(batch.Headers)
	if err != nil {
		return err
	}
	var columnMap []byte
	if batch.Mapping != nil {
		if columnMap, err = marshalJSON(batch.Mapping); err != nil {
			return err
		}
	}
	errorLog, err := marshalJSON(batch.Log)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE import_batches
		 SET status = $2,
		     file_key = $3,
		     headers = $4,
		     column_map = $5,
		     period = $6,
		     total_rows = $7,
		     processed_rows = $8,
		     succeeded_rows = $9,
		     failed_rows = $10,
		     error_log = $11,
		     updated_at = $12
		 WHERE id = $1`,
		batch.ID,
		string(batch.Status),
		batch.FileKey,
		headers,
		columnMap,
		toPgInt4(batch.Period),
		batch.TotalRows,
		batch.ProcessedRows,
		batch.SucceededRows,
		batch.FailedRows,
		errorLog,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update import batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrBatchNotFound, "batch %s", batch.ID)
	}
	return nil
}

func (r *batchRepository) FindByHash(ctx context.Context, fileHash string) ([]domain.ImportBatch, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+batchColumns+`
		 FROM import_batches
		 WHERE file_hash = $1 AND status <> $2
		 ORDER BY created_at ASC`,
		fileHash, string(domain.BatchRolledBack),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find batches by hash: %w", err)
	}
	return collectBatches(rows)
}

func (r *batchRepository) List(ctx context.Context, filter BatchFilter) ([]domain.ImportBatch, error) {
	query := psql.Select(batchColumns).From("import_batches").OrderBy("created_at DESC")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where(sq.Eq{"status": statuses})
	}
	if filter.UserID != "" {
		query = query.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.InstitutionID.Valid {
		query = query.Where(sq.Eq{"institution_id": filter.InstitutionID.UUID})
	}
	limit := filter.Limit
	if limit == 0 {
		limit = 50
	}
	query = query.Limit(limit).Offset(filter.Offset)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build batch list query: %w", err)
	}
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", err)
	}
	return collectBatches(rows)
}

func batchParams(batch domain.ImportBatch) ([]any, error) {
	headers, err := marshalJSON(batch.Headers)
	if err != nil {
		return nil, err
	}
	var columnMap []byte
	if batch.Mapping != nil {
		if columnMap, err = marshalJSON(batch.Mapping); err != nil {
			return nil, err
		}
	}
	errorLog, err := marshalJSON(batch.Log)
	if err != nil {
		return nil, err
	}
	return []any{
		batch.ID,
		batch.UserID,
		toPgUUID(batch.InstitutionID),
		batch.FileName,
		batch.FileKey,
		batch.FileHash,
		batch.TargetType,
		string(batch.Status),
		headers,
		columnMap,
		toPgInt4(batch.Period),
		batch.TotalRows,
		batch.ProcessedRows,
		batch.SucceededRows,
		batch.FailedRows,
		errorLog,
		batch.CreatedAt,
		batch.UpdatedAt,
	}, nil
}

func scanBatch(row pgx.Row) (domain.ImportBatch, error) {
	var (
		batch         domain.ImportBatch
		institutionID pgtype.UUID
		status        string
		headers       []byte
		columnMap     []byte
		period        pgtype.Int4
		errorLog      []byte
	)
	if err := row.Scan(
		&batch.ID,
		&batch.UserID,
		&institutionID,
		&batch.FileName,
		&batch.FileKey,
		&batch.FileHash,
		&batch.TargetType,
		&status,
		&headers,
		&columnMap,
		&period,
		&batch.TotalRows,
		&batch.ProcessedRows,
		&batch.SucceededRows,
		&batch.FailedRows,
		&errorLog,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		return domain.ImportBatch{}, err
	}

	batch.InstitutionID = fromPgUUID(institutionID)
	batch.Status = domain.BatchStatus(status)
	batch.Period = fromPgInt4(period)
	batch.Headers = []string{}
	batch.Log = []domain.LogEntry{}
	if err := unmarshalJSON(headers, &batch.Headers); err != nil {
		return domain.ImportBatch{}, err
	}
	if len(columnMap) > 0 {
		if err := unmarshalJSON(columnMap, &batch.Mapping); err != nil {
			return domain.ImportBatch{}, err
		}
	}
	if err := unmarshalJSON(errorLog, &batch.Log); err != nil {
		return domain.ImportBatch{}, err
	}
	return batch, nil
}

func scanBatchOrNotFound(row pgx.Row, id uuid.UUID) (domain.ImportBatch, error) {
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportBatch{}, errors.Wrapf(domain.ErrBatchNotFound, "batch %s", id)
	}
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to get import batch: %w", err)
	}
	return batch, nil
}

func collectBatches(rows pgx.Rows) ([]domain.ImportBatch, error) {
	defer rows.Close()

	batches := []domain.ImportBatch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import batches: %w", err)
	}
	return batches, nil
}
