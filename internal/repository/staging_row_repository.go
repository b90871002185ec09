package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const stagingRowColumns = `id, batch_id, row_number, raw, normalized, is_valid, errors, record_id, snapshot`

var stagingCopyColumns = []string{"id", "batch_id", "row_number", "raw", "is_valid", "errors"}

type stagingRowRepository struct {
	db db.DBTX
}

// NewStagingRowRepository wires a staging row repository on top of a pgx executor.
func NewStagingRowRepository(exec db.DBTX) StagingRowRepository {
	return &stagingRowRepository{db: exec}
}

// Insert bulk-loads rows with COPY.
func (r *stagingRowRepository) Insert(ctx context.Context, rows []domain.StagingRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	copied, err := r.db.CopyFrom(ctx, pgx.Identifier{"staging_rows"}, stagingCopyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			raw, err := marshalJSON(row.Raw)
			if err != nil {
				return nil, err
			}
			errs, err := marshalJSON(nonNilStrings(row.Errors))
			if err != nil {
				return nil, err
			}
			return []any{row.ID, row.BatchID, row.RowNumber, raw, row.Valid, errs}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy staging rows: %w", err)
	}
	return copied, nil
}

func (r *stagingRowRepository) ListPending(ctx context.Context, batchID uuid.UUID, afterRow int, limit int) ([]domain.StagingRow, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+stagingRowColumns+`
		 FROM staging_rows
		 WHERE batch_id = $1 AND is_valid = false AND record_id IS NULL AND row_number > $2
		 ORDER BY row_number ASC
		 LIMIT $3`,
		batchID, afterRow, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending staging rows: %w", err)
	}
	return collectStagingRows(rows)
}

// ApplyOutcomes writes execution results for many rows in one statement.
func (r *stagingRowRepository) ApplyOutcomes(ctx context.Context, outcomes []RowOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	var (
		ids        = make([]string, len(outcomes))
		valid      = make([]bool, len(outcomes))
		errs       = make([]string, len(outcomes))
		recordIDs  = make([]string, len(outcomes))
		snapshots  = make([]string, len(outcomes))
		normalized = make([]string, len(outcomes))
	)
	for i, outcome := range outcomes {
		ids[i] = outcome.RowID.String()
		valid[i] = outcome.Valid

		payload, err := marshalJSON(nonNilStrings(outcome.Errors))
		if err != nil {
			return err
		}
		errs[i] = string(payload)

		if outcome.RecordID.Valid {
			recordIDs[i] = outcome.RecordID.UUID.String()
		}
		if outcome.Snapshot != nil {
			payload, err := marshalJSON(outcome.Snapshot)
			if err != nil {
				return err
			}
			snapshots[i] = string(payload)
		}
		if outcome.Normalized != nil {
			payload, err := marshalJSON(outcome.Normalized)
			if err != nil {
				return err
			}
			normalized[i] = string(payload)
		}
	}

	_, err := r.db.Exec(ctx,
		`UPDATE staging_rows AS s
		 SET is_valid = v.is_valid,
		     errors = v.errors::jsonb,
		     record_id = NULLIF(v.record_id, '')::uuid,
		     snapshot = NULLIF(v.snapshot, '')::jsonb,
		     normalized = NULLIF(v.normalized, '')::jsonb
		 FROM unnest($1::uuid[], $2::boolean[], $3::text[], $4::text[], $5::text[], $6::text[])
		      AS v(id, is_valid, errors, record_id, snapshot, normalized)
		 WHERE s.id = v.id`,
		ids, valid, errs, recordIDs, snapshots, normalized,
	)
	if err != nil {
		return fmt.Errorf("failed to apply staging row outcomes: %w", err)
	}
	return nil
}

func (r *stagingRowRepository) LockApplied(ctx context.Context, batchID uuid.UUID) ([]domain.StagingRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+stagingRowColumns+`
		 FROM staging_rows
		 WHERE batch_id = $1 AND (record_id IS NOT NULL OR is_valid)
		 ORDER BY row_number ASC
		 FOR UPDATE`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock applied staging rows: %w", err)
	}
	return collectStagingRows(rows)
}

// ResetApplied marks rows invalid, clears their record link and snapshot and
// appends each note to the row's error list.
func (r *stagingRowRepository) ResetApplied(ctx context.Context, resets []RowReset) error {
	if len(resets) == 0 {
		return nil
	}

	ids := make([]string, len(resets))
	notes := make([]string, len(resets))
	for i, reset := range resets {
		ids[i] = reset.RowID.String()
		notes[i] = reset.Note
	}

	_, err := r.db.Exec(ctx,
		`UPDATE staging_rows AS s
		 SET is_valid = false,
		     record_id = NULL,
		     snapshot = NULL,
		     errors = s.errors || jsonb_build_array(v.note)
		 FROM unnest($1::uuid[], $2::text[]) AS v(id, note)
		 WHERE s.id = v.id`,
		ids, notes,
	)
	if err != nil {
		return fmt.Errorf("failed to reset staging rows: %w", err)
	}
	return nil
}

func (r *stagingRowRepository) ListErrors(ctx context.Context, batchID uuid.UUID) ([]domain.StagingRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+stagingRowColumns+`
		 FROM staging_rows
		 WHERE batch_id = $1 AND jsonb_array_length(errors) > 0
		 ORDER BY row_number ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging row errors: %w", err)
	}
	return collectStagingRows(rows)
}

func collectStagingRows(rows pgx.Rows) ([]domain.StagingRow, error) {
	defer rows.Close()

	result := []domain.StagingRow{}
	for rows.Next() {
		var (
			row        domain.StagingRow
			raw        []byte
			normalized []byte
			errs       []byte
			recordID   pgtype.UUID
			snapshot   []byte
		)
		if err := rows.Scan(
			&row.ID,
			&row.BatchID,
			&row.RowNumber,
			&raw,
			&normalized,
			&row.Valid,
			&errs,
			&recordID,
			&snapshot,
		); err != nil {
			return nil, fmt.Errorf("failed to scan staging row: %w", err)
		}

		row.Raw = domain.RawValues{}
		row.Errors = []string{}
		if err := unmarshalJSON(raw, &row.Raw); err != nil {
			return nil, err
		}
		if len(normalized) > 0 {
			if err := unmarshalJSON(normalized, &row.Normalized); err != nil {
				return nil, err
			}
		}
		if err := unmarshalJSON(errs, &row.Errors); err != nil {
			return nil, err
		}
		row.RecordID = fromPgUUID(recordID)
		if len(snapshot) > 0 {
			row.Snapshot = &domain.RecordSnapshot{}
			if err := unmarshalJSON(snapshot, row.Snapshot); err != nil {
				return nil, err
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staging rows: %w", err)
	}
	return result, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
