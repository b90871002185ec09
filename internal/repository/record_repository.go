package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const recordColumns = `id, student_id, period, grades, source_batch_id, version, is_active, parent_version_id, created_at`

type recordRepository struct {
	db db.DBTX
}

// NewRecordRepository wires an academic record repository on top of a pgx executor.
func NewRecordRepository(exec db.DBTX) RecordRepository {
	return &recordRepository{db: exec}
}

func (r *recordRepository) FindActive(ctx context.Context, studentID uuid.UUID, period int) (domain.AcademicRecord, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+recordColumns+`
		 FROM academic_records
		 WHERE student_id = $1 AND period = $2 AND is_active
		 FOR UPDATE`,
		studentID, period,
	)
	return scanRecord(row)
}

func (r *recordRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.AcademicRecord, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM academic_records WHERE id = $1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (r *recordRepository) Insert(ctx context.Context, record domain.AcademicRecord) error {
	grades, err := marshalJSON(record.Grades)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO academic_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.StudentID,
		record.Period,
		grades,
		toPgUUID(record.SourceBatchID),
		record.Version,
		record.IsActive,
		toPgUUID(record.ParentID),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert academic record: %w", err)
	}
	return nil
}

func (r *recordRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.db.Exec(ctx, `UPDATE academic_records SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update academic record state: %w", err)
	}
	return nil
}

func (r *recordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM academic_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete academic record: %w", err)
	}
	return nil
}

func (r *recordRepository) Relink(ctx context.Context, id uuid.UUID, newParent uuid.NullUUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE academic_records SET parent_version_id = $2 WHERE parent_version_id = $1`,
		id, toPgUUID(newParent),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to relink academic record versions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (domain.AcademicRecord, bool, error) {
	var (
		record        domain.AcademicRecord
		grades        []byte
		sourceBatchID pgtype.UUID
		parentID      pgtype.UUID
	)
	err := row.Scan(
		&record.ID,
		&record.StudentID,
		&record.Period,
		&grades,
		&sourceBatchID,
		&record.Version,
		&record.IsActive,
		&parentID,
		&record.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AcademicRecord{}, false, nil
	}
	if err != nil {
		return domain.AcademicRecord{}, false, fmt.Errorf("failed to scan academic record: %w", err)
	}

	record.Grades = domain.Grades{}
	if err := unmarshalJSON(grades, &record.Grades); err != nil {
		return domain.AcademicRecord{}, false, err
	}
	record.SourceBatchID = fromPgUUID(sourceBatchID)
	record.ParentID = fromPgUUID(parentID)
	return record, true, nil
}
