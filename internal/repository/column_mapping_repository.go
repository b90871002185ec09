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

var columnMappingColumns = []string{
	"id", "institution_id", "target_type", "raw_header", "field", "confidence", "usage_count", "last_used",
}

type columnMappingRepository struct {
	db db.DBTX
}

// NewColumnMappingRepository wires the learner memory on top of a pgx executor.
func NewColumnMappingRepository(exec db.DBTX) ColumnMappingRepository {
	return &columnMappingRepository{db: exec}
}

func scopedMappingQuery(targetType string, institutionID uuid.NullUUID) sq.SelectBuilder {
	query := psql.Select(columnMappingColumns...).
		From("column_mappings").
		Where(sq.Eq{"target_type": targetType})
	if institutionID.Valid {
		return query.Where(sq.Eq{"institution_id": institutionID.UUID})
	}
	return query.Where(sq.Eq{"institution_id": nil})
}

func (r *columnMappingRepository) FindBest(ctx context.Context, targetType, header string, institutionID uuid.NullUUID) (domain.ColumnMapping, bool, error) {
	query := scopedMappingQuery(targetType, institutionID).
		Where("lower(raw_header) = lower(?)", header).
		OrderBy("confidence DESC", "usage_count DESC", "last_used DESC").
		Limit(1)
	return r.findOne(ctx, query)
}

func (r *columnMappingRepository) findOne(ctx context.Context, query sq.SelectBuilder) (domain.ColumnMapping, bool, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return domain.ColumnMapping{}, false, fmt.Errorf("failed to build column mapping query: %w", err)
	}

	mapping, err := scanColumnMapping(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ColumnMapping{}, false, nil
	}
	if err != nil {
		return domain.ColumnMapping{}, false, fmt.Errorf("failed to find column mapping: %w", err)
	}
	return mapping, true, nil
}

// Reinforce upserts on the scope key so concurrent confirmations of the same
// header each count once.
func (r *columnMappingRepository) Reinforce(ctx context.Context, mapping domain.ColumnMapping) (domain.ColumnMapping, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO column_mappings AS m (id, institution_id, target_type, raw_header, field, confidence, usage_count, last_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (target_type, raw_header, COALESCE(institution_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET
		     usage_count = CASE WHEN m.field = EXCLUDED.field THEN m.usage_count + 1 ELSE EXCLUDED.usage_count END,
		     confidence = CASE WHEN m.field = EXCLUDED.field THEN m.confidence ELSE EXCLUDED.confidence END,
		     field = EXCLUDED.field,
		     last_used = EXCLUDED.last_used
		 RETURNING id, institution_id, target_type, raw_header, field, confidence, usage_count, last_used`,
		mapping.ID,
		toPgUUID(mapping.InstitutionID),
		mapping.TargetType,
		mapping.RawHeader,
		mapping.Field,
		mapping.Confidence,
		mapping.UsageCount,
		mapping.LastUsed,
	)
	stored, err := scanColumnMapping(row)
	if err != nil {
		return domain.ColumnMapping{}, fmt.Errorf("failed to reinforce column mapping: %w", err)
	}
	return stored, nil
}

func scanColumnMapping(row pgx.Row) (domain.ColumnMapping, error) {
	var (
		mapping       domain.ColumnMapping
		institutionID pgtype.UUID
	)
	if err := row.Scan(
		&mapping.ID,
		&institutionID,
		&mapping.TargetType,
		&mapping.RawHeader,
		&mapping.Field,
		&mapping.Confidence,
		&mapping.UsageCount,
		&mapping.LastUsed,
	); err != nil {
		return domain.ColumnMapping{}, err
	}
	mapping.InstitutionID = fromPgUUID(institutionID)
	return mapping, nil
}
