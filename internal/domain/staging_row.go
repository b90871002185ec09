package domain

import (
	"maps"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
)

// RawValues holds the cells of one source row keyed by header. Cells are
// always strings; blanks are null.
type RawValues map[string]null.String

// Get returns the cell text for header, or "" when missing or null.
func (r RawValues) Get(header string) string {
	if header == "" {
		return ""
	}
	v, ok := r[header]
	if !ok || !v.Valid {
		return ""
	}
	return v.String
}

// Clone returns an independent copy.
func (r RawValues) Clone() RawValues {
	if r == nil {
		return RawValues{}
	}
	return maps.Clone(r)
}

// StagingRow is one quarantined source row awaiting execution.
type StagingRow struct {
	ID         uuid.UUID
	BatchID    uuid.UUID
	RowNumber  int
	Raw        RawValues
	Normalized map[string]any
	Valid      bool
	Errors     []string
	RecordID   uuid.NullUUID
	Snapshot   *RecordSnapshot
}

// NewStagingRow builds an unvalidated row holding its own copy of values.
func NewStagingRow(batchID uuid.UUID, rowNumber int, values RawValues) StagingRow {
	return StagingRow{
		ID:        uuid.New(),
		BatchID:   batchID,
		RowNumber: rowNumber,
		Raw:       values.Clone(),
		Errors:    []string{},
	}
}
