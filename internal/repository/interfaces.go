package repository

import (
	"context"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/google/uuid"
)

// BatchRepository persists import batches.
type BatchRepository interface {
	Create(ctx context.Context, batch domain.ImportBatch) error
	Get(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error)
	// GetForUpdate locks the batch row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error)
	Update(ctx context.Context, batch domain.ImportBatch) error
	FindByHash(ctx context.Context, fileHash string) ([]domain.ImportBatch, error)
	List(ctx context.Context, filter BatchFilter) ([]domain.ImportBatch, error)
}

// StagingRowRepository is the quarantine area for uploaded rows.
type StagingRowRepository interface {
	Insert(ctx context.Context, rows []domain.StagingRow) (int64, error)
	// ListPending returns unvalidated rows with row numbers above afterRow,
	// in row order.
	ListPending(ctx context.Context, batchID uuid.UUID, afterRow int, limit int) ([]domain.StagingRow, error)
	ApplyOutcomes(ctx context.Context, outcomes []RowOutcome) error
	// LockApplied locks every row execution accepted: rows that reference a
	// record and valid rows that wrote nothing.
	LockApplied(ctx context.Context, batchID uuid.UUID) ([]domain.StagingRow, error)
	ResetApplied(ctx context.Context, resets []RowReset) error
	ListErrors(ctx context.Context, batchID uuid.UUID) ([]domain.StagingRow, error)
}

// ColumnMappingRepository stores learned header mappings.
type ColumnMappingRepository interface {
	// FindBest matches header case-insensitively within exactly one scope.
	// A NULL institution is the global scope.
	FindBest(ctx context.Context, targetType, header string, institutionID uuid.NullUUID) (domain.ColumnMapping, bool, error)
	// Reinforce atomically stores one confirmation of mapping. A new header
	// is inserted as given; an existing one gains a use when the field
	// matches and is replaced with fresh counters when it does not.
	Reinforce(ctx context.Context, mapping domain.ColumnMapping) (domain.ColumnMapping, error)
}

// StudentRepository stores identities.
type StudentRepository interface {
	FindByDocument(ctx context.Context, document string) (domain.Student, bool, error)
	Create(ctx context.Context, student domain.Student) error
	// DeleteProvisionedOrphans removes identities created by batchID that own no records.
	DeleteProvisionedOrphans(ctx context.Context, batchID uuid.UUID) (int64, error)
}

// RecordRepository stores versioned academic records.
type RecordRepository interface {
	FindActive(ctx context.Context, studentID uuid.UUID, period int) (domain.AcademicRecord, bool, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.AcademicRecord, bool, error)
	Insert(ctx context.Context, record domain.AcademicRecord) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Relink points every child of id at newParent.
	Relink(ctx context.Context, id uuid.UUID, newParent uuid.NullUUID) (int64, error)
}

// Repositories bundles the repositories bound to one executor.
type Repositories struct {
	Batches  BatchRepository
	Rows     StagingRowRepository
	Mappings ColumnMappingRepository
	Students StudentRepository
	Records  RecordRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repositories() Repositories
	WithTx(ctx context.Context, fn func(repos Repositories) error) error
}

// BatchFilter narrows List results. Zero values are ignored.
type BatchFilter struct {
	Statuses      []domain.BatchStatus
	UserID        string
	InstitutionID uuid.NullUUID
	Limit         uint64
	Offset        uint64
}

// RowOutcome is the execution result written back to one staging row.
type RowOutcome struct {
	RowID      uuid.UUID
	Valid      bool
	Errors     []string
	RecordID   uuid.NullUUID
	Snapshot   *domain.RecordSnapshot
	Normalized map[string]any
}

// RowReset clears a row's record reference and appends note to its errors.
type RowReset struct {
	RowID uuid.UUID
	Note  string
}
