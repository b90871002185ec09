package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/guregu/null/v5"
)

// BatchStatus is the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchPending        BatchStatus = "PENDING"
	BatchMapping        BatchStatus = "MAPPING"
	BatchStaging        BatchStatus = "STAGING"
	BatchReady          BatchStatus = "READY"
	BatchImporting      BatchStatus = "IMPORTING"
	BatchCompleted      BatchStatus = "COMPLETED"
	BatchFailed         BatchStatus = "FAILED"
	BatchPartialSuccess BatchStatus = "PARTIAL_SUCCESS"
	BatchRolledBack     BatchStatus = "ROLLED_BACK"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:        {BatchMapping},
	BatchMapping:        {BatchStaging},
	BatchStaging:        {BatchReady},
	BatchReady:          {BatchImporting},
	BatchImporting:      {BatchCompleted, BatchFailed, BatchPartialSuccess},
	BatchCompleted:      {BatchRolledBack},
	BatchFailed:         {BatchRolledBack},
	BatchPartialSuccess: {BatchRolledBack},
}

// CanTransition reports whether a batch may move from one state to another.
func CanTransition(from, to BatchStatus) bool {
	return slices.Contains(batchTransitions[from], to)
}

// IsTerminal reports whether execution has finished for the batch.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchPartialSuccess:
		return true
	}
	return false
}

// IsReversible reports whether a rollback may be applied.
func (s BatchStatus) IsReversible() bool {
	return s.IsTerminal()
}

// AcceptsMapping reports whether a column mapping can still be confirmed.
func (s BatchStatus) AcceptsMapping() bool {
	switch s {
	case BatchMapping, BatchStaging, BatchReady:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	if s == BatchRolledBack {
		return true
	}
	_, ok := batchTransitions[s]
	return ok
}

// LogKind classifies entries in a batch log.
type LogKind string

const (
	LogRowError         LogKind = "row_error"
	LogPersistenceError LogKind = "persistence_error"
	LogExecution        LogKind = "execution"
	LogRollback         LogKind = "rollback"
	LogGhost            LogKind = "ghost"
	LogDuplicateUpload  LogKind = "duplicate_upload"
)

// LogEntry is one item in the append-only batch log.
type LogEntry struct {
	Kind    LogKind        `json:"kind"`
	At      time.Time      `json:"at"`
	Row     *int           `json:"row,omitempty"`
	Message string         `json:"message"`
	Stats   map[string]any `json:"stats,omitempty"`
}

// ImportBatch tracks one uploaded file through staging, execution and rollback.
type ImportBatch struct {
	ID            uuid.UUID
	UserID        string
	InstitutionID uuid.NullUUID
	FileName      string
	FileKey       string
	FileHash      string
	TargetType    string
	Status        BatchStatus
	Headers       []string
	Mapping       ColumnMap
	Period        null.Int
	TotalRows     int
	ProcessedRows int
	SucceededRows int
	FailedRows    int
	Log           []LogEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewImportBatch creates a PENDING batch for a freshly uploaded file.
func NewImportBatch(userID string, institutionID uuid.NullUUID, fileName, fileHash, targetType string, now time.Time) ImportBatch {
	return ImportBatch{
		ID:            uuid.New(),
		UserID:        userID,
		InstitutionID: institutionID,
		FileName:      fileName,
		FileHash:      fileHash,
		TargetType:    targetType,
		Status:        BatchPending,
		Headers:       []string{},
		Log:           []LogEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the batch to the next state or fails with ErrInvalidState.
func (b *ImportBatch) Transition(to BatchStatus, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return errors.Wrapf(ErrInvalidState, "cannot move batch %s from %s to %s", b.ID, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// AppendLog adds an entry to the batch log. Entries are never rewritten.
func (b *ImportBatch) AppendLog(entry LogEntry) {
	b.Log = append(b.Log, entry)
}

// RecordOutcome stores execution counters and returns the resulting terminal state.
func (b *ImportBatch) RecordOutcome(succeeded, failed int) BatchStatus {
	b.ProcessedRows = succeeded + failed
	b.SucceededRows = succeeded
	b.FailedRows = failed
	return FinalStatus(succeeded, failed)
}

// CheckCounters verifies Succeeded + Failed <= Processed <= Total.
func (b ImportBatch) CheckCounters() error {
	if b.SucceededRows+b.FailedRows > b.ProcessedRows || b.ProcessedRows > b.TotalRows {
		return fmt.Errorf("inconsistent counters: total=%d processed=%d succeeded=%d failed=%d",
			b.TotalRows, b.ProcessedRows, b.SucceededRows, b.FailedRows)
	}
	return nil
}

// FinalStatus derives the terminal state from row outcomes.
func FinalStatus(succeeded, failed int) BatchStatus {
	switch {
	case failed == 0:
		return BatchCompleted
	case succeeded == 0:
		return BatchFailed
	default:
		return BatchPartialSuccess
	}
}
