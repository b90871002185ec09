// Package rollback undoes everything an executed batch committed.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/logging"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Report summarizes a rollback.
type Report struct {
	BatchID           uuid.UUID `json:"batch_id"`
	Deleted           int       `json:"deleted"`
	Restored          int       `json:"restored"`
	Ghosts            int       `json:"ghosts"`
	RowsReset         int       `json:"rows_reset"`
	IdentitiesRemoved int64     `json:"identities_removed"`
	DurationMs        int64     `json:"duration_ms"`
}

// Engine reverts executed batches.
type Engine struct {
	store repository.Store
	now   func() time.Time
}

// New creates an Engine over store.
func New(store repository.Store) *Engine {
	return &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Revert deletes every record version the batch created, reactivates the
// versions they replaced and resets the batch's staging rows. It runs in one
// transaction: the batch either ends ROLLED_BACK or nothing changes.
func (e *Engine) Revert(ctx context.Context, batchID uuid.UUID) (Report, error) {
	ctx = logging.WithBatchID(ctx, batchID)
	logger := logging.FromContext(ctx)
	started := time.Now()

	var report Report
	err := e.store.WithTx(ctx, func(repos repository.Repositories) error {
		batch, err := repos.Batches.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if !batch.Status.IsReversible() {
			return errors.Wrapf(domain.ErrInvalidState, "batch %s is %s and cannot be rolled back", batch.ID, batch.Status)
		}

		rows, err := repos.Rows.LockApplied(ctx, batch.ID)
		if err != nil {
			return err
		}

		now := e.now()
		report = Report{BatchID: batch.ID}
		seen := make(map[uuid.UUID]bool, len(rows))
		resets := make([]repository.RowReset, 0, len(rows))
		note := fmt.Sprintf("reverted by rollback at %s", now.Format(time.RFC3339))

		for _, row := range rows {
			resets = append(resets, repository.RowReset{RowID: row.ID, Note: note})
			if !row.RecordID.Valid {
				continue
			}
			id := row.RecordID.UUID
			if seen[id] {
				continue
			}
			seen[id] = true

			restored, found, err := revertRecord(ctx, repos.Records, id)
			if err != nil {
				return err
			}
			if !found {
				report.Ghosts++
				rowNumber := row.RowNumber
				batch.AppendLog(domain.LogEntry{
					Kind:    domain.LogGhost,
					At:      now,
					Row:     &rowNumber,
					Message: fmt.Sprintf("record %s was already removed", id),
				})
				logger.Warn("rollback target already removed", "record_id", id)
				continue
			}
			report.Deleted++
			if restored {
				report.Restored++
			}
		}

		if err := repos.Rows.ResetApplied(ctx, resets); err != nil {
			return err
		}
		report.RowsReset = len(resets)

		removed, err := repos.Students.DeleteProvisionedOrphans(ctx, batch.ID)
		if err != nil {
			return err
		}
		report.IdentitiesRemoved = removed

		if err := batch.Transition(domain.BatchRolledBack, now); err != nil {
			return err
		}
		report.DurationMs = time.Since(started).Milliseconds()
		batch.AppendLog(domain.LogEntry{
			Kind:    domain.LogRollback,
			At:      now,
			Message: fmt.Sprintf("deleted %d records, restored %d previous versions", report.Deleted, report.Restored),
			Stats: map[string]any{
				"deleted":            report.Deleted,
				"restored":           report.Restored,
				"ghosts":             report.Ghosts,
				"rows_reset":         report.RowsReset,
				"identities_removed": report.IdentitiesRemoved,
				"duration_ms":        report.DurationMs,
			},
		})
		return repos.Batches.Update(ctx, batch)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrBatchNotFound) {
			return Report{}, err
		}
		logger.Error("rollback aborted", "error", err)
		return Report{}, errors.Mark(errors.Wrap(err, "failed to roll back batch"), domain.ErrPersistence)
	}

	logger.Info("batch rolled back",
		"deleted", report.Deleted,
		"restored", report.Restored,
		"ghosts", report.Ghosts,
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

// revertRecord deletes one version and splices it out of its chain. Later
// versions are re-pointed at its parent, and the parent becomes active again
// when the deleted version was the active one.
func revertRecord(ctx context.Context, records repository.RecordRepository, id uuid.UUID) (restored, found bool, err error) {
	record, found, err := records.GetForUpdate(ctx, id)
	if err != nil || !found {
		return false, found, err
	}

	if _, err := records.Relink(ctx, record.ID, record.ParentID); err != nil {
		return false, true, err
	}
	if err := records.Delete(ctx, record.ID); err != nil {
		return false, true, err
	}
	if record.IsActive && record.ParentID.Valid {
		if err := records.SetActive(ctx, record.ParentID.UUID, true); err != nil {
			return false, true, err
		}
		return true, true, nil
	}
	return false, true, nil
}
