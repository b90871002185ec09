package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type batchRepo struct{ v *view }

func (r *batchRepo) Create(_ context.Context, batch domain.ImportBatch) error {
	return r.v.run("batches.create", func(st *state) error {
		if _, exists := st.batches[batch.ID]; exists {
			return fmt.Errorf("failed to create import batch: duplicate id %s", batch.ID)
		}
		st.batches[batch.ID] = cloneBatch(batch)
		return nil
	})
}

func (r *batchRepo) get(op string, id uuid.UUID) (domain.ImportBatch, error) {
	var out domain.ImportBatch
	err := r.v.run(op, func(st *state) error {
		b, ok := st.batches[id]
		if !ok {
			return errors.Wrapf(domain.ErrBatchNotFound, "batch %s", id)
		}
		out = cloneBatch(b)
		return nil
	})
	return out, err
}

func (r *batchRepo) Get(_ context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	return r.get("batches.get", id)
}

func (r *batchRepo) GetForUpdate(_ context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	return r.get("batches.get_for_update", id)
}

func (r *batchRepo) Update(_ context.Context, batch domain.ImportBatch) error {
	return r.v.run("batches.update", func(st *state) error {
		if _, ok := st.batches[batch.ID]; !ok {
			return errors.Wrapf(domain.ErrBatchNotFound, "batch %s", batch.ID)
		}
		if err := batch.CheckCounters(); err != nil {
			return fmt.Errorf("failed to update import batch: %w", err)
		}
		st.batches[batch.ID] = cloneBatch(batch)
		return nil
	})
}

func (r *batchRepo) FindByHash(_ context.Context, fileHash string) ([]domain.ImportBatch, error) {
	out := []domain.ImportBatch{}
	err := r.v.run("batches.find_by_hash", func(st *state) error {
		for _, b := range st.batches {
			if b.FileHash == fileHash && b.Status != domain.BatchRolledBack {
				out = append(out, cloneBatch(b))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.ImportBatch) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

func (r *batchRepo) List(_ context.Context, filter repository.BatchFilter) ([]domain.ImportBatch, error) {
	out := []domain.ImportBatch{}
	err := r.v.run("batches.list", func(st *state) error {
		for _, b := range st.batches {
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, b.Status) {
				continue
			}
			if filter.UserID != "" && b.UserID != filter.UserID {
				continue
			}
			if filter.InstitutionID.Valid && b.InstitutionID != filter.InstitutionID {
				continue
			}
			out = append(out, cloneBatch(b))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.ImportBatch) int { return b.CreatedAt.Compare(a.CreatedAt) })

	limit := filter.Limit
	if limit == 0 {
		limit = 50
	}
	start := min(int(filter.Offset), len(out))
	end := min(start+int(limit), len(out))
	return out[start:end], nil
}

type rowRepo struct{ v *view }

type rowKey struct {
	batchID   uuid.UUID
	rowNumber int
}

func (r *rowRepo) Insert(_ context.Context, rows []domain.StagingRow) (int64, error) {
	err := r.v.run("rows.insert", func(st *state) error {
		taken := map[rowKey]bool{}
		for _, existing := range st.rows {
			taken[rowKey{existing.BatchID, existing.RowNumber}] = true
		}
		for _, row := range rows {
			key := rowKey{row.BatchID, row.RowNumber}
			if taken[key] {
				return fmt.Errorf("failed to copy staging rows: duplicate row %d in batch %s", row.RowNumber, row.BatchID)
			}
			taken[key] = true
			st.rows[row.ID] = cloneRow(row)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (r *rowRepo) collect(op string, keep func(domain.StagingRow) bool) ([]domain.StagingRow, error) {
	out := []domain.StagingRow{}
	err := r.v.run(op, func(st *state) error {
		for _, row := range st.rows {
			if keep(row) {
				out = append(out, cloneRow(row))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.StagingRow) int { return cmp.Compare(a.RowNumber, b.RowNumber) })
	return out, err
}

func (r *rowRepo) ListPending(_ context.Context, batchID uuid.UUID, afterRow int, limit int) ([]domain.StagingRow, error) {
	out, err := r.collect("rows.list_pending", func(row domain.StagingRow) bool {
		return row.BatchID == batchID && !row.Valid && !row.RecordID.Valid && row.RowNumber > afterRow
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *rowRepo) ApplyOutcomes(_ context.Context, outcomes []repository.RowOutcome) error {
	return r.v.run("rows.apply_outcomes", func(st *state) error {
		for _, o := range outcomes {
			row, ok := st.rows[o.RowID]
			if !ok {
				continue
			}
			row.Valid = o.Valid
			row.Errors = slices.Clone(o.Errors)
			if row.Errors == nil {
				row.Errors = []string{}
			}
			row.RecordID = o.RecordID
			row.Snapshot = o.Snapshot
			row.Normalized = o.Normalized
			st.rows[o.RowID] = cloneRow(row)
		}
		return nil
	})
}

func (r *rowRepo) LockApplied(_ context.Context, batchID uuid.UUID) ([]domain.StagingRow, error) {
	return r.collect("rows.lock_applied", func(row domain.StagingRow) bool {
		return row.BatchID == batchID && (row.RecordID.Valid || row.Valid)
	})
}

func (r *rowRepo) ResetApplied(_ context.Context, resets []repository.RowReset) error {
	return r.v.run("rows.reset_applied", func(st *state) error {
		for _, reset := range resets {
			row, ok := st.rows[reset.RowID]
			if !ok {
				continue
			}
			row.Valid = false
			row.RecordID = uuid.NullUUID{}
			row.Snapshot = nil
			row.Errors = append(slices.Clone(row.Errors), reset.Note)
			st.rows[reset.RowID] = row
		}
		return nil
	})
}

func (r *rowRepo) ListErrors(_ context.Context, batchID uuid.UUID) ([]domain.StagingRow, error) {
	return r.collect("rows.list_errors", func(row domain.StagingRow) bool {
		return row.BatchID == batchID && len(row.Errors) > 0
	})
}

type mappingRepo struct{ v *view }

func (r *mappingRepo) scoped(st *state, targetType string, institutionID uuid.NullUUID, match func(string) bool) []domain.ColumnMapping {
	var out []domain.ColumnMapping
	for _, m := range st.mappings {
		if m.TargetType == targetType && m.InstitutionID == institutionID && match(m.RawHeader) {
			out = append(out, m)
		}
	}
	return out
}

func (r *mappingRepo) FindBest(_ context.Context, targetType, header string, institutionID uuid.NullUUID) (domain.ColumnMapping, bool, error) {
	var candidates []domain.ColumnMapping
	err := r.v.run("mappings.find_best", func(st *state) error {
		candidates = r.scoped(st, targetType, institutionID, func(h string) bool { return strings.EqualFold(h, header) })
		return nil
	})
	if err != nil || len(candidates) == 0 {
		return domain.ColumnMapping{}, false, err
	}
	slices.SortFunc(candidates, func(a, b domain.ColumnMapping) int {
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(b.UsageCount, a.UsageCount),
			b.LastUsed.Compare(a.LastUsed),
		)
	})
	return candidates[0], true, nil
}

func (r *mappingRepo) Reinforce(_ context.Context, mapping domain.ColumnMapping) (domain.ColumnMapping, error) {
	var stored domain.ColumnMapping
	err := r.v.run("mappings.reinforce", func(st *state) error {
		existing := r.scoped(st, mapping.TargetType, mapping.InstitutionID, func(h string) bool { return h == mapping.RawHeader })
		if len(existing) == 0 {
			stored = mapping
		} else {
			stored = existing[0]
			stored.Confirm(mapping.Field, mapping.LastUsed)
		}
		st.mappings[stored.ID] = stored
		return nil
	})
	if err != nil {
		return domain.ColumnMapping{}, err
	}
	return stored, nil
}

type studentRepo struct{ v *view }

func (r *studentRepo) FindByDocument(_ context.Context, document string) (domain.Student, bool, error) {
	var (
		found domain.Student
		ok    bool
	)
	err := r.v.run("students.find_by_document", func(st *state) error {
		for _, s := range st.students {
			if s.DocumentNumber == document {
				found, ok = s, true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

func (r *studentRepo) Create(_ context.Context, student domain.Student) error {
	return r.v.run("students.create", func(st *state) error {
		for _, s := range st.students {
			if s.DocumentNumber == student.DocumentNumber {
				return fmt.Errorf("failed to create student %s: duplicate document number", student.DocumentNumber)
			}
		}
		st.students[student.ID] = student
		return nil
	})
}

func (r *studentRepo) DeleteProvisionedOrphans(_ context.Context, batchID uuid.UUID) (int64, error) {
	var removed int64
	err := r.v.run("students.delete_provisioned_orphans", func(st *state) error {
		owners := map[uuid.UUID]bool{}
		for _, rec := range st.records {
			owners[rec.StudentID] = true
		}
		for id, s := range st.students {
			if s.ProvisionedBy.Valid && s.ProvisionedBy.UUID == batchID && !owners[id] {
				delete(st.students, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

type recordRepo struct{ v *view }

func (r *recordRepo) FindActive(_ context.Context, studentID uuid.UUID, period int) (domain.AcademicRecord, bool, error) {
	var (
		found domain.AcademicRecord
		ok    bool
	)
	err := r.v.run("records.find_active", func(st *state) error {
		for _, rec := range st.records {
			if rec.StudentID == studentID && rec.Period == period && rec.IsActive {
				found, ok = cloneRecord(rec), true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

func (r *recordRepo) GetForUpdate(_ context.Context, id uuid.UUID) (domain.AcademicRecord, bool, error) {
	var (
		found domain.AcademicRecord
		ok    bool
	)
	err := r.v.run("records.get_for_update", func(st *state) error {
		rec, exists := st.records[id]
		if exists {
			found, ok = cloneRecord(rec), true
		}
		return nil
	})
	return found, ok, err
}

func (r *recordRepo) Insert(_ context.Context, record domain.AcademicRecord) error {
	return r.v.run("records.insert", func(st *state) error {
		if record.IsActive && hasActive(st, record.StudentID, record.Period, uuid.Nil) {
			return fmt.Errorf("failed to insert academic record: active version exists for student %s period %d",
				record.StudentID, record.Period)
		}
		if record.ParentID.Valid {
			if _, ok := st.records[record.ParentID.UUID]; !ok {
				return fmt.Errorf("failed to insert academic record: parent %s does not exist", record.ParentID.UUID)
			}
		}
		st.records[record.ID] = cloneRecord(record)
		return nil
	})
}

func (r *recordRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return r.v.run("records.set_active", func(st *state) error {
		rec, ok := st.records[id]
		if !ok {
			return nil
		}
		if active && hasActive(st, rec.StudentID, rec.Period, id) {
			return fmt.Errorf("failed to update academic record state: active version exists for student %s period %d",
				rec.StudentID, rec.Period)
		}
		rec.IsActive = active
		st.records[id] = rec
		return nil
	})
}

func (r *recordRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.v.run("records.delete", func(st *state) error {
		deleteRecord(st, id)
		return nil
	})
}

func (r *recordRepo) Relink(_ context.Context, id uuid.UUID, newParent uuid.NullUUID) (int64, error) {
	var moved int64
	err := r.v.run("records.relink", func(st *state) error {
		for childID, rec := range st.records {
			if rec.ParentID.Valid && rec.ParentID.UUID == id {
				rec.ParentID = newParent
				st.records[childID] = rec
				moved++
			}
		}
		return nil
	})
	return moved, err
}

func hasActive(st *state, studentID uuid.UUID, period int, except uuid.UUID) bool {
	for id, rec := range st.records {
		if id != except && rec.StudentID == studentID && rec.Period == period && rec.IsActive {
			return true
		}
	}
	return false
}

// deleteRecord mirrors ON DELETE SET NULL on parent_version_id.
func deleteRecord(st *state, id uuid.UUID) {
	delete(st.records, id)
	for childID, rec := range st.records {
		if rec.ParentID.Valid && rec.ParentID.UUID == id {
			rec.ParentID = uuid.NullUUID{}
			st.records[childID] = rec
		}
	}
}
