// Package memstore is an in-memory, transactional repository.Store used by
// tests and local dry runs. A transaction works on a copy of the data and
// swaps it in on success, so a failed unit of work leaves no trace.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/google/uuid"
)

type state struct {
	batches  map[uuid.UUID]domain.ImportBatch
	rows     map[uuid.UUID]domain.StagingRow
	mappings map[uuid.UUID]domain.ColumnMapping
	students map[uuid.UUID]domain.Student
	records  map[uuid.UUID]domain.AcademicRecord
}

func newState() *state {
	return &state{
		batches:  map[uuid.UUID]domain.ImportBatch{},
		rows:     map[uuid.UUID]domain.StagingRow{},
		mappings: map[uuid.UUID]domain.ColumnMapping{},
		students: map[uuid.UUID]domain.Student{},
		records:  map[uuid.UUID]domain.AcademicRecord{},
	}
}

func (s *state) clone() *state {
	return &state{
		batches:  cloneValues(s.batches, cloneBatch),
		rows:     cloneValues(s.rows, cloneRow),
		mappings: cloneValues[uuid.UUID, domain.ColumnMapping](s.mappings, nil),
		students: cloneValues[uuid.UUID, domain.Student](s.students, nil),
		records:  cloneValues(s.records, cloneRecord),
	}
}

// Store implements repository.Store in memory.
type Store struct {
	mu sync.Mutex
	st *state

	failMu   sync.Mutex
	failures map[string]error
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), failures: map[string]error{}}
}

// Repositories returns repositories that lock the store per call.
func (s *Store) Repositories() repository.Repositories {
	return (&view{store: s}).repositories()
}

// WithTx runs fn against a private copy that replaces the store's data only
// when fn succeeds. Transactions are serialized.
func (s *Store) WithTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn((&view{store: s, tx: work}).repositories()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// FailOn makes every call to op return err until ClearFailures. Operations
// are named "<repository>.<method>", e.g. "records.insert".
func (s *Store) FailOn(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures[op] = err
}

// ClearFailures removes all injected failures.
func (s *Store) ClearFailures() {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures = map[string]error{}
}

func (s *Store) failure(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failures[op]
}

// Batch returns a copy of a stored batch.
func (s *Store) Batch(id uuid.UUID) (domain.ImportBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.batches[id]
	return cloneBatch(b), ok
}

// Rows returns a batch's staging rows in row order.
func (s *Store) Rows(batchID uuid.UUID) []domain.StagingRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.StagingRow{}
	for _, r := range s.st.rows {
		if r.BatchID == batchID {
			out = append(out, cloneRow(r))
		}
	}
	slices.SortFunc(out, func(a, b domain.StagingRow) int { return cmp.Compare(a.RowNumber, b.RowNumber) })
	return out
}

// Records returns every record ordered by student, period and version.
func (s *Store) Records() []domain.AcademicRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AcademicRecord, 0, len(s.st.records))
	for _, r := range s.st.records {
		out = append(out, cloneRecord(r))
	}
	slices.SortFunc(out, func(a, b domain.AcademicRecord) int {
		return cmp.Or(
			cmp.Compare(a.StudentID.String(), b.StudentID.String()),
			cmp.Compare(a.Period, b.Period),
			cmp.Compare(a.Version, b.Version),
		)
	})
	return out
}

// Students returns every identity ordered by document number.
func (s *Store) Students() []domain.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Student, 0, len(s.st.students))
	for _, st := range s.st.students {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b domain.Student) int { return cmp.Compare(a.DocumentNumber, b.DocumentNumber) })
	return out
}

// Mappings returns every learned mapping ordered by header.
func (s *Store) Mappings() []domain.ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ColumnMapping, 0, len(s.st.mappings))
	for _, m := range s.st.mappings {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.ColumnMapping) int { return cmp.Compare(a.RawHeader, b.RawHeader) })
	return out
}

// SeedStudent stores an identity directly.
func (s *Store) SeedStudent(student domain.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.students[student.ID] = student
}

// SeedRecord stores a record directly.
func (s *Store) SeedRecord(record domain.AcademicRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.records[record.ID] = cloneRecord(record)
}

// DeleteRecord removes a record outside of any import, as another process would.
func (s *Store) DeleteRecord(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleteRecord(s.st, id)
}

// view binds repositories either to a transaction copy or to the live state.
type view struct {
	store *Store
	tx    *state
}

func (v *view) run(op string, fn func(st *state) error) error {
	if err := v.store.failure(op); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.st)
}

func (v *view) repositories() repository.Repositories {
	return repository.Repositories{
		Batches:  &batchRepo{v},
		Rows:     &rowRepo{v},
		Mappings: &mappingRepo{v},
		Students: &studentRepo{v},
		Records:  &recordRepo{v},
	}
}
