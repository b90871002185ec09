package importer

import (
	"context"
	"testing"
	"time"

	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/repository/memstore"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func TestExecuteHorizontalPartialSuccess(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil, DefaultOptions())
	staged := ingest(t, svc, "notas.csv", horizontalCSV)
	confirm(t, svc, staged.BatchID, horizontalMapping)

	result, err := svc.Execute(ctx, ExecuteRequest{BatchID: staged.BatchID, Period: 2026})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != domain.BatchPartialSuccess {
		t.Fatalf("expected PARTIAL_SUCCESS, got %s", result.Status)
	}
	if result.Orientation != domain.OrientationHorizontal {
		t.Fatalf("expected horizontal, got %s", result.Orientation)
	}
	if result.Succeeded != 2 || result.Failed != 1 || result.Records != 2 || result.Provisioned != 2 {
		t.Fatalf("unexpected counters %+v", result)
	}

	batch, _ := store.Batch(staged.BatchID)
	if batch.ProcessedRows != 3 || batch.SucceededRows != 2 || batch.FailedRows != 1 {
		t.Fatalf("unexpected batch counters %+v", batch)
	}
	if !batch.Period.Valid || batch.Period.Int64 != 2026 {
		t.Fatalf("expected period 2026, got %+v", batch.Period)
	}

	rows := store.Rows(staged.BatchID)
	if rows[1].Valid || rows[1].RecordID.Valid || len(rows[1].Errors) != 1 {
		t.Fatalf("row without code should be invalid with one error, got %+v", rows[1])
	}
	if !rows[0].Valid || !rows[0].RecordID.Valid || rows[0].Snapshot != nil {
		t.Fatalf("first row should link a fresh record, got %+v", rows[0])
	}

	var rowErrors int
	for _, entry := range batch.Log {
		if entry.Kind == domain.LogRowError {
			rowErrors++
			if entry.Row == nil || *entry.Row != 3 {
				t.Fatalf("row error should point at line 3, got %+v", entry)
			}
		}
	}
	if rowErrors != 1 {
		t.Fatalf("expected one row error log entry, got %d", rowErrors)
	}

	errorsOnly, err := svc.ListRowErrors(ctx, staged.BatchID)
	if err != nil || len(errorsOnly) != 1 || errorsOnly[0].RowNumber != 3 {
		t.Fatalf("expected row 3 in error list, got %+v %v", errorsOnly, err)
	}

	records := store.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	grades := map[float64]bool{}
	for _, rec := range records {
		if rec.Version != 1 || !rec.IsActive || rec.ParentID.Valid || rec.Period != 2026 {
			t.Fatalf("unexpected record %+v", rec)
		}
		for _, g := range rec.Grades {
			grades[g.Value] = true
		}
	}
	// 45 on a 0-5 scale is read as 4.5; the blank ARTES cell is skipped.
	for _, want := range []float64{4.5, 3.8} {
		if !grades[want] {
			t.Fatalf("expected grade %v among %v", want, grades)
		}
	}

	students := store.Students()
	if len(students) != 2 {
		t.Fatalf("expected 2 provisioned students, got %d", len(students))
	}
	ana := students[0]
	if ana.DocumentNumber != "1001" || ana.FirstName != "Ana" || ana.LastName != "1001" || ana.Email != "1001@sistema.edu" {
		t.Fatalf("unexpected placeholder identity %+v", ana)
	}
	if !ana.ProvisionedBy.Valid || ana.ProvisionedBy.UUID != staged.BatchID {
		t.Fatalf("identity should be owned by the batch, got %+v", ana.ProvisionedBy)
	}
}

const verticalCSV = "Documento;Materia;Nota;Fallas\n" +
	"1.001;matemáticas;4,2;1\n" +
	"1.001;ARTES;3.9;\n" +
	"1.001;Matemáticas;4.4;0\n" +
	"2002;Ciencias;;\n"

var verticalMapping = domain.ColumnMap{
	"DOCUMENTO": domain.FieldStudentCode,
	"MATERIA":   domain.MarkerSubjectName,
	"NOTA":      domain.MarkerScoreValue,
	"FALLAS":    domain.MarkerAttendance,
}

func TestExecuteVerticalAggregatesPerIdentity(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil, DefaultOptions())
	staged := ingest(t, svc, "vertical.csv", verticalCSV)
	confirm(t, svc, staged.BatchID, verticalMapping)

	result, err := svc.Execute(ctx, ExecuteRequest{BatchID: staged.BatchID, Period: 2026})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Orientation != domain.OrientationVertical {
		t.Fatalf("expected vertical, got %s", result.Orientation)
	}
	if result.Succeeded != 3 || result.Failed != 1 || result.Records != 1 {
		t.Fatalf("unexpected counters %+v", result)
	}

	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("rows of one identity must produce one record, got %d", len(records))
	}
	grades := records[0].Grades
	if len(grades) != 2 {
		t.Fatalf("expected two subjects, got %v", grades)
	}
	if g := grades["Matemáticas"]; g.Value != 4.4 || g.Absences != "0" {
		t.Fatalf("later row should win for Matemáticas, got %+v", g)
	}
	if g := grades["Artes"]; g.Value != 3.9 {
		t.Fatalf("unexpected Artes grade %+v", g)
	}

	rows := store.Rows(staged.BatchID)
	for _, row := range rows[:3] {
		if row.RecordID.UUID != records[0].ID {
			t.Fatalf("row %d should link the aggregated record", row.RowNumber)
		}
	}
	if rows[3].Valid || len(rows[3].Errors) != 1 {
		t.Fatalf("row without score should fail, got %+v", rows[3])
	}
	if students := store.Students(); len(students) != 1 || students[0].DocumentNumber != "1001" {
		t.Fatalf("failed rows must not provision identities, got %+v", students)
	}
}

func TestExecuteVersionsExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil, DefaultOptions())

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	student := domain.Student{ID: uuid.New(), DocumentNumber: "1001", FirstName: "Ana", LastName: "Ruiz", Email: "ana@colegio.edu", CreatedAt: now}
	store.SeedStudent(student)
	original := domain.NewAcademicRecord(student.ID, 2026, domain.Grades{
		"Matemáticas": {Value: 3.0},
		"Historia":    {Value: 4.0},
	}, uuid.New(), nil, now)
	original.SourceBatchID = uuid.NullUUID{}
	store.SeedRecord(original)

	staged := ingest(t, svc, "notas.csv", "Codigo,Matematicas\n1001,4.6\n")
	confirm(t, svc, staged.BatchID, domain.ColumnMap{
		"CODIGO":      domain.FieldStudentCode,
		"MATEMATICAS": domain.SubjectPrefix + "Matemáticas",
	})
	result, err := svc.Execute(ctx, ExecuteRequest{BatchID: staged.BatchID, Period: 2026})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != domain.BatchCompleted || result.Provisioned != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	records := store.Records()
	if len(records) != 2 {
		t.Fatalf("expected two versions, got %d", len(records))
	}
	v1, v2 := records[0], records[1]
	if v1.ID != original.ID || v1.IsActive {
		t.Fatalf("original should be kept inactive, got %+v", v1)
	}
	if !v2.IsActive || v2.Version != 2 || v2.ParentID.UUID != original.ID {
		t.Fatalf("new version should be active and point at the original, got %+v", v2)
	}
	if v2.Grades["Matemáticas"].Value != 4.6 || v2.Grades["Historia"].Value != 4.0 {
		t.Fatalf("new version should merge grades, got %v", v2.Grades)
	}

	row := store.Rows(staged.BatchID)[0]
	if row.Snapshot == nil || row.Snapshot.RecordID != original.ID || row.Snapshot.Grades["Matemáticas"].Value != 3.0 {
		t.Fatalf("row should snapshot the superseded version, got %+v", row.Snapshot)
	}
}

func TestExecuteKeepsExistingProfiles(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil, DefaultOptions())

	student := domain.Student{ID: uuid.New(), DocumentNumber: "1001", FirstName: "Ana", LastName: "Ruiz", Email: "ana@colegio.edu",
		CreatedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)}
	store.SeedStudent(student)

	staged := ingest(t, svc, "notas.csv", "Codigo,Nombre,Apellido,Matematicas\n1001,Anita,Gomez,4.1\n")
	confirm(t, svc, staged.BatchID, domain.ColumnMap{
		"CODIGO":      domain.FieldStudentCode,
		"NOMBRE":      domain.FieldFirstName,
		"APELLIDO":    domain.FieldLastName,
		"MATEMATICAS": domain.SubjectPrefix + "Matemáticas",
	})
	if _, err := svc.Execute(ctx, ExecuteRequest{BatchID: staged.BatchID, Period: 2026}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	students := store.Students()
	if len(students) != 1 || students[0] != student {
		t.Fatalf("existing profile must not change, got %+v", students)
	}
}

func TestExecutePersistenceFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil, DefaultOptions())
	staged := ingest(t, svc, "notas.csv", horizontalCSV)
	confirm(t, svc, staged.BatchID, horizontalMapping)

	store.FailOn("records.insert", errors.New("connection reset by peer"))
	_, err := svc.Execute(ctx, ExecuteRequest{BatchID: staged.BatchID, Period: 2026})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	store.ClearFailures()

	if n := len(store.Records()); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
	if n := len(store.Students()); n != 0 {
		t.Fatalf("expected no provisioned students, got %d", n)
	}
	for _, row := range store.Rows(staged.BatchID) {
		if row.Valid || row.RecordID.Valid || len(row.Errors) != 0 {
			t.Fatalf("rows must be untouched, got %+v", row)
		}
	}

	batch, _ := store.Batch(staged.BatchID)
	if batch.Status != domain.BatchFailed {
		t.Fatalf("expected FAILED, got %s", batch.Status)
	}
	last := batch.Log[len(batch.Log)-1]
	if last.Kind != domain.LogPersistenceError || last.Message == "" {
		t.Fatalf("expected a persistence log entry, got %+v", last)
	}

	_, err = svc.Execute(ctx, ExecuteRequest{BatchID: staged.BatchID, Period: 2026})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("a failed batch cannot be executed again, got %v", err)
	}
}

func TestExecuteRequiresReadyBatch(t *testing.T) {
	svc := newTestService(memstore.New(), nil, DefaultOptions())
	staged := ingest(t, svc, "notas.csv", horizontalCSV)

	_, err := svc.Execute(context.Background(), ExecuteRequest{BatchID: staged.BatchID, Period: 2026})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	_, err = svc.Execute(context.Background(), ExecuteRequest{BatchID: staged.BatchID})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without a period, got %v", err)
	}
}

func TestExecuteIsDeterministic(t *testing.T) {
	run := func() map[string]domain.Grades {
		store := memstore.New()
		svc := newTestService(store, nil, DefaultOptions())
		staged := ingest(t, svc, "vertical.csv", verticalCSV)
		confirm(t, svc, staged.BatchID, verticalMapping)
		if _, err := svc.Execute(context.Background(), ExecuteRequest{BatchID: staged.BatchID, Period: 2026}); err != nil {
			t.Fatalf("execute: %v", err)
		}
		byDocument := map[string]domain.Grades{}
		students := map[uuid.UUID]string{}
		for _, s := range store.Students() {
			students[s.ID] = s.DocumentNumber
		}
		for _, rec := range store.Records() {
			byDocument[students[rec.StudentID]] = rec.Grades
		}
		return byDocument
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("runs differ: %v vs %v", first, second)
	}
	for doc, grades := range first {
		for subject, entry := range grades {
			if second[doc][subject] != entry {
				t.Fatalf("runs differ for %s/%s: %+v vs %+v", doc, subject, entry, second[doc][subject])
			}
		}
	}
}
