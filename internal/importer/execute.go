package importer

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/guard"
	"github.com/rpattn/stagedimport/internal/logging"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ExecuteRequest starts the import of a READY batch into Period.
type ExecuteRequest struct {
	BatchID uuid.UUID
	Period  int `validate:"required,gt=0"`
}

// ExecuteResult summarizes a finished execution.
type ExecuteResult struct {
	BatchID     uuid.UUID          `json:"batch_id"`
	Status      domain.BatchStatus `json:"status"`
	Orientation domain.Orientation `json:"orientation"`
	Processed   int                `json:"processed"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Records     int                `json:"records_written"`
	Provisioned int                `json:"identities_provisioned"`
}

// Execute validates every staged row, writes one new record version per
// identity and finishes the batch in COMPLETED, PARTIAL_SUCCESS or FAILED.
// Row problems are recorded on the rows. A persistence failure undoes all of
// the execution's writes and leaves the batch FAILED.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.BatchID == uuid.Nil {
		return ExecuteResult{}, errors.Wrap(domain.ErrValidation, "batch id is required")
	}
	if err := validate.Struct(req); err != nil {
		return ExecuteResult{}, errors.Wrapf(domain.ErrValidation, "invalid execute request: %v", err)
	}

	ctx = logging.WithBatchID(ctx, req.BatchID)
	logger := logging.FromContext(ctx)
	started := time.Now()

	var result ExecuteResult
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		batch, err := repos.Batches.GetForUpdate(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if batch.Status != domain.BatchReady {
			return errors.Wrapf(domain.ErrInvalidState, "batch %s is %s; only READY batches can be executed", batch.ID, batch.Status)
		}
		plan, err := batch.Mapping.Plan(batch.Headers)
		if err != nil {
			return err
		}

		run := newExecution(repos, &batch, plan, req.Period, s.opts, s.now())
		result, err = run.execute(ctx)
		return err
	})
	if err == nil {
		logger.Info("batch executed",
			"status", result.Status,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"records", result.Records,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return result, nil
	}
	if isCallerError(err) {
		return ExecuteResult{}, err
	}

	logger.Error("batch execution aborted", "error", err)
	if markErr := s.markFailed(ctx, req.BatchID, err); markErr != nil {
		logger.Error("failed to mark batch as failed", "error", markErr)
	}
	return ExecuteResult{BatchID: req.BatchID, Status: domain.BatchFailed},
		errors.Mark(errors.Wrap(err, "failed to execute import"), domain.ErrPersistence)
}

// markFailed records an aborted execution in its own transaction.
func (s *Service) markFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return s.store.WithTx(ctx, func(repos repository.Repositories) error {
		batch, err := repos.Batches.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if batch.Status == domain.BatchReady {
			if err := batch.Transition(domain.BatchImporting, now); err != nil {
				return err
			}
		}
		if err := batch.Transition(domain.BatchFailed, now); err != nil {
			return err
		}
		batch.AppendLog(domain.LogEntry{
			Kind:    domain.LogPersistenceError,
			At:      now,
			Message: db.Describe(cause),
			Stats:   map[string]any{"error": cause.Error()},
		})
		return repos.Batches.Update(ctx, batch)
	})
}

// identity accumulates the grades of every row that names one student.
type identity struct {
	student domain.Student
	grades  domain.Grades
	rows    []acceptedRow
}

type acceptedRow struct {
	id         uuid.UUID
	normalized map[string]any
}

type execution struct {
	repos    repository.Repositories
	batch    *domain.ImportBatch
	plan     domain.MappingPlan
	subjects []string
	period   int
	opts     Options
	now      time.Time
	title    cases.Caser

	identities map[string]*identity
	order      []string
	outcomes   []repository.RowOutcome

	succeeded   int
	failed      int
	records     int
	provisioned int
}

func newExecution(repos repository.Repositories, batch *domain.ImportBatch, plan domain.MappingPlan, period int, opts Options, now time.Time) *execution {
	return &execution{
		repos:      repos,
		batch:      batch,
		plan:       plan,
		subjects:   plan.SubjectHeaders(),
		period:     period,
		opts:       opts,
		now:        now,
		title:      cases.Title(language.Und),
		identities: map[string]*identity{},
	}
}

func (e *execution) execute(ctx context.Context) (ExecuteResult, error) {
	if err := e.batch.Transition(domain.BatchImporting, e.now); err != nil {
		return ExecuteResult{}, err
	}
	e.batch.Period = null.IntFrom(int64(e.period))
	if err := e.repos.Batches.Update(ctx, *e.batch); err != nil {
		return ExecuteResult{}, err
	}

	afterRow := 0
	for {
		rows, err := e.repos.Rows.ListPending(ctx, e.batch.ID, afterRow, e.opts.ChunkSize)
		if err != nil {
			return ExecuteResult{}, err
		}
		for _, row := range rows {
			if err := e.stage(ctx, row); err != nil {
				return ExecuteResult{}, err
			}
			afterRow = row.RowNumber
		}
		if len(rows) < e.opts.ChunkSize {
			break
		}
	}

	if err := e.flush(ctx); err != nil {
		return ExecuteResult{}, err
	}
	for start := 0; start < len(e.outcomes); start += e.opts.ChunkSize {
		end := min(start+e.opts.ChunkSize, len(e.outcomes))
		if err := e.repos.Rows.ApplyOutcomes(ctx, e.outcomes[start:end]); err != nil {
			return ExecuteResult{}, err
		}
	}

	status := e.batch.RecordOutcome(e.succeeded, e.failed)
	e.batch.AppendLog(domain.LogEntry{
		Kind:    domain.LogExecution,
		At:      e.now,
		Message: fmt.Sprintf("imported %d of %d rows into period %d", e.succeeded, e.succeeded+e.failed, e.period),
		Stats: map[string]any{
			"orientation": string(e.plan.Orientation()),
			"succeeded":   e.succeeded,
			"failed":      e.failed,
			"records":     e.records,
			"provisioned": e.provisioned,
		},
	})
	if err := e.batch.Transition(status, e.now); err != nil {
		return ExecuteResult{}, err
	}
	if err := e.repos.Batches.Update(ctx, *e.batch); err != nil {
		return ExecuteResult{}, err
	}

	return ExecuteResult{
		BatchID:     e.batch.ID,
		Status:      status,
		Orientation: e.plan.Orientation(),
		Processed:   e.batch.ProcessedRows,
		Succeeded:   e.succeeded,
		Failed:      e.failed,
		Records:     e.records,
		Provisioned: e.provisioned,
	}, nil
}

// stage validates one row and folds its grades into its identity. Only
// persistence failures are returned; row problems become outcomes.
func (e *execution) stage(ctx context.Context, row domain.StagingRow) error {
	code := guard.NormalizeIdentifier(row.Raw.Get(e.plan.StudentCode))
	if code == "" {
		e.reject(row, domain.MissingFieldError(domain.FieldStudentCode, e.plan.StudentCode))
		return nil
	}

	normalized := map[string]any{"student_code": code}
	grades := domain.Grades{}
	if e.plan.Orientation() == domain.OrientationVertical {
		subject := e.title.String(guard.CleanText(row.Raw.Get(e.plan.Subject)))
		if subject == "" {
			e.reject(row, domain.MissingFieldError(domain.MarkerSubjectName, e.plan.Subject))
			return nil
		}
		score := guard.CleanText(row.Raw.Get(e.plan.Score))
		if score == "" {
			e.reject(row, domain.MissingFieldError(domain.MarkerScoreValue, e.plan.Score))
			return nil
		}
		entry := domain.GradeEntry{
			Value:       e.opts.GradeScale.Clean(score),
			Absences:    guard.CleanText(row.Raw.Get(e.plan.Attendance)),
			Observation: guard.CleanText(row.Raw.Get(e.plan.Observation)),
			Period:      guard.CleanText(row.Raw.Get(e.plan.Period)),
		}
		grades[subject] = entry
		normalized["subject"] = subject
		normalized["value"] = entry.Value
	} else {
		for _, header := range e.subjects {
			text := guard.CleanText(row.Raw.Get(header))
			if text == "" {
				continue
			}
			subject := e.plan.SubjectColumns[header]
			value := e.opts.GradeScale.Clean(text)
			grades[subject] = domain.GradeEntry{Value: value}
			normalized[subject] = value
		}
	}

	ident, err := e.identity(ctx, code, row)
	if err != nil {
		return err
	}
	maps.Copy(ident.grades, grades)
	ident.rows = append(ident.rows, acceptedRow{id: row.ID, normalized: normalized})
	return nil
}

// identity resolves a student once per execution, provisioning a placeholder
// owned by the batch when the id is unknown.
func (e *execution) identity(ctx context.Context, code string, row domain.StagingRow) (*identity, error) {
	if ident, ok := e.identities[code]; ok {
		return ident, nil
	}

	student, found, err := e.repos.Students.FindByDocument(ctx, code)
	if err != nil {
		return nil, err
	}
	if !found {
		student = domain.NewProvisionedStudent(
			code,
			guard.CleanText(row.Raw.Get(e.plan.FirstName)),
			guard.CleanText(row.Raw.Get(e.plan.LastName)),
			guard.CleanEmail(row.Raw.Get(e.plan.Email)),
			e.opts.PlaceholderEmailDomain,
			e.batch.ID,
			e.now,
		)
		if err := e.repos.Students.Create(ctx, student); err != nil {
			return nil, err
		}
		e.provisioned++
	}

	ident := &identity{student: student, grades: domain.Grades{}}
	e.identities[code] = ident
	e.order = append(e.order, code)
	return ident, nil
}

// flush writes one record version per identity in first-seen order.
func (e *execution) flush(ctx context.Context) error {
	for _, code := range e.order {
		ident := e.identities[code]
		if len(ident.grades) == 0 {
			for _, row := range ident.rows {
				e.accept(row, uuid.NullUUID{}, nil)
			}
			continue
		}

		var (
			prev     *domain.AcademicRecord
			snapshot *domain.RecordSnapshot
		)
		current, found, err := e.repos.Records.FindActive(ctx, ident.student.ID, e.period)
		if err != nil {
			return err
		}
		if found {
			snapshot = current.Snapshot(e.now)
			if err := e.repos.Records.SetActive(ctx, current.ID, false); err != nil {
				return err
			}
			prev = &current
		}

		record := domain.NewAcademicRecord(ident.student.ID, e.period, ident.grades, e.batch.ID, prev, e.now)
		if err := e.repos.Records.Insert(ctx, record); err != nil {
			return err
		}
		e.records++

		link := uuid.NullUUID{UUID: record.ID, Valid: true}
		for _, row := range ident.rows {
			e.accept(row, link, snapshot)
		}
	}
	return nil
}

func (e *execution) accept(row acceptedRow, record uuid.NullUUID, snapshot *domain.RecordSnapshot) {
	e.succeeded++
	e.outcomes = append(e.outcomes, repository.RowOutcome{
		RowID:      row.id,
		Valid:      true,
		Errors:     []string{},
		RecordID:   record,
		Snapshot:   snapshot,
		Normalized: row.normalized,
	})
}

func (e *execution) reject(row domain.StagingRow, message string) {
	e.failed++
	rowNumber := row.RowNumber
	e.outcomes = append(e.outcomes, repository.RowOutcome{
		RowID:  row.ID,
		Valid:  false,
		Errors: append(append([]string{}, row.Errors...), message),
	})
	e.batch.AppendLog(domain.LogEntry{
		Kind:    domain.LogRowError,
		At:      e.now,
		Row:     &rowNumber,
		Message: message,
	})
}
