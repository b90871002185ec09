// Package importer drives an upload through staging, mapping confirmation
// and execution into versioned academic records.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rpattn/stagedimport/internal/adapter"
	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/guard"
	"github.com/rpattn/stagedimport/internal/learner"
	"github.com/rpattn/stagedimport/internal/logging"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Options tunes ingestion and execution.
type Options struct {
	GradeScale             guard.GradeScale
	PreviewRows            int
	ChunkSize              int
	MaxFileBytes           int64
	RejectDuplicates       bool
	PlaceholderEmailDomain string
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		GradeScale:             guard.DefaultScale,
		PreviewRows:            5,
		ChunkSize:              2000,
		MaxFileBytes:           50 << 20,
		PlaceholderEmailDomain: "sistema.edu",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.GradeScale.Max <= 0 {
		o.GradeScale = def.GradeScale
	}
	if o.PreviewRows < 0 {
		o.PreviewRows = 0
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.PlaceholderEmailDomain == "" {
		o.PlaceholderEmailDomain = def.PlaceholderEmailDomain
	}
	return o
}

// FileStore retains original uploads. Rollback never deletes them.
type FileStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates import batches.
type Service struct {
	store   repository.Store
	factory *adapter.Factory
	files   FileStore
	opts    Options
	now     func() time.Time
}

// NewService wires the orchestrator. files may be nil, in which case uploads
// are not retained.
func NewService(store repository.Store, factory *adapter.Factory, files FileStore, opts Options) *Service {
	if factory == nil {
		factory = adapter.NewDefaultFactory()
	}
	return &Service{
		store:   store,
		factory: factory,
		files:   files,
		opts:    opts.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IngestRequest describes an upload.
type IngestRequest struct {
	UserID        string `validate:"required"`
	InstitutionID uuid.NullUUID
	TargetType    string    `validate:"required"`
	FileName      string    `validate:"required"`
	Data          io.Reader `validate:"required"`
}

// IngestResult is returned once the rows are staged.
type IngestResult struct {
	BatchID     uuid.UUID                           `json:"batch_id"`
	Status      domain.BatchStatus                  `json:"status"`
	Format      string                              `json:"format"`
	Headers     []string                            `json:"headers"`
	Preview     []adapter.TableRow                  `json:"preview"`
	Suggestions map[string]adapter.ColumnSuggestion `json:"suggestions"`
	TotalRows   int                                 `json:"total_rows"`
	DuplicateOf []uuid.UUID                         `json:"duplicate_of,omitempty"`
}

// Ingest parses the upload and quarantines every row in the staging area.
// Format problems are reported before anything is written.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if err := validate.Struct(req); err != nil {
		return IngestResult{}, errors.Wrapf(domain.ErrValidation, "invalid ingest request: %v", err)
	}

	payload, err := s.readPayload(req)
	if err != nil {
		return IngestResult{}, err
	}
	sum := sha256.Sum256(payload)
	fileHash := hex.EncodeToString(sum[:])

	src := adapter.Source{Name: req.FileName, Data: payload}
	format, err := s.factory.Select(src)
	if err != nil {
		return IngestResult{}, err
	}
	table, err := format.ExtractRaw(src)
	if err != nil {
		return IngestResult{}, err
	}

	repos := s.store.Repositories()
	previous, err := repos.Batches.FindByHash(ctx, fileHash)
	if err != nil {
		return IngestResult{}, errors.Mark(errors.Wrap(err, "failed to look up earlier uploads"), domain.ErrPersistence)
	}
	duplicateOf := make([]uuid.UUID, 0, len(previous))
	for _, b := range previous {
		duplicateOf = append(duplicateOf, b.ID)
	}
	if len(duplicateOf) > 0 && s.opts.RejectDuplicates {
		return IngestResult{}, errors.Wrapf(domain.ErrDuplicateUpload, "%q matches batch %s", req.FileName, duplicateOf[0])
	}

	suggestions := adapter.InferSchema(table, s.opts.GradeScale.Max)
	if err := learner.New(repos.Mappings).Augment(ctx, suggestions, req.TargetType, req.InstitutionID); err != nil {
		return IngestResult{}, errors.Mark(err, domain.ErrPersistence)
	}

	now := s.now()
	batch := domain.NewImportBatch(req.UserID, req.InstitutionID, req.FileName, fileHash, req.TargetType, now)
	batch.Headers = slices.Clone(table.Headers)
	batch.TotalRows = len(table.Rows)

	ctx = logging.WithBatchID(ctx, batch.ID)
	logger := logging.WithFields(ctx, "file", req.FileName, "format", format.Name())

	if len(duplicateOf) > 0 {
		batch.AppendLog(domain.LogEntry{
			Kind:    domain.LogDuplicateUpload,
			At:      now,
			Message: fmt.Sprintf("same content as %d earlier batch(es)", len(duplicateOf)),
			Stats:   map[string]any{"batches": duplicateOf},
		})
		logger.Warn("duplicate upload detected", "earlier_batches", len(duplicateOf))
	}

	if s.files != nil {
		key := fileKey(batch, now)
		if err := s.files.Save(ctx, key, payload); err != nil {
			return IngestResult{}, errors.Mark(errors.Wrap(err, "failed to retain uploaded file"), domain.ErrPersistence)
		}
		batch.FileKey = key
	}

	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		return s.stage(ctx, repos, &batch, table)
	})
	if err != nil {
		if batch.FileKey != "" {
			if delErr := s.files.Delete(ctx, batch.FileKey); delErr != nil {
				logger.Warn("failed to remove retained file", "key", batch.FileKey, "error", delErr)
			}
		}
		return IngestResult{}, errors.Mark(errors.Wrap(err, "failed to stage batch"), domain.ErrPersistence)
	}

	logger.Info("batch staged", "rows", batch.TotalRows, "headers", len(batch.Headers))

	preview := table.Rows
	if len(preview) > s.opts.PreviewRows {
		preview = preview[:s.opts.PreviewRows]
	}
	return IngestResult{
		BatchID:     batch.ID,
		Status:      batch.Status,
		Format:      format.Name(),
		Headers:     batch.Headers,
		Preview:     slices.Clone(preview),
		Suggestions: suggestions,
		TotalRows:   batch.TotalRows,
		DuplicateOf: duplicateOf,
	}, nil
}

func (s *Service) readPayload(req IngestRequest) ([]byte, error) {
	reader := req.Data
	if s.opts.MaxFileBytes > 0 {
		reader = io.LimitReader(req.Data, s.opts.MaxFileBytes+1)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrUnreadableFile, "failed to read upload %q: %v", req.FileName, err)
	}
	if s.opts.MaxFileBytes > 0 && int64(len(payload)) > s.opts.MaxFileBytes {
		return nil, errors.Wrapf(domain.ErrFileTooLarge, "%q is larger than %d bytes", req.FileName, s.opts.MaxFileBytes)
	}
	return payload, nil
}

// stage creates the batch and its rows, walking PENDING -> MAPPING -> STAGING.
func (s *Service) stage(ctx context.Context, repos repository.Repositories, batch *domain.ImportBatch, table adapter.Table) error {
	if err := repos.Batches.Create(ctx, *batch); err != nil {
		return err
	}

	now := s.now()
	if err := batch.Transition(domain.BatchMapping, now); err != nil {
		return err
	}

	for start := 0; start < len(table.Rows); start += s.opts.ChunkSize {
		end := min(start+s.opts.ChunkSize, len(table.Rows))
		chunk := make([]domain.StagingRow, 0, end-start)
		for _, row := range table.Rows[start:end] {
			chunk = append(chunk, domain.NewStagingRow(batch.ID, row.Line, row.Values))
		}
		if _, err := repos.Rows.Insert(ctx, chunk); err != nil {
			return err
		}
	}

	if err := batch.Transition(domain.BatchStaging, now); err != nil {
		return err
	}
	return repos.Batches.Update(ctx, *batch)
}

func fileKey(batch domain.ImportBatch, now time.Time) string {
	ext := strings.ToLower(path.Ext(batch.FileName))
	return path.Join("imports", now.Format("2006/01/02"), batch.ID.String()+ext)
}

// ConfirmRequest carries the operator's column mapping.
type ConfirmRequest struct {
	BatchID uuid.UUID
	Mapping domain.ColumnMap `validate:"required,min=1"`
}

// ConfirmMapping validates and stores the mapping, teaches the learner and
// marks the batch READY. It is accepted until execution starts.
func (s *Service) ConfirmMapping(ctx context.Context, req ConfirmRequest) (domain.ImportBatch, error) {
	if req.BatchID == uuid.Nil {
		return domain.ImportBatch{}, errors.Wrap(domain.ErrValidation, "batch id is required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.ImportBatch{}, errors.Wrapf(domain.ErrInvalidMapping, "%v", err)
	}
	ctx = logging.WithBatchID(ctx, req.BatchID)

	var confirmed domain.ImportBatch
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		batch, err := repos.Batches.GetForUpdate(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if !batch.Status.AcceptsMapping() {
			return errors.Wrapf(domain.ErrInvalidState, "batch %s is %s; the mapping can only change before execution", batch.ID, batch.Status)
		}
		if _, err := req.Mapping.Plan(batch.Headers); err != nil {
			return err
		}

		now := s.now()
		for batch.Status != domain.BatchReady {
			next := domain.BatchReady
			if batch.Status == domain.BatchMapping {
				next = domain.BatchStaging
			}
			if err := batch.Transition(next, now); err != nil {
				return err
			}
		}
		batch.Mapping = maps.Clone(req.Mapping)
		batch.UpdatedAt = now

		learn := learner.New(repos.Mappings)
		learnable := req.Mapping.Learnable()
		for _, header := range slices.Sorted(maps.Keys(learnable)) {
			if err := learn.Reinforce(ctx, header, learnable[header], batch.TargetType, batch.InstitutionID); err != nil {
				return err
			}
		}

		if err := repos.Batches.Update(ctx, batch); err != nil {
			return err
		}
		confirmed = batch
		return nil
	})
	if err != nil {
		return domain.ImportBatch{}, classify(err)
	}

	logging.FromContext(ctx).Info("mapping confirmed", "columns", len(req.Mapping))
	return confirmed, nil
}

// GetBatch returns a batch by id.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	batch, err := s.store.Repositories().Batches.Get(ctx, id)
	if err != nil {
		return domain.ImportBatch{}, classify(err)
	}
	return batch, nil
}

// ListBatches returns batches matching filter, newest first.
func (s *Service) ListBatches(ctx context.Context, filter repository.BatchFilter) ([]domain.ImportBatch, error) {
	batches, err := s.store.Repositories().Batches.List(ctx, filter)
	if err != nil {
		return nil, classify(err)
	}
	return batches, nil
}

// ListRowErrors returns the rows of a batch that carry errors, in row order.
func (s *Service) ListRowErrors(ctx context.Context, id uuid.UUID) ([]domain.StagingRow, error) {
	repos := s.store.Repositories()
	if _, err := repos.Batches.Get(ctx, id); err != nil {
		return nil, classify(err)
	}
	rows, err := repos.Rows.ListErrors(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// FindDuplicates returns other live batches with the same file content.
func (s *Service) FindDuplicates(ctx context.Context, id uuid.UUID) ([]domain.ImportBatch, error) {
	repos := s.store.Repositories()
	batch, err := repos.Batches.Get(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	matches, err := repos.Batches.FindByHash(ctx, batch.FileHash)
	if err != nil {
		return nil, classify(err)
	}
	return slices.DeleteFunc(matches, func(b domain.ImportBatch) bool { return b.ID == id }), nil
}

// classify leaves caller-facing errors alone and marks everything else as a
// persistence failure.
func classify(err error) error {
	if err == nil || isCallerError(err) || errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return errors.Mark(err, domain.ErrPersistence)
}

func isCallerError(err error) bool {
	for _, target := range []error{
		domain.ErrBatchNotFound,
		domain.ErrInvalidState,
		domain.ErrInvalidMapping,
		domain.ErrValidation,
		domain.ErrDuplicateUpload,
		domain.ErrUnsupportedFormat,
		domain.ErrUnreadableFile,
		domain.ErrFileTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
