// Package learner remembers how operators map raw headers to fields so that
// later uploads of the same layout are pre-filled.
package learner

import (
	"context"
	"strings"
	"time"

	"github.com/rpattn/stagedimport/internal/adapter"
	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Learner reads and reinforces the column mapping memory.
type Learner struct {
	repo repository.ColumnMappingRepository
	now  func() time.Time
}

// New returns a learner backed by repo.
func New(repo repository.ColumnMappingRepository) *Learner {
	return &Learner{repo: repo, now: time.Now}
}

// Recall returns the best memory for header, preferring the institution's
// own memory over the global one.
func (l *Learner) Recall(ctx context.Context, header, targetType string, institutionID uuid.NullUUID) (domain.ColumnMapping, bool, error) {
	clean := strings.TrimSpace(header)
	if clean == "" {
		return domain.ColumnMapping{}, false, nil
	}

	if institutionID.Valid {
		mapping, ok, err := l.repo.FindBest(ctx, targetType, clean, institutionID)
		if err != nil {
			return domain.ColumnMapping{}, false, errors.Wrap(err, "failed to recall institution mapping")
		}
		if ok {
			return mapping, true, nil
		}
	}

	mapping, ok, err := l.repo.FindBest(ctx, targetType, clean, uuid.NullUUID{})
	if err != nil {
		return domain.ColumnMapping{}, false, errors.Wrap(err, "failed to recall global mapping")
	}
	return mapping, ok, nil
}

// Suggest returns the remembered field for header, if any.
func (l *Learner) Suggest(ctx context.Context, header, targetType string, institutionID uuid.NullUUID) (string, bool, error) {
	mapping, ok, err := l.Recall(ctx, header, targetType, institutionID)
	if err != nil || !ok {
		return "", false, err
	}
	return mapping.Field, true, nil
}

// Reinforce records an explicit human confirmation of header -> field.
// Only call this for confirmations, never for automatic suggestions.
func (l *Learner) Reinforce(ctx context.Context, header, field, targetType string, institutionID uuid.NullUUID) error {
	clean := strings.TrimSpace(header)
	if clean == "" || field == "" {
		return nil
	}

	mapping := domain.NewColumnMapping(institutionID, targetType, clean, field, l.now())
	if _, err := l.repo.Reinforce(ctx, mapping); err != nil {
		return errors.Wrap(err, "failed to reinforce column mapping")
	}
	return nil
}

// Augment overlays remembered fields onto inferred suggestions. Memories
// win over inference because they come from a human.
func (l *Learner) Augment(ctx context.Context, suggestions map[string]adapter.ColumnSuggestion, targetType string, institutionID uuid.NullUUID) error {
	for header := range suggestions {
		mapping, ok, err := l.Recall(ctx, header, targetType, institutionID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		suggestions[header] = adapter.ColumnSuggestion{
			Kind:       adapter.KindForField(mapping.Field),
			Field:      mapping.Field,
			Confidence: mapping.Confidence,
			Source:     adapter.SourceLearned,
		}
	}
	return nil
}
