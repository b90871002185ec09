package learner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/stagedimport/internal/adapter"
	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/repository/memstore"

	"github.com/google/uuid"
)

const target = "academic_record"

func newLearner(store *memstore.Store, clock *time.Time) *Learner {
	l := New(store.Repositories().Mappings)
	l.now = func() time.Time { return *clock }
	return l
}

func TestReinforceThenSuggest(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clock := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	l := newLearner(store, &clock)

	if err := l.Reinforce(ctx, "Cod. Alumno", domain.FieldStudentCode, target, uuid.NullUUID{}); err != nil {
		t.Fatalf("reinforce: %v", err)
	}

	field, ok, err := l.Suggest(ctx, "cod. alumno ", target, uuid.NullUUID{})
	if err != nil || !ok || field != domain.FieldStudentCode {
		t.Fatalf("expected STUDENT_CODE suggestion, got %q %v %v", field, ok, err)
	}

	for i := 0; i < 2; i++ {
		clock = clock.Add(time.Hour)
		if err := l.Reinforce(ctx, "Cod. Alumno", domain.FieldStudentCode, target, uuid.NullUUID{}); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}
	mappings := store.Mappings()
	if len(mappings) != 1 || mappings[0].UsageCount != 3 {
		t.Fatalf("expected one mapping with usage 3, got %+v", mappings)
	}

	if err := l.Reinforce(ctx, "Cod. Alumno", domain.FieldEmail, target, uuid.NullUUID{}); err != nil {
		t.Fatalf("reinforce override: %v", err)
	}
	mappings = store.Mappings()
	if mappings[0].Field != domain.FieldEmail || mappings[0].UsageCount != 1 || mappings[0].Confidence != 1.0 {
		t.Fatalf("override should reset counters, got %+v", mappings[0])
	}
}

func TestConcurrentConfirmationsAllCount(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clock := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	l := newLearner(store, &clock)

	const confirmations = 16
	var wg sync.WaitGroup
	errs := make(chan error, confirmations)
	for range confirmations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Reinforce(ctx, "DOCUMENTO", domain.FieldStudentCode, target, uuid.NullUUID{})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}

	mappings := store.Mappings()
	if len(mappings) != 1 || mappings[0].UsageCount != confirmations {
		t.Fatalf("expected one mapping used %d times, got %+v", confirmations, mappings)
	}
}

func TestInstitutionMemoryWinsOverGlobal(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clock := time.Now()
	l := newLearner(store, &clock)
	school := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	other := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	if err := l.Reinforce(ctx, "NOMBRE", domain.FieldFirstName, target, uuid.NullUUID{}); err != nil {
		t.Fatalf("reinforce global: %v", err)
	}
	if err := l.Reinforce(ctx, "NOMBRE", domain.FieldLastName, target, school); err != nil {
		t.Fatalf("reinforce scoped: %v", err)
	}

	if field, _, _ := l.Suggest(ctx, "NOMBRE", target, school); field != domain.FieldLastName {
		t.Fatalf("expected institution memory, got %q", field)
	}
	if field, _, _ := l.Suggest(ctx, "NOMBRE", target, other); field != domain.FieldFirstName {
		t.Fatalf("expected global fallback, got %q", field)
	}
	if _, ok, _ := l.Suggest(ctx, "NOMBRE", "enrollment", other); ok {
		t.Fatalf("memory must be scoped by target type")
	}
	if _, ok, _ := l.Suggest(ctx, "   ", target, school); ok {
		t.Fatalf("blank header must not match")
	}
}

func TestAugmentOverridesInference(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clock := time.Now()
	l := newLearner(store, &clock)

	if err := l.Reinforce(ctx, "X1", "SUBJECT:Fisica", target, uuid.NullUUID{}); err != nil {
		t.Fatalf("reinforce: %v", err)
	}

	suggestions := map[string]adapter.ColumnSuggestion{
		"X1":     {Kind: adapter.KindUnknown},
		"NOMBRE": {Kind: adapter.KindSystemField, Field: domain.FieldFirstName, Confidence: 0.95, Source: adapter.SourceHeader},
	}
	if err := l.Augment(ctx, suggestions, target, uuid.NullUUID{}); err != nil {
		t.Fatalf("augment: %v", err)
	}

	got := suggestions["X1"]
	if got.Kind != adapter.KindSubject || got.Field != "SUBJECT:Fisica" || got.Source != adapter.SourceLearned || got.Confidence != 1.0 {
		t.Fatalf("unexpected augmented suggestion: %+v", got)
	}
	if suggestions["NOMBRE"].Source != adapter.SourceHeader {
		t.Fatalf("unmatched suggestion should stay untouched")
	}
}
