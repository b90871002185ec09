package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
)

func newBatch() domain.ImportBatch {
	return domain.NewImportBatch("u-1", uuid.NullUUID{}, "notas.csv", "hash", "academic_record",
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
}

func TestWithTxDiscardsWorkOnError(t *testing.T) {
	store := New()
	batch := newBatch()
	boom := errors.New("boom")

	err := store.WithTx(context.Background(), func(repos repository.Repositories) error {
		if err := repos.Batches.Create(context.Background(), batch); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := store.Batch(batch.ID); ok {
		t.Fatalf("batch from a failed transaction must not be visible")
	}
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	store := New()
	batch := newBatch()

	err := store.WithTx(context.Background(), func(repos repository.Repositories) error {
		if err := repos.Batches.Create(context.Background(), batch); err != nil {
			return err
		}
		_, err := repos.Rows.Insert(context.Background(), []domain.StagingRow{
			domain.NewStagingRow(batch.ID, 3, domain.RawValues{"CODIGO": null.StringFrom("1002")}),
			domain.NewStagingRow(batch.ID, 2, domain.RawValues{"CODIGO": null.StringFrom("1001")}),
		})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := store.Rows(batch.ID)
	if len(rows) != 2 || rows[0].RowNumber != 2 || rows[1].RowNumber != 3 {
		t.Fatalf("expected rows 2 and 3 in order, got %+v", rows)
	}
}

func TestStoredValuesAreCopies(t *testing.T) {
	store := New()
	batch := newBatch()
	if err := store.Repositories().Batches.Create(context.Background(), batch); err != nil {
		t.Fatalf("create: %v", err)
	}

	batch.Headers = append(batch.Headers, "MUTATED")
	got, _ := store.Batch(batch.ID)
	if len(got.Headers) != 0 {
		t.Fatalf("caller mutation leaked into store: %v", got.Headers)
	}
}

func TestFailOnInjectsErrors(t *testing.T) {
	store := New()
	injected := errors.New("disk full")
	store.FailOn("batches.create", injected)

	if err := store.Repositories().Batches.Create(context.Background(), newBatch()); !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	store.ClearFailures()
	if err := store.Repositories().Batches.Create(context.Background(), newBatch()); err != nil {
		t.Fatalf("unexpected error after clearing failures: %v", err)
	}
}

func TestListPendingPagesByRowNumber(t *testing.T) {
	store := New()
	batch := newBatch()
	repos := store.Repositories()
	if err := repos.Batches.Create(context.Background(), batch); err != nil {
		t.Fatalf("create: %v", err)
	}
	var rows []domain.StagingRow
	for n := 2; n <= 6; n++ {
		rows = append(rows, domain.NewStagingRow(batch.ID, n, domain.RawValues{}))
	}
	if _, err := repos.Rows.Insert(context.Background(), rows); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := repos.Rows.ListPending(context.Background(), batch.ID, 3, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].RowNumber != 4 || page[1].RowNumber != 5 {
		t.Fatalf("expected rows 4 and 5, got %+v", page)
	}
}
