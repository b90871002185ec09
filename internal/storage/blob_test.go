package storage

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "mem://")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	key := "imports/2026/03/02/batch.csv"
	if err := store.Save(ctx, key, []byte("Codigo\n1001\n")); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "Codigo\n1001\n" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing key should succeed, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a/b.xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"a/b.csv":  "text/csv",
		"a/b":      "application/octet-stream",
	}
	for key, want := range cases {
		if got := contentType(key); got != want {
			t.Fatalf("contentType(%q) = %q, want %q", key, got, want)
		}
	}
}
