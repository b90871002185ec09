package adapter

import (
	"strings"
	"testing"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
)

type fakeAdapter struct{ ext string }

func (f fakeAdapter) Name() string { return "fake" + f.ext }

func (f fakeAdapter) Detect(src Source) bool { return src.Ext() == f.ext }

func (f fakeAdapter) ExtractRaw(Source) (Table, error) { return Table{}, nil }

func TestFactorySelect(t *testing.T) {
	factory := NewDefaultFactory()

	a, err := factory.Select(Source{Name: "Notas.XLSX"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.(*XLSXAdapter); !ok {
		t.Fatalf("expected xlsx adapter, got %T", a)
	}

	a, err = factory.Select(Source{Name: "lista.csv"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.(*CSVAdapter); !ok {
		t.Fatalf("expected csv adapter, got %T", a)
	}
}

func TestFactoryUnsupportedListsFormats(t *testing.T) {
	factory := NewDefaultFactory()
	_, err := factory.Select(Source{Name: "reporte.pdf"})
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "reporte.pdf") || !strings.Contains(msg, ".xlsx") || !strings.Contains(msg, ".csv") {
		t.Fatalf("error should name file and formats: %s", msg)
	}
}

func TestFactoryRegistrationOrder(t *testing.T) {
	factory := NewFactory()
	factory.Register(fakeAdapter{ext: ".ods"})
	factory.Register(NewCSVAdapter())

	a, err := factory.Select(Source{Name: "hoja.ods"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "fake.ods" {
		t.Fatalf("unexpected adapter %s", a.Name())
	}
	if got := factory.Supported(); len(got) != 2 {
		t.Fatalf("expected two supported formats, got %v", got)
	}
}
