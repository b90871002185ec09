package adapter

import (
	"strings"
	"sync"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
)

// Factory selects the adapter for an uploaded file.
type Factory struct {
	mu       sync.RWMutex
	adapters []FormatAdapter
}

// NewFactory returns a factory trying adapters in the given order.
func NewFactory(adapters ...FormatAdapter) *Factory {
	return &Factory{adapters: adapters}
}

// NewDefaultFactory registers the workbook adapter before the CSV adapter.
func NewDefaultFactory() *Factory {
	return NewFactory(NewXLSXAdapter(), NewCSVAdapter())
}

// Register appends an adapter. Earlier registrations take precedence.
func (f *Factory) Register(adapter FormatAdapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters = append(f.adapters, adapter)
}

// Supported lists the names of registered adapters.
func (f *Factory) Supported() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.adapters))
	for _, a := range f.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Select returns the first adapter that detects src.
func (f *Factory) Select(src Source) (FormatAdapter, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, a := range f.adapters {
		if a.Detect(src) {
			return a, nil
		}
	}

	names := make([]string, 0, len(f.adapters))
	for _, a := range f.adapters {
		names = append(names, a.Name())
	}
	return nil, errors.Wrapf(domain.ErrUnsupportedFormat, "%q is not a supported file; supported formats: %s",
		src.Name, strings.Join(names, ", "))
}
