package memstore

import (
	"maps"
	"slices"

	"github.com/rpattn/stagedimport/internal/domain"
)

func cloneBatch(b domain.ImportBatch) domain.ImportBatch {
	b.Headers = slices.Clone(b.Headers)
	if b.Mapping != nil {
		b.Mapping = maps.Clone(b.Mapping)
	}
	b.Log = slices.Clone(b.Log)
	return b
}

func cloneRow(r domain.StagingRow) domain.StagingRow {
	r.Raw = r.Raw.Clone()
	r.Errors = slices.Clone(r.Errors)
	if r.Normalized != nil {
		r.Normalized = maps.Clone(r.Normalized)
	}
	if r.Snapshot != nil {
		snap := *r.Snapshot
		snap.Grades = maps.Clone(snap.Grades)
		r.Snapshot = &snap
	}
	return r
}

func cloneRecord(r domain.AcademicRecord) domain.AcademicRecord {
	r.Grades = maps.Clone(r.Grades)
	return r
}

func cloneValues[K comparable, V any](in map[K]V, fn func(V) V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		if fn != nil {
			v = fn(v)
		}
		out[k] = v
	}
	return out
}
