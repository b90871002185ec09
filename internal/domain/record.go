package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// GradeEntry is the stored value for one subject.
type GradeEntry struct {
	Value       float64 `json:"value"`
	Absences    string  `json:"absences,omitempty"`
	Observation string  `json:"observation,omitempty"`
	Period      string  `json:"period,omitempty"`
}

// Grades maps subject names to entries.
type Grades map[string]GradeEntry

// Merge returns a copy of g overlaid with other.
func (g Grades) Merge(other Grades) Grades {
	out := make(Grades, len(g)+len(other))
	maps.Copy(out, g)
	maps.Copy(out, other)
	return out
}

// AcademicRecord is one version of a student's grades for a period.
type AcademicRecord struct {
	ID            uuid.UUID
	StudentID     uuid.UUID
	Period        int
	Grades        Grades
	SourceBatchID uuid.NullUUID
	Version       int
	IsActive      bool
	ParentID      uuid.NullUUID
	CreatedAt     time.Time
}

// NewAcademicRecord creates the next active version. When prev is non-nil the
// new version points at it and carries its grades forward under the new ones.
func NewAcademicRecord(studentID uuid.UUID, period int, grades Grades, batchID uuid.UUID, prev *AcademicRecord, now time.Time) AcademicRecord {
	record := AcademicRecord{
		ID:            uuid.New(),
		StudentID:     studentID,
		Period:        period,
		Grades:        Grades{}.Merge(grades),
		SourceBatchID: uuid.NullUUID{UUID: batchID, Valid: true},
		Version:       1,
		IsActive:      true,
		CreatedAt:     now,
	}
	if prev != nil {
		record.Grades = prev.Grades.Merge(grades)
		record.Version = prev.Version + 1
		record.ParentID = uuid.NullUUID{UUID: prev.ID, Valid: true}
	}
	return record
}

// RecordSnapshot captures the state of a record superseded by an import.
type RecordSnapshot struct {
	RecordID uuid.UUID     `json:"record_id"`
	Version  int           `json:"version"`
	Grades   Grades        `json:"grades"`
	ParentID uuid.NullUUID `json:"parent_id"`
	TakenAt  time.Time     `json:"taken_at"`
}

// Snapshot returns the pre-mutation state of r.
func (r AcademicRecord) Snapshot(now time.Time) *RecordSnapshot {
	return &RecordSnapshot{
		RecordID: r.ID,
		Version:  r.Version,
		Grades:   Grades{}.Merge(r.Grades),
		ParentID: r.ParentID,
		TakenAt:  now,
	}
}
