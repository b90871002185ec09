package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ColumnMapping is a learned header to field association.
type ColumnMapping struct {
	ID            uuid.UUID
	InstitutionID uuid.NullUUID
	TargetType    string
	RawHeader     string
	Field         string
	Confidence    float64
	UsageCount    int
	LastUsed      time.Time
}

// NewColumnMapping records a first human confirmation.
func NewColumnMapping(institutionID uuid.NullUUID, targetType, header, field string, now time.Time) ColumnMapping {
	return ColumnMapping{
		ID:            uuid.New(),
		InstitutionID: institutionID,
		TargetType:    targetType,
		RawHeader:     strings.TrimSpace(header),
		Field:         field,
		Confidence:    1.0,
		UsageCount:    1,
		LastUsed:      now,
	}
}

// Confirm applies another human confirmation. Choosing a different field
// replaces the memory and resets its counters.
func (m *ColumnMapping) Confirm(field string, now time.Time) {
	if m.Field != field {
		m.Field = field
		m.Confidence = 1.0
		m.UsageCount = 1
	} else {
		m.UsageCount++
	}
	m.LastUsed = now
}
