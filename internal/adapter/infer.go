package adapter

import (
	"math"
	"strconv"
	"strings"

	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/guard"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// ColumnKind classifies a suggested column.
type ColumnKind string

const (
	KindSystemField ColumnKind = "SYSTEM_FIELD"
	KindSubject     ColumnKind = "SUBJECT"
	KindUnknown     ColumnKind = "UNKNOWN"
)

// Suggestion sources.
const (
	SourceHeader  = "header"
	SourceFuzzy   = "fuzzy"
	SourceContent = "content"
	SourceLearned = "learned"
)

// Confidence levels assigned by inference.
const (
	headerConfidence  = 0.95
	fuzzyConfidence   = 0.7
	contentConfidence = 0.8

	fuzzyThreshold = 0.9
	sampleSize     = 50
	numericShare   = 0.8
)

// ColumnSuggestion is a proposed mapping target for one header.
type ColumnSuggestion struct {
	Kind       ColumnKind `json:"kind"`
	Field      string     `json:"field,omitempty"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source,omitempty"`
}

type lexiconEntry struct {
	field    string
	keywords []string
}

// Checked in order; the first entry with a matching keyword wins, so the
// more specific grade markers come before identity fields.
var lexicon = []lexiconEntry{
	{domain.MarkerSubjectName, []string{"materia", "asignatura", "area", "subject", "course"}},
	{domain.MarkerScoreValue, []string{"nota", "notas", "valor", "calificacion", "score", "grade"}},
	{domain.MarkerAttendance, []string{"falla", "fallas", "inasistencia", "inasistencias", "ausencias", "absences", "attendance"}},
	{domain.MarkerObservation, []string{"observacion", "observaciones", "obs", "comentario", "comentarios", "remarks"}},
	{domain.FieldPeriod, []string{"periodo", "period", "trimestre", "term"}},
	{domain.FieldEmail, []string{"correo", "email", "mail"}},
	{domain.FieldLastName, []string{"apellido", "apellidos", "surname", "lastname"}},
	{domain.FieldFirstName, []string{"nombre", "nombres", "name", "firstname"}},
	{domain.FieldStudentCode, []string{"codigo", "documento", "cedula", "tarjeta", "nuip", "dni", "identificacion", "id", "code"}},
}

// InferSchema proposes a target for every header. Headers are matched against
// keyword lexicons first, then by fuzzy similarity, then by sampling values:
// a column of small numbers within the grade range becomes a subject.
func InferSchema(table Table, gradeMax float64) map[string]ColumnSuggestion {
	suggestions := make(map[string]ColumnSuggestion, len(table.Headers))
	for _, header := range table.Headers {
		if field, ok := matchHeader(header); ok {
			suggestions[header] = ColumnSuggestion{Kind: kindOf(field), Field: field, Confidence: headerConfidence, Source: SourceHeader}
			continue
		}
		if field, ok := fuzzyMatchHeader(header); ok {
			suggestions[header] = ColumnSuggestion{Kind: kindOf(field), Field: field, Confidence: fuzzyConfidence, Source: SourceFuzzy}
			continue
		}
		if looksLikeGrades(table, header, gradeMax) {
			suggestions[header] = ColumnSuggestion{
				Kind:       KindSubject,
				Field:      domain.SubjectTarget(header),
				Confidence: contentConfidence,
				Source:     SourceContent,
			}
			continue
		}
		suggestions[header] = ColumnSuggestion{Kind: KindUnknown}
	}
	return suggestions
}

// KindForField classifies a mapping target.
func KindForField(field string) ColumnKind {
	return kindOf(field)
}

func kindOf(field string) ColumnKind {
	switch {
	case strings.HasPrefix(field, domain.SubjectPrefix):
		return KindSubject
	case field == "" || field == domain.FieldIgnore:
		return KindUnknown
	default:
		return KindSystemField
	}
}

func tokens(header string) []string {
	return strings.FieldsFunc(guard.Fold(header), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func matchHeader(header string) (string, bool) {
	words := tokens(header)
	for _, entry := range lexicon {
		for _, keyword := range entry.keywords {
			for _, word := range words {
				if word == keyword {
					return entry.field, true
				}
			}
		}
	}
	return "", false
}

func fuzzyMatchHeader(header string) (string, bool) {
	words := tokens(header)
	jw := metrics.NewJaroWinkler()
	bestField, bestScore := "", 0.0
	for _, entry := range lexicon {
		for _, keyword := range entry.keywords {
			if len(keyword) < 4 {
				continue
			}
			for _, word := range words {
				if len(word) < 4 {
					continue
				}
				if score := strutil.Similarity(word, keyword, jw); score > bestScore {
					bestField, bestScore = entry.field, score
				}
			}
		}
	}
	if bestScore >= fuzzyThreshold {
		return bestField, true
	}
	return "", false
}

func looksLikeGrades(table Table, header string, gradeMax float64) bool {
	if gradeMax <= 0 {
		return false
	}

	var values []float64
	sampled := 0
	for _, row := range table.Rows {
		if sampled >= sampleSize {
			break
		}
		text := guard.CleanCell(row.Values[header])
		if text == "" {
			continue
		}
		sampled++
		value, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 || float64(len(values)) < numericShare*float64(sampled) {
		return false
	}

	sum := 0.0
	for _, v := range values {
		if v < 0 || v > gradeMax {
			return false
		}
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 || mean > gradeMax {
		return false
	}
	return !isRowCounter(values)
}

// isRowCounter spots "No." columns holding 1, 2, 3, ...
func isRowCounter(values []float64) bool {
	if len(values) < 2 {
		return false
	}
	for i, v := range values {
		if v != math.Trunc(v) || (i > 0 && v != values[i-1]+1) {
			return false
		}
	}
	return true
}
