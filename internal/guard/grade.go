package guard

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var qualitativeGrades = map[string]float64{
	"BAJO":     2.0,
	"BJ":       2.0,
	"LOW":      2.0,
	"BASICO":   3.5,
	"BS":       3.5,
	"BASIC":    3.5,
	"ALTO":     4.3,
	"AL":       4.3,
	"HIGH":     4.3,
	"SUPERIOR": 4.8,
	"SP":       4.8,
}

var ten = decimal.NewFromInt(10)

// Cells outside this decimal magnitude range are treated as garbage. The
// bound also keeps exponent notation like "1e999999" from being expanded.
const (
	maxGradeMagnitude = 15
	minGradeMagnitude = -30
)

// GradeScale describes the numeric grading range of a deployment.
type GradeScale struct {
	Max float64
	// CorrectDigitization divides values in (Max, 10*Max] by ten, fixing
	// entries like 45 typed for 4.5.
	CorrectDigitization bool
}

// DefaultScale is the 0-5 scale with digitization correction on.
var DefaultScale = GradeScale{Max: 5.0, CorrectDigitization: true}

// Clean converts a raw grade cell to a number. Qualitative words map to
// fixed values and anything unparseable or non-finite becomes 0.
func (s GradeScale) Clean(value string) float64 {
	text := strings.ToUpper(Fold(value))
	if text == "" {
		return 0
	}
	if grade, ok := qualitativeGrades[text]; ok {
		return grade
	}

	parsed, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "."))
	if err != nil {
		return 0
	}

	magnitude := parsed.NumDigits() + int(parsed.Exponent())
	if parsed.IsZero() || magnitude > maxGradeMagnitude || magnitude < minGradeMagnitude {
		return 0
	}

	if s.CorrectDigitization && s.Max > 0 {
		limit := decimal.NewFromFloat(s.Max)
		if parsed.GreaterThan(limit) && parsed.LessThanOrEqual(limit.Mul(ten)) {
			parsed = parsed.Div(ten)
		}
	}

	grade, _ := parsed.Float64()
	if math.IsInf(grade, 0) || math.IsNaN(grade) {
		return 0
	}
	return grade
}

// CleanGrade applies DefaultScale.
func CleanGrade(value string) float64 {
	return DefaultScale.Clean(value)
}
