package guard

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/guregu/null/v5"
)

func TestCleanGrade(t *testing.T) {
	cases := map[string]float64{
		"4.5":      4.5,
		"4,5":      4.5,
		"45":       4.5,
		"50":       5.0,
		"5":        5.0,
		"51":       51,
		"3":        3.0,
		"0":        0,
		"ALTO":     4.3,
		"alto":     4.3,
		"AL":       4.3,
		"BÁSICO":   3.5,
		"Basico":   3.5,
		"BS":       3.5,
		"BAJO":     2.0,
		"superior": 4.8,
		"SP":       4.8,
		"abc":      0,
		"":         0,
		"   ":      0,
		" 3.8 ":    3.8,
		"1e999":    0,
		"-1e999":   0,
		"1e-999":   0,
		"1e20":     0,
		"4.5e0":    4.5,
		"NaN":      0,
		"Inf":      0,
	}
	for input, want := range cases {
		if got := CleanGrade(input); got != want {
			t.Errorf("CleanGrade(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestCleanGradeIsAlwaysEncodable(t *testing.T) {
	for _, input := range []string{"1e999", "-1e999", "1e999999999", "9" + strings.Repeat("9", 400), "-Infinity"} {
		got := CleanGrade(input)
		if math.IsInf(got, 0) || math.IsNaN(got) {
			t.Fatalf("CleanGrade(%q) = %v, want a finite value", input, got)
		}
		if _, err := json.Marshal(got); err != nil {
			t.Fatalf("CleanGrade(%q) cannot be stored: %v", input, err)
		}
	}
}

func TestGradeScaleWithoutCorrection(t *testing.T) {
	scale := GradeScale{Max: 5, CorrectDigitization: false}
	if got := scale.Clean("45"); got != 45 {
		t.Fatalf("expected digitization fix to be disabled, got %v", got)
	}

	hundred := GradeScale{Max: 100, CorrectDigitization: true}
	if got := hundred.Clean("87"); got != 87 {
		t.Fatalf("expected 87 on a 0-100 scale, got %v", got)
	}
}

func TestCleanText(t *testing.T) {
	cases := map[string]string{
		"  Ana  ":          "Ana",
		"Ana\tMaria":       "Ana Maria",
		"Ana\u200b":        "Ana",
		"\x00Luis\x07":     "Luis",
		"":                 "",
		"Maria   del Mar ": "Maria del Mar",
	}
	for input, want := range cases {
		if got := CleanText(input); got != want {
			t.Errorf("CleanText(%q) = %q, want %q", input, got, want)
		}
	}

	if got := CleanCell(null.String{}); got != "" {
		t.Fatalf("expected empty string for null cell, got %q", got)
	}
	if got := CleanCell(null.StringFrom(" x ")); got != "x" {
		t.Fatalf("expected trimmed cell, got %q", got)
	}
}

func TestCleanEmail(t *testing.T) {
	cases := map[string]string{
		" Ana.Perez@Colegio.EDU.co ": "ana.perez@colegio.edu.co",
		"no-at-sign":                 "",
		"a@b":                        "",
		"":                           "",
		"two@@at.com":                "",
	}
	for input, want := range cases {
		if got := CleanEmail(input); got != want {
			t.Errorf("CleanEmail(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	cases := map[string]string{
		"1234567.0":  "1234567",
		" 1.234.567": "1234567",
		"1,234,567":  "1234567",
		"ab-12":      "AB-12",
		"  x9  ":     "X9",
		"":           "",
		"007":        "007",
	}
	for input, want := range cases {
		if got := NormalizeIdentifier(input); got != want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFold(t *testing.T) {
	if got := Fold("  Código  Estudiante "); got != "codigo estudiante" {
		t.Fatalf("unexpected fold: %q", got)
	}
}
