// Package adapter turns uploaded files into header-keyed string tables.
package adapter

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/guregu/null/v5"
)

// Source is an uploaded file held in memory.
type Source struct {
	Name string
	Data []byte
}

// Ext returns the lower-cased file extension including the dot.
func (s Source) Ext() string {
	return strings.ToLower(filepath.Ext(s.Name))
}

// TableRow is one data row and its 1-based line in the source sheet.
type TableRow struct {
	Line   int
	Values domain.RawValues
}

// Table is the extracted content of a file. Every cell is a string or null.
type Table struct {
	Headers []string
	Rows    []TableRow
}

// FormatAdapter reads one file format.
type FormatAdapter interface {
	Name() string
	Detect(src Source) bool
	ExtractRaw(src Source) (Table, error)
}

var anonymousHeader = regexp.MustCompile(`^UNNAMED(:\s*\d+)?$`)

// buildTable applies header hygiene to the records of a sheet. lines holds
// the 1-based source line of each record; nil means records are contiguous
// from line 1. The first non-blank record is the header row. Headers are trimmed and upper-cased;
// blank, anonymous and repeated headers are dropped along with their cells.
func buildTable(records [][]string, lines []int) Table {
	table := Table{Headers: []string{}, Rows: []TableRow{}}

	headerIndex := -1
	for idx, record := range records {
		if !isBlank(record) {
			headerIndex = idx
			break
		}
	}
	if headerIndex < 0 {
		return table
	}

	columns := make([]int, 0, len(records[headerIndex]))
	seen := make(map[string]struct{})
	for col, cell := range records[headerIndex] {
		name := strings.ToUpper(strings.TrimSpace(cell))
		if name == "" || anonymousHeader.MatchString(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		columns = append(columns, col)
		table.Headers = append(table.Headers, name)
	}

	for idx := headerIndex + 1; idx < len(records); idx++ {
		record := records[idx]
		values := make(domain.RawValues, len(columns))
		hasValue := false
		repeatsHeader := true
		for pos, col := range columns {
			var cell string
			if col < len(record) {
				cell = strings.TrimSpace(record[col])
			}
			if cell == "" {
				values[table.Headers[pos]] = null.String{}
				continue
			}
			hasValue = true
			if strings.ToUpper(cell) != table.Headers[pos] {
				repeatsHeader = false
			}
			values[table.Headers[pos]] = null.StringFrom(cell)
		}
		if !hasValue || repeatsHeader {
			continue
		}
		line := idx + 1
		if idx < len(lines) {
			line = lines[idx]
		}
		table.Rows = append(table.Rows, TableRow{Line: line, Values: values})
	}

	return table
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
