// Package report exports the rows of a batch that carry errors so operators
// can fix the source file and upload it again.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Errores"

// ParseFormat accepts "csv" or "xlsx" in any case.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", errors.Newf("unknown report format %q", value)
}

// Write renders rows in the chosen format and returns the bytes written.
func Write(w io.Writer, format Format, batch domain.ImportBatch, rows []domain.StagingRow) (int64, error) {
	switch format {
	case FormatCSV:
		return WriteCSV(w, batch, rows)
	case FormatXLSX:
		return WriteXLSX(w, batch, rows)
	}
	return 0, errors.Newf("unknown report format %q", format)
}

// Table lays out one line per row: source line, errors, then every original
// cell under its header.
func Table(batch domain.ImportBatch, rows []domain.StagingRow) [][]string {
	header := append([]string{"FILA", "ERRORES"}, batch.Headers...)
	out := make([][]string, 0, len(rows)+1)
	out = append(out, header)
	for _, row := range rows {
		line := make([]string, 0, len(header))
		line = append(line, strconv.Itoa(row.RowNumber), strings.Join(row.Errors, "; "))
		for _, h := range batch.Headers {
			line = append(line, row.Raw.Get(h))
		}
		out = append(out, line)
	}
	return out
}

// WriteCSV streams the report as CSV.
func WriteCSV(w io.Writer, batch domain.ImportBatch, rows []domain.StagingRow) (int64, error) {
	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.WriteAll(Table(batch, rows)); err != nil {
		return counter.count, fmt.Errorf("write csv report: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return counter.count, fmt.Errorf("flush csv report: %w", err)
	}
	return counter.count, nil
}

// WriteXLSX renders the report as a single-sheet workbook.
func WriteXLSX(w io.Writer, batch domain.ImportBatch, rows []domain.StagingRow) (int64, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName(file.GetSheetName(0), sheetName); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}

	stream, err := file.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("open sheet writer: %w", err)
	}
	for idx, line := range Table(batch, rows) {
		cells := make([]any, len(line))
		for i, value := range line {
			cells[i] = value
		}
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			return 0, fmt.Errorf("locate row %d: %w", idx+1, err)
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return 0, fmt.Errorf("write row %d: %w", idx+1, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet: %w", err)
	}

	n, err := file.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write xlsx report: %w", err)
	}
	return n, nil
}

// FileName builds a download name such as "errores-notas-3b1f2c4d.csv".
func FileName(batch domain.ImportBatch, format Format) string {
	base := strings.TrimSuffix(batch.FileName, fileExt(batch.FileName))
	return fmt.Sprintf("errores-%s-%s.%s", sanitizeFileComponent(base), batch.ID.String()[:8], format)
}

func fileExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "lote"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}
