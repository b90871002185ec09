package adapter

import (
	"bytes"
	"encoding/csv"
	"io"
	"slices"
	"unicode/utf8"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/charmap"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

var csvExtensions = []string{".csv", ".txt", ".tsv"}

// CSVAdapter reads delimited text. Input that is not valid UTF-8 is decoded
// as Latin-1, which is what spreadsheet exports on Windows usually produce.
type CSVAdapter struct{}

// NewCSVAdapter returns the delimited text adapter.
func NewCSVAdapter() *CSVAdapter {
	return &CSVAdapter{}
}

func (a *CSVAdapter) Name() string { return "CSV (.csv, .txt, .tsv)" }

func (a *CSVAdapter) Detect(src Source) bool {
	return slices.Contains(csvExtensions, src.Ext())
}

func (a *CSVAdapter) ExtractRaw(src Source) (Table, error) {
	payload := bytes.TrimPrefix(src.Data, byteOrderMark)
	if !utf8.Valid(payload) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(payload)
		if err != nil {
			return Table{}, errors.Wrapf(domain.ErrUnreadableFile, "could not decode %q as UTF-8 or Latin-1", src.Name)
		}
		payload = decoded
	}

	reader := csv.NewReader(bytes.NewReader(payload))
	reader.Comma = sniffDelimiter(payload)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	// encoding/csv skips empty lines, so source lines come from FieldPos.
	var records [][]string
	var lines []int
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, errors.Wrapf(domain.ErrUnreadableFile,
				"failed to read csv %q: %v; the file may be corrupt or not a delimited text export", src.Name, err)
		}
		line, _ := reader.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}
	return buildTable(records, lines), nil
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on the
// first line. Ties go to the comma.
func sniffDelimiter(payload []byte) rune {
	line := payload
	if idx := bytes.IndexByte(payload, '\n'); idx >= 0 {
		line = payload[:idx]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t'} {
		if count := bytes.Count(line, []byte(string(candidate))); count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}
