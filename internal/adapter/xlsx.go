package adapter

import (
	"bytes"
	"slices"

	"github.com/rpattn/stagedimport/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

var (
	xlsxExtensions = []string{".xlsx", ".xlsm", ".xltx", ".xltm"}
	zipMagic       = []byte("PK\x03\x04")
	oleMagic       = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// XLSXAdapter reads the first worksheet of an Office Open XML workbook.
type XLSXAdapter struct{}

// NewXLSXAdapter returns the workbook adapter.
func NewXLSXAdapter() *XLSXAdapter {
	return &XLSXAdapter{}
}

func (a *XLSXAdapter) Name() string { return "Excel workbook (.xlsx, .xlsm)" }

func (a *XLSXAdapter) Detect(src Source) bool {
	if slices.Contains(xlsxExtensions, src.Ext()) {
		return true
	}
	return src.Ext() == "" && bytes.HasPrefix(src.Data, zipMagic)
}

func (a *XLSXAdapter) ExtractRaw(src Source) (Table, error) {
	if bytes.HasPrefix(src.Data, oleMagic) {
		return Table{}, errors.Wrapf(domain.ErrUnreadableFile,
			"%q is password protected or saved in the legacy .xls format; remove the password and save it as .xlsx", src.Name)
	}

	f, err := excelize.OpenReader(bytes.NewReader(src.Data))
	if err != nil {
		return Table{}, errors.Wrapf(domain.ErrUnreadableFile,
			"failed to open workbook %q: %v; the file may be corrupt or have the wrong extension", src.Name, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return buildTable(nil, nil), nil
	}

	// Raw values keep leading zeros and avoid locale number formatting.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Table{}, errors.Wrapf(domain.ErrUnreadableFile, "failed to read rows from %q: %v", src.Name, err)
	}
	return buildTable(rows, nil), nil
}
