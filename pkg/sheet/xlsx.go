package sheet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"importbot/pkg/dataset"
)

const previewRows = 10

// parseXLSX opens a workbook and extracts the data sheet. A single sheet
// whose first row carries a recognizable header is used directly; anything
// else goes through the locator.
func (p *Parser) parseXLSX(ctx context.Context, filename string, data []byte) (*Raw, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{File: filename, Reason: ReasonDecodeFailed, Detail: err.Error()}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{File: filename, Reason: ReasonEmptySheet}
	}

	if len(sheets) == 1 {
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, &ParseError{File: filename, Reason: ReasonDecodeFailed, Detail: err.Error()}
		}
		if len(rows) == 0 {
			return nil, &ParseError{File: filename, Reason: ReasonEmptySheet}
		}
		if hasKnownHeader(rows[0]) {
			return buildRaw(sheets[0], rows, 0, 1), nil
		}
	}

	if p.locator == nil {
		return nil, &ParseError{File: filename, Reason: ReasonNoHeader}
	}

	previews := make([]SheetPreview, 0, len(sheets))
	bySheet := make(map[string][][]string, len(sheets))
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, &ParseError{File: filename, Reason: ReasonDecodeFailed, Detail: err.Error()}
		}
		bySheet[name] = rows
		n := len(rows)
		if n > previewRows {
			n = previewRows
		}
		previews = append(previews, SheetPreview{Name: name, Rows: rows[:n]})
	}

	loc, err := p.locator.LocateSheet(ctx, previews)
	if err != nil {
		return nil, &ParseError{File: filename, Reason: ReasonNoHeader, Detail: err.Error()}
	}
	if loc.Confidence == "low" {
		return nil, &ParseError{File: filename, Reason: ReasonLowConfidence,
			Detail: fmt.Sprintf("sheet %q", loc.SheetName)}
	}

	rows, ok := bySheet[loc.SheetName]
	if !ok {
		return nil, &ParseError{File: filename, Reason: ReasonNoHeader,
			Detail: fmt.Sprintf("locator named unknown sheet %q", loc.SheetName)}
	}
	if loc.HeaderRow < 0 || loc.HeaderRow >= len(rows) {
		return nil, &ParseError{File: filename, Reason: ReasonNoHeader,
			Detail: fmt.Sprintf("header row %d out of range", loc.HeaderRow)}
	}
	dataStart := loc.DataStartRow
	if dataStart <= loc.HeaderRow {
		dataStart = loc.HeaderRow + 1
	}
	return buildRaw(loc.SheetName, rows, loc.HeaderRow, dataStart), nil
}

func buildRaw(sheetName string, rows [][]string, headerRow, dataStart int) *Raw {
	headers := trimHeaders(rows[headerRow])
	var body [][]string
	if dataStart < len(rows) {
		body = rows[dataStart:]
	}
	return &Raw{
		Headers: headers,
		Rows:    rowsToMaps(headers, body),
		Meta: Meta{
			Encoding:     "utf-8",
			SheetName:    sheetName,
			HeaderRow:    headerRow,
			DataStartRow: dataStart,
		},
	}
}

func hasKnownHeader(row []string) bool {
	for _, cell := range row {
		if dataset.IsKnownHeader(cell) {
			return true
		}
	}
	return false
}
