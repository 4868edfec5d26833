package sheet

import (
	"encoding/csv"
	"io"
	"strings"
)

// parseCSV decodes CSV bytes with RFC 4180 semantics: quoted fields,
// embedded newlines, commas inside quotes.
func parseCSV(filename string, data []byte) (*Raw, error) {
	text, enc, err := decodeText(data)
	if err != nil {
		return nil, &ParseError{File: filename, Reason: ReasonDecodeFailed, Detail: err.Error()}
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1 // ragged rows are handled during zipping
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{File: filename, Reason: ReasonDecodeFailed, Detail: err.Error()}
		}
		records = append(records, rec)
	}

	// The header is the first row with any non-blank cell.
	headerIdx := -1
	for i, rec := range records {
		if !allBlank(rec) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &ParseError{File: filename, Reason: ReasonEmptySheet}
	}

	headers := trimHeaders(records[headerIdx])
	rows := rowsToMaps(headers, records[headerIdx+1:])

	return &Raw{
		Headers: headers,
		Rows:    rows,
		Meta: Meta{
			Encoding:     enc,
			HeaderRow:    headerIdx,
			DataStartRow: headerIdx + 1,
		},
	}, nil
}

func allBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
