// Package sheet decodes CSV/XLSX attachment bytes into raw row maps keyed by
// header strings.
//
// The raw map shape lives only here; the dataset package converts it to the
// canonical schema immediately downstream.
package sheet

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Parse failure reasons surfaced in ticket comments.
const (
	ReasonTooLarge      = "too-large"
	ReasonUnknownExt    = "unknown-extension"
	ReasonEmptySheet    = "empty-sheet"
	ReasonNoHeader      = "no-header"
	ReasonDecodeFailed  = "decode-failed"
	ReasonLowConfidence = "low-confidence"
)

// ParseError is a structured parse failure for one attachment.
type ParseError struct {
	File   string
	Reason string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parse %s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s (%s)", e.File, e.Reason, e.Detail)
}

// Meta describes how a file was decoded.
type Meta struct {
	Encoding     string
	SheetName    string
	HeaderRow    int // 0-based index of the header row
	DataStartRow int // 0-based index of the first data row
}

// Raw is one parsed dataset: ordered headers and rows keyed by the raw
// header strings.
type Raw struct {
	Headers []string
	Rows    []map[string]string
	Meta    Meta
}

// SheetPreview is the first rows of one workbook sheet, handed to the
// locator when deterministic detection fails.
type SheetPreview struct {
	Name string
	Rows [][]string
}

// SheetLocation is the locator's answer.
type SheetLocation struct {
	SheetName    string
	HeaderRow    int
	DataStartRow int
	Confidence   string // high | medium | low
}

// Locator finds the data sheet in an ambiguous workbook. The AI adapter
// implements it; a nil locator turns ambiguity into a parse failure.
type Locator interface {
	LocateSheet(ctx context.Context, previews []SheetPreview) (SheetLocation, error)
}

// Parser decodes attachments subject to a size limit.
type Parser struct {
	maxBytes int64
	locator  Locator
}

// NewParser creates a parser. maxBytes caps attachment size; locator may be
// nil.
func NewParser(maxBytes int64, locator Locator) *Parser {
	return &Parser{maxBytes: maxBytes, locator: locator}
}

// Parse decodes one attachment. The size check runs first so an oversized
// file never reaches the decoder or the LLM.
func (p *Parser) Parse(ctx context.Context, filename string, data []byte) (*Raw, error) {
	if int64(len(data)) > p.maxBytes {
		return nil, &ParseError{
			File:   filename,
			Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds limit %d", len(data), p.maxBytes),
		}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return parseCSV(filename, data)
	case ".xlsx":
		return p.parseXLSX(ctx, filename, data)
	default:
		return nil, &ParseError{File: filename, Reason: ReasonUnknownExt}
	}
}

// Parseable reports whether the filename has a supported extension.
func Parseable(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// rowsToMaps zips header and data rows into the raw map form, trimming
// cells and dropping rows that are entirely blank.
func rowsToMaps(headers []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(headers))
		blank := true
		for i, h := range headers {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			if cell != "" {
				blank = false
			}
			m[h] = cell
		}
		if !blank {
			out = append(out, m)
		}
	}
	return out
}

func trimHeaders(row []string) []string {
	out := make([]string, len(row))
	for i, h := range row {
		out[i] = strings.TrimSpace(h)
	}
	return out
}
