package sheet

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// candidate encodings, tried in order. The first whose guard accepts the
// probe (the first three lines) and whose decoder succeeds wins.
type candidateEncoding struct {
	name    string
	dec     *encoding.Decoder
	guard   func(probe []byte) bool
	twoByte bool
}

var (
	bomBE = []byte{0xFE, 0xFF}
	bomLE = []byte{0xFF, 0xFE}
)

func candidates() []candidateEncoding {
	return []candidateEncoding{
		// Validated directly, no transform needed. NUL bytes are valid UTF-8
		// but never occur in real CSV text; they indicate BOM-less UTF-16.
		{name: "utf-8", guard: func(p []byte) bool { return bytes.IndexByte(p, 0x00) < 0 }},
		// ExpectBOM lets the BOM override the declared endianness, so each
		// BOM'd candidate checks its own byte-order mark to keep the reported
		// name honest.
		{
			name:    "utf-16be",
			dec:     unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder(),
			guard:   func(p []byte) bool { return bytes.HasPrefix(p, bomBE) },
			twoByte: true,
		},
		{
			name:    "utf-16le",
			dec:     unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(),
			guard:   func(p []byte) bool { return bytes.HasPrefix(p, bomLE) },
			twoByte: true,
		},
		// The UTF-16 decoder substitutes U+FFFD instead of failing, so the
		// BOM-less fallback only runs when the probe actually looks 2-byte.
		{
			name:    "utf-16",
			dec:     unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(),
			guard:   looksUTF16,
			twoByte: true,
		},
		{name: "iso-8859-1", dec: charmap.ISO8859_1.NewDecoder()},
		{name: "windows-1252", dec: charmap.Windows1252.NewDecoder()},
	}
}

// decodeText converts raw bytes to UTF-8 text, returning the winning
// encoding name.
func decodeText(data []byte) (string, string, error) {
	probe := firstLines(data, 3)
	// 2-byte candidates need the probe on a code-unit boundary; the byte
	// after an odd-offset newline may sit mid-rune in UTF-8, so the 1-byte
	// candidates must see the unextended cut.
	probe16 := evenAligned(probe, data)

	for _, c := range candidates() {
		p := probe
		if c.twoByte {
			p = probe16
		}
		if c.guard != nil && !c.guard(p) {
			continue
		}
		if c.dec == nil {
			if utf8.Valid(p) && utf8.Valid(data) {
				// Strip a UTF-8 BOM if present.
				return string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), c.name, nil
			}
			continue
		}
		if _, _, err := transform.Bytes(c.dec, p); err != nil {
			continue
		}
		decoded, _, err := transform.Bytes(c.dec, data)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		return string(decoded), c.name, nil
	}
	return "", "", fmt.Errorf("no candidate encoding decodes the input")
}

// looksUTF16 reports whether the probe plausibly holds 2-byte text: even
// length and NUL bytes, which never appear in 8-bit text encodings.
func looksUTF16(probe []byte) bool {
	return len(probe)%2 == 0 && bytes.IndexByte(probe, 0x00) >= 0
}

// evenAligned pads the probe to an even byte count from the underlying data
// so UTF-16 code units stay whole.
func evenAligned(probe, data []byte) []byte {
	if len(probe)%2 == 0 || len(probe) >= len(data) {
		return probe
	}
	return data[:len(probe)+1]
}

// firstLines returns the bytes up to and including the n-th newline, or the
// whole input when it has fewer lines.
func firstLines(data []byte, n int) []byte {
	count := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			count++
			if count == n {
				return data[:i+1]
			}
		}
	}
	return data
}
