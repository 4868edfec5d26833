package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utf16le(s string, bom bool) []byte {
	var out []byte
	if bom {
		out = append(out, 0xFF, 0xFE)
	}
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func utf16be(s string, bom bool) []byte {
	var out []byte
	if bom {
		out = append(out, 0xFE, 0xFF)
	}
	for _, r := range s {
		out = append(out, byte(r>>8), byte(r))
	}
	return out
}

func TestDecodeTextUTF8(t *testing.T) {
	text, enc, err := decodeText([]byte("Email,Name\nada@example.com,Ada\n"))
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Contains(t, text, "ada@example.com")
}

func TestDecodeTextUTF8MultibyteAfterOddPrefix(t *testing.T) {
	// The first three lines span an odd byte count, and a two-byte rune
	// starts right after them. The detector must not split it.
	text, enc, err := decodeText([]byte("ab\ncd\nef\né@example.com,x\n"))
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Contains(t, text, "é@example.com")
}

func TestDecodeTextStripsUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Email\n")...)
	text, enc, err := decodeText(data)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, "Email\n", text)
}

func TestDecodeTextUTF16LE(t *testing.T) {
	text, enc, err := decodeText(utf16le("Email,Name\nréné@example.com,René\n", true))
	require.NoError(t, err)
	assert.Equal(t, "utf-16le", enc)
	assert.Contains(t, text, "réné@example.com")
}

func TestDecodeTextUTF16BE(t *testing.T) {
	text, enc, err := decodeText(utf16be("Email,Name\nada@example.com,Ada\n", true))
	require.NoError(t, err)
	assert.Equal(t, "utf-16be", enc)
	assert.Contains(t, text, "ada@example.com")
}

func TestDecodeTextUTF16WithoutBOM(t *testing.T) {
	text, enc, err := decodeText(utf16le("Email,Name\nada@example.com,Ada\n", false))
	require.NoError(t, err)
	assert.Equal(t, "utf-16", enc)
	assert.Contains(t, text, "ada@example.com")
}

func TestDecodeTextLatin1(t *testing.T) {
	// "café" in ISO-8859-1: é is a lone 0xE9, invalid as UTF-8.
	data := []byte{'c', 'a', 'f', 0xE9, '\n'}
	text, enc, err := decodeText(data)
	require.NoError(t, err)
	assert.Equal(t, "iso-8859-1", enc)
	assert.Equal(t, "café\n", text)
}
