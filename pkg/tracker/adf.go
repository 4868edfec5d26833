package tracker

import (
	"encoding/json"
	"strings"
)

// adfNode is the minimal shape of an Atlassian Document Format node needed
// for text extraction.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// ExtractText collapses a field value to plain text. The value is either a
// JSON string (legacy plain text) or an ADF document; block-level nodes are
// joined with newlines so pattern matching sees line structure.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var b strings.Builder
	writeNode(&b, &doc)
	return strings.TrimRight(b.String(), "\n")
}

func writeNode(b *strings.Builder, n *adfNode) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for i := range n.Content {
		writeNode(b, &n.Content[i])
	}
	switch n.Type {
	case "paragraph", "heading", "codeBlock", "blockquote", "listItem":
		b.WriteString("\n")
	case "hardBreak":
		b.WriteString("\n")
	}
}

// adfDocument wraps plain text into a minimal ADF document, one paragraph
// per line.
func adfDocument(text string) map[string]any {
	lines := strings.Split(text, "\n")
	content := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		para := map[string]any{"type": "paragraph"}
		if line != "" {
			para["content"] = []map[string]any{
				{"type": "text", "text": line},
			}
		}
		content = append(content, para)
	}
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}
