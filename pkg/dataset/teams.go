package dataset

import (
	"regexp"
	"strings"
)

// Pipe-like separator class: ASCII pipe plus the Unicode lookalikes that show
// up in copy-pasted spreadsheets (U+04CF, U+01C0).
var pipeLikeRe = regexp.MustCompile("[|ӏǀ]")

var whitespaceRe = regexp.MustCompile(`\s+`)

// Separator names the detected inter-team separator mode.
type Separator string

const (
	SeparatorPipe       Separator = "pipe"
	SeparatorWhitespace Separator = "whitespace"
)

// splitPipes splits a teams cell on the pipe-like class, trims parts, drops
// empties, and deduplicates preserving order.
func splitPipes(cell string) []string {
	return dedupe(pipeLikeRe.Split(cell, -1))
}

// SplitTeams disambiguates multi-team cells across the valid rows of a
// report. If any cell contains a pipe-like character, pipe is the separator
// (rows are already pipe-split by the validator). Otherwise whitespace is
// the separator and cells containing spaces are re-split on \s+.
//
// Returns the detected separator and whether any rewrite occurred; when a
// rewrite occurred the approval marker carries a notice describing it.
func SplitTeams(rep *Report) (Separator, bool) {
	pipeMode := false
	for _, r := range rep.Rows {
		if r.Valid() && pipeLikeRe.MatchString(r.TeamsCell) {
			pipeMode = true
			break
		}
	}

	if pipeMode {
		// Validator already split on the pipe-like class; a multi-part split
		// counts as a rewrite for the marker notice.
		changed := false
		for _, r := range rep.Rows {
			if r.Valid() && len(r.Teams) > 1 {
				changed = true
			}
		}
		return SeparatorPipe, changed
	}

	changed := false
	for _, r := range rep.Rows {
		if !r.Valid() || !strings.ContainsAny(r.TeamsCell, " \t") {
			continue
		}
		parts := dedupe(whitespaceRe.Split(r.TeamsCell, -1))
		if len(parts) > len(r.Teams) || len(parts) > 1 {
			r.Teams = parts
			changed = true
		}
	}
	return SeparatorWhitespace, changed
}

func dedupe(parts []string) []string {
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
