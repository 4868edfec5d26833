package approval

import (
	"regexp"
	"strings"

	"importbot/pkg/tracker"
)

// Verdict is the approval state of a ticket.
type Verdict string

const (
	// VerdictApproved means a distinct human replied "approved" after the
	// active marker and the pinned fingerprints still match.
	VerdictApproved Verdict = "approved"
	// VerdictPending means the active marker awaits a response.
	VerdictPending Verdict = "pending"
	// VerdictNoRequest means no v2 marker exists on the ticket.
	VerdictNoRequest Verdict = "no-request"
	// VerdictInvalidated means an approval exists but the current attachments
	// diverge from the fingerprints pinned in the active marker.
	VerdictInvalidated Verdict = "invalidated"
)

// Evidence carries the comments a verdict was derived from.
type Evidence struct {
	Marker   *tracker.Comment
	Approval *tracker.Comment
	Pinned   []Fingerprint
}

var wsRe = regexp.MustCompile(`\s+`)

// IsApprovalBody reports whether a comment body, after lowercasing and
// whitespace collapsing, equals exactly "approved".
func IsApprovalBody(body string) bool {
	return wsRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(body)), " ") == "approved"
}

// Evaluate computes the verdict for a ticket. comments must already be in
// authoritative order (created, then id); the engine never mutates state.
//
// Only the chronologically latest marker is consulted. Among approvals after
// it by a distinct author, the earliest wins.
func Evaluate(comments []tracker.Comment, current []Fingerprint) (Verdict, *Evidence) {
	markerIdx := -1
	for i := range comments {
		if IsMarker(comments[i].Body) {
			markerIdx = i
		}
	}
	if markerIdx < 0 {
		return VerdictNoRequest, &Evidence{}
	}
	marker := &comments[markerIdx]

	ev := &Evidence{Marker: marker}
	if ctx, err := ParseMarker(marker.Body); err == nil {
		ev.Pinned = ctx.Attachments
	}

	for i := markerIdx + 1; i < len(comments); i++ {
		c := &comments[i]
		if c.Author.AccountID == marker.Author.AccountID {
			continue
		}
		if !IsApprovalBody(c.Body) {
			continue
		}
		ev.Approval = c
		if matches(ev.Pinned, current) {
			return VerdictApproved, ev
		}
		return VerdictInvalidated, ev
	}
	return VerdictPending, ev
}
