// Package tracker provides the issue-tracker REST client: search, fetch,
// attachment download, comments, and workflow transitions.
//
// Modeled on JIRA Cloud REST v3 with basic auth (email + API token).
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Ticket statuses the state machine dispatches on. The status set is open;
// anything unrecognized is terminal for the agent.
const (
	StatusOpen         = "Open"
	StatusReview       = "Review"
	StatusInfoRequired = "Info Required"
	StatusDone         = "Done"
)

// Ticket is one issue as the agent sees it. Immutable except through
// explicit API calls.
type Ticket struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Attachments []Attachment
	Comments    []Comment
}

// Attachment references an uploaded file. Content bytes are fetched on
// demand and held only for the duration of one processing pass.
type Attachment struct {
	ID         string
	Filename   string
	MimeType   string
	Size       int64
	ContentURL string
}

// Author identifies a comment author.
type Author struct {
	AccountID   string
	DisplayName string
}

// Comment is one issue comment with its body collapsed to plain text.
type Comment struct {
	ID      string
	Author  Author
	Created time.Time
	Body    string
}

// SortComments orders comments by created timestamp, ties broken by comment
// id ascending. This ordering is authoritative for the approval contract.
func SortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if !comments[i].Created.Equal(comments[j].Created) {
			return comments[i].Created.Before(comments[j].Created)
		}
		return commentIDLess(comments[i].ID, comments[j].ID)
	})
}

// commentIDLess compares ids numerically when both parse as integers, so
// "9" sorts before "10". Non-numeric ids fall back to string order.
func commentIDLess(a, b string) bool {
	na, aerr := strconv.ParseUint(a, 10, 64)
	nb, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		return na < nb
	}
	return a < b
}

// SortAttachments orders attachments by ascending filename so processing
// order is stable and deterministic.
func SortAttachments(atts []Attachment) {
	sort.SliceStable(atts, func(i, j int) bool {
		return atts[i].Filename < atts[j].Filename
	})
}

// API is the tracker surface the orchestrator consumes. The HTTP client
// implements it; tests use fakes.
type API interface {
	Search(ctx context.Context, jql string) ([]string, error)
	GetTicket(ctx context.Context, key string) (*Ticket, error)
	DownloadAttachment(ctx context.Context, att Attachment) ([]byte, error)
	AddComment(ctx context.Context, key, body string) error
	AttachFile(ctx context.Context, key, filename string, data []byte) error
	TransitionTo(ctx context.Context, key, status string) error
}

// Error is a tagged tracker failure. Transient errors cause the ticket to be
// reported failed for this pass and retried next pass; permanent errors
// (4xx other than 429) cause the ticket to be skipped and logged.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("tracker %s: %s error (HTTP %d): %v", e.Op, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("tracker %s: %s error: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
