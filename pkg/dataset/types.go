// Package dataset turns raw spreadsheet rows into the canonical user schema
// and validates them.
//
// The raw map shape from the parser stops at this boundary: everything past
// BuildRows works on typed Row values.
package dataset

import (
	"fmt"
	"strings"
)

// Canonical fields. Every dataset row carries exactly this field set.
const (
	FieldEmail     = "email"
	FieldFirstName = "first name"
	FieldLastName  = "last name"
	FieldJobTitle  = "job title"
	FieldMobile    = "mobile number"
	FieldTeams     = "teams"
	FieldRole      = "user role"
)

// CanonicalFields lists all canonical fields in output order.
var CanonicalFields = []string{
	FieldEmail, FieldFirstName, FieldLastName,
	FieldJobTitle, FieldMobile, FieldTeams, FieldRole,
}

// RequiredFields must all be mapped for a dataset to be schema-valid.
var RequiredFields = []string{
	FieldEmail, FieldFirstName, FieldLastName, FieldTeams, FieldRole,
}

// Roles is the closed user-role set, upper-cased.
var Roles = map[string]bool{
	"TEAM MEMBER":           true,
	"MANAGER":               true,
	"MONITOR":               true,
	"ADMINISTRATOR":         true,
	"COMPANY ADMINISTRATOR": true,
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Row is one user row in canonical form. RowNum preserves the source row
// number (1-based, counting the header row as row 1).
type Row struct {
	RowNum    int
	Email     string
	FirstName string
	LastName  string
	JobTitle  string
	Mobile    string
	Role      string

	// TeamsCell is the raw teams cell; Teams is its split form, written by
	// the validator and possibly rewritten by the team splitter.
	TeamsCell string
	Teams     []string

	Errors []FieldError
}

// Valid reports whether the row passed validation.
func (r *Row) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Row) addError(field, msg string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Error: msg})
}

// Report is the validator's output for one dataset.
type Report struct {
	Total          int
	Valid          int
	Invalid        int
	ErrorHistogram map[string]int
	Rows           []*Row
}

// ValidRows returns the rows that passed validation, in source order.
func (rep *Report) ValidRows() []*Row {
	out := make([]*Row, 0, rep.Valid)
	for _, r := range rep.Rows {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// TeamNames returns the distinct team names across valid rows, in order of
// first appearance. This is the creation order for missing teams.
func (rep *Report) TeamNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rep.Rows {
		if !r.Valid() {
			continue
		}
		for _, t := range r.Teams {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// SchemaError marks a dataset whose headers are missing required canonical
// fields. Processing stops for the attachment that produced it.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("dataset: missing required fields: %s", strings.Join(e.Missing, ", "))
}
