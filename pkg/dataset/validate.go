package dataset

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Validation error messages. Field order inside a row is fixed so that
// reports are deterministic.
const (
	errBlank          = "must not be blank"
	errEmailFormat    = "invalid email format"
	errDuplicateEmail = "duplicate email"
	errNoTeams        = "must list at least one team"
	errUnknownRole    = "unknown role"
)

// Validate runs per-row and cross-row validation over canonical rows.
// Rows are mutated in place (defaults applied, teams split) and the report
// references them.
func Validate(rows []*Row) *Report {
	rep := &Report{
		Total:          len(rows),
		ErrorHistogram: make(map[string]int),
		Rows:           rows,
	}

	for _, r := range rows {
		validateRow(r)
	}

	// Duplicates invalidate all rows sharing a case-folded email.
	byEmail := make(map[string][]*Row)
	for _, r := range rows {
		if r.Email == "" {
			continue
		}
		key := strings.ToLower(r.Email)
		byEmail[key] = append(byEmail[key], r)
	}
	for _, dup := range byEmail {
		if len(dup) < 2 {
			continue
		}
		for _, r := range dup {
			r.addError(FieldEmail, errDuplicateEmail)
		}
	}

	for _, r := range rows {
		if r.Valid() {
			rep.Valid++
			continue
		}
		rep.Invalid++
		for _, fe := range r.Errors {
			rep.ErrorHistogram[fe.Error]++
		}
	}
	return rep
}

func validateRow(r *Row) {
	if r.Email == "" {
		r.addError(FieldEmail, errBlank)
	} else if !emailRe.MatchString(r.Email) {
		r.addError(FieldEmail, errEmailFormat)
	}

	if r.FirstName == "" {
		r.addError(FieldFirstName, errBlank)
	}
	if r.LastName == "" {
		r.addError(FieldLastName, errBlank)
	}

	// Job title is optional.

	if r.Mobile == "" {
		r.Mobile = "0"
	}

	r.Teams = splitPipes(r.TeamsCell)
	if len(r.Teams) == 0 {
		r.addError(FieldTeams, errNoTeams)
	}

	role := strings.ToUpper(strings.TrimSpace(r.Role))
	if !Roles[role] {
		r.addError(FieldRole, errUnknownRole)
	} else {
		r.Role = role
	}
}
