package dataset

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"importbot/pkg/logx"
)

// HeaderMapper maps raw headers the synonym table could not place. The AI
// adapter implements it; a nil mapper skips the assist step.
type HeaderMapper interface {
	MapHeaders(ctx context.Context, unmapped, missing []string) (mapping map[string]string, stillUnmapped []string, err error)
}

// synonyms maps normalized header strings to canonical fields. Deterministic
// matches always win over LLM suggestions.
var synonyms = map[string]string{
	"email":          FieldEmail,
	"e-mail":         FieldEmail,
	"email address":  FieldEmail,
	"e-mail address": FieldEmail,
	"mail":           FieldEmail,

	"first name": FieldFirstName,
	"firstname":  FieldFirstName,
	"given name": FieldFirstName,
	"fname":      FieldFirstName,
	"first":      FieldFirstName,

	"last name":   FieldLastName,
	"lastname":    FieldLastName,
	"surname":     FieldLastName,
	"family name": FieldLastName,
	"lname":       FieldLastName,
	"last":        FieldLastName,

	"job title":    FieldJobTitle,
	"jobtitle":     FieldJobTitle,
	"title":        FieldJobTitle,
	"position":     FieldJobTitle,
	"occupation":   FieldJobTitle,
	"designation":  FieldJobTitle,
	"role title":   FieldJobTitle,
	"job position": FieldJobTitle,

	"mobile number":  FieldMobile,
	"mobile":         FieldMobile,
	"mobile phone":   FieldMobile,
	"phone":          FieldMobile,
	"phone number":   FieldMobile,
	"cell":           FieldMobile,
	"cell phone":     FieldMobile,
	"cellphone":      FieldMobile,
	"contact number": FieldMobile,

	"teams":      FieldTeams,
	"team":       FieldTeams,
	"team name":  FieldTeams,
	"teams name": FieldTeams,
	"group":      FieldTeams,
	"groups":     FieldTeams,
	"department": FieldTeams,
	"dept":       FieldTeams,
	"site":       FieldTeams,

	"user role":    FieldRole,
	"role":         FieldRole,
	"user type":    FieldRole,
	"access":       FieldRole,
	"access level": FieldRole,
	"permission":   FieldRole,
	"permissions":  FieldRole,
}

var headerJunkRe = regexp.MustCompile(`[^a-z0-9 _-]`)
var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeHeader lowercases, collapses whitespace, and strips every
// character outside [a-z0-9 _-].
func NormalizeHeader(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	h = spaceRe.ReplaceAllString(h, " ")
	h = headerJunkRe.ReplaceAllString(h, "")
	return strings.TrimSpace(h)
}

// IsKnownHeader reports whether a raw header matches the synonym table.
// The parser uses it for deterministic header-row detection.
func IsKnownHeader(raw string) bool {
	_, ok := synonyms[NormalizeHeader(raw)]
	return ok
}

// Mapping is the resolved header mapping for one dataset.
type Mapping struct {
	// ByCanonical maps canonical field -> raw header (first match wins).
	ByCanonical map[string]string
	// Unmapped lists raw headers that map to no canonical field.
	Unmapped []string
}

// Missing returns the required canonical fields absent from the mapping.
func (m *Mapping) Missing() []string {
	var out []string
	for _, f := range RequiredFields {
		if _, ok := m.ByCanonical[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// MapHeaders resolves raw headers to canonical fields: synonym table first,
// then the mapper for leftovers. Returns a SchemaError when required fields
// stay unmapped.
func MapHeaders(ctx context.Context, rawHeaders []string, mapper HeaderMapper) (*Mapping, error) {
	m := &Mapping{ByCanonical: make(map[string]string)}

	for _, raw := range rawHeaders {
		canon, ok := synonyms[NormalizeHeader(raw)]
		if !ok {
			m.Unmapped = append(m.Unmapped, raw)
			continue
		}
		// Dedup by canonical field, keeping the first raw header.
		if _, taken := m.ByCanonical[canon]; !taken {
			m.ByCanonical[canon] = raw
		}
	}

	if missing := m.Missing(); len(missing) > 0 && len(m.Unmapped) > 0 && mapper != nil {
		suggested, stillUnmapped, err := mapper.MapHeaders(ctx, m.Unmapped, missing)
		if err != nil {
			// The LLM is advisory; the deterministic result stands.
			logx.Warn("header mapping assist failed", zap.Error(err))
		} else {
			for raw, canon := range suggested {
				if _, taken := m.ByCanonical[canon]; taken {
					continue
				}
				if !isCanonical(canon) || !contains(m.Unmapped, raw) {
					continue
				}
				m.ByCanonical[canon] = raw
			}
			m.Unmapped = stillUnmapped
		}
	}

	if missing := m.Missing(); len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return m, nil
}

// BuildRows converts raw row maps into canonical rows using the mapping.
// firstDataRow is the 1-based source row number of the first data row.
func BuildRows(rows []map[string]string, m *Mapping, firstDataRow int) []*Row {
	out := make([]*Row, 0, len(rows))
	for i, raw := range rows {
		r := &Row{RowNum: firstDataRow + i}
		r.Email = strings.TrimSpace(raw[m.ByCanonical[FieldEmail]])
		r.FirstName = strings.TrimSpace(raw[m.ByCanonical[FieldFirstName]])
		r.LastName = strings.TrimSpace(raw[m.ByCanonical[FieldLastName]])
		if h, ok := m.ByCanonical[FieldJobTitle]; ok {
			r.JobTitle = strings.TrimSpace(raw[h])
		}
		if h, ok := m.ByCanonical[FieldMobile]; ok {
			r.Mobile = strings.TrimSpace(raw[h])
		}
		r.TeamsCell = strings.TrimSpace(raw[m.ByCanonical[FieldTeams]])
		r.Role = strings.TrimSpace(raw[m.ByCanonical[FieldRole]])
		out = append(out, r)
	}
	return out
}

func isCanonical(f string) bool {
	for _, c := range CanonicalFields {
		if c == f {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
