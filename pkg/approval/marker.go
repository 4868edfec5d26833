package approval

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"importbot/pkg/config"
)

// Context is the payload materialized in a marker comment. Render and
// ParseMarker round-trip it.
type Context struct {
	TicketKey   string
	Tenant      string
	UserCount   int
	TeamCount   int
	Attachments []Fingerprint
	GeneratedAt time.Time
}

// Render produces the v2 marker body. Optional human-readable blocks
// (team-splitting notice, validation errors) follow the structured payload
// and are ignored by the parser.
func (c *Context) Render(extraBlocks ...string) string {
	var b strings.Builder
	b.WriteString(config.MarkerPrefix)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Ticket: %s\n", c.TicketKey)
	fmt.Fprintf(&b, "Tenant: %s\n", c.Tenant)
	fmt.Fprintf(&b, "Users to create: %d\n", c.UserCount)
	fmt.Fprintf(&b, "Teams involved: %d\n", c.TeamCount)
	fmt.Fprintf(&b, "Generated: %s\n", c.GeneratedAt.UTC().Format(time.RFC3339))
	b.WriteString("Attachments:\n")
	for _, fp := range c.Attachments {
		fmt.Fprintf(&b, "  %s: %s size: %d\n", fp.Filename, fp.SHA256Base64, fp.Size)
	}
	for _, block := range extraBlocks {
		if block == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(block, "\n"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// IsMarker reports whether a comment body is a v2 approval-request marker.
func IsMarker(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), config.MarkerPrefix)
}

// ParseMarker extracts the payload from a marker body the engine itself
// posted. Trailing free-text blocks are skipped.
func ParseMarker(body string) (*Context, error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, config.MarkerPrefix) {
		return nil, fmt.Errorf("marker: body does not start with the v2 prefix")
	}

	ctx := &Context{}
	inAttachments := false
	for _, line := range strings.Split(body, "\n")[1:] {
		if inAttachments {
			if strings.HasPrefix(line, "  ") {
				fp, err := parseFingerprintLine(line)
				if err != nil {
					return nil, err
				}
				ctx.Attachments = append(ctx.Attachments, fp)
				continue
			}
			// First non-indented line ends the attachment list; everything
			// after is human-readable and not part of the payload.
			break
		}

		switch {
		case strings.HasPrefix(line, "Ticket: "):
			ctx.TicketKey = strings.TrimSpace(strings.TrimPrefix(line, "Ticket: "))
		case strings.HasPrefix(line, "Tenant: "):
			ctx.Tenant = strings.TrimSpace(strings.TrimPrefix(line, "Tenant: "))
		case strings.HasPrefix(line, "Users to create: "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Users to create: ")))
			if err != nil {
				return nil, fmt.Errorf("marker: bad user count: %w", err)
			}
			ctx.UserCount = n
		case strings.HasPrefix(line, "Teams involved: "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Teams involved: ")))
			if err != nil {
				return nil, fmt.Errorf("marker: bad team count: %w", err)
			}
			ctx.TeamCount = n
		case strings.HasPrefix(line, "Generated: "):
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(line, "Generated: ")))
			if err != nil {
				return nil, fmt.Errorf("marker: bad generated timestamp: %w", err)
			}
			ctx.GeneratedAt = t
		case line == "Attachments:":
			inAttachments = true
		}
	}

	if ctx.Tenant == "" {
		return nil, fmt.Errorf("marker: missing tenant line")
	}
	return ctx, nil
}

// parseFingerprintLine reads "  <filename>: <base64> size: <N>". The
// filename may itself contain colons and spaces, so the line is split from
// the right.
func parseFingerprintLine(line string) (Fingerprint, error) {
	s := strings.TrimRight(line[2:], " ")

	sizeIdx := strings.LastIndex(s, " size: ")
	if sizeIdx < 0 {
		return Fingerprint{}, fmt.Errorf("marker: bad attachment line %q", line)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(s[sizeIdx+len(" size: "):]), 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("marker: bad attachment size in %q: %w", line, err)
	}

	rest := s[:sizeIdx]
	hashIdx := strings.LastIndex(rest, ": ")
	if hashIdx < 0 {
		return Fingerprint{}, fmt.Errorf("marker: bad attachment line %q", line)
	}

	return Fingerprint{
		Filename:     rest[:hashIdx],
		SHA256Base64: rest[hashIdx+2:],
		Size:         size,
	}, nil
}

// SplitNotice renders the human-readable block describing a team-cell
// rewrite, appended to the marker when splitting occurred.
func SplitNotice(sep string) string {
	return fmt.Sprintf(
		"Note: multi-team cells were detected and split using the %s separator.\n"+
			"The attached users-for-approval.csv shows the final team assignment per user.", sep)
}
