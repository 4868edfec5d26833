package approval

import (
	"bytes"
	"encoding/csv"
	"strings"

	"importbot/pkg/dataset"
)

// ApprovalCSVName is the filename of the generated proposal attachment.
const ApprovalCSVName = "users-for-approval.csv"

// BuildApprovalCSV renders the validated, split dataset as the CSV a human
// reviews before approving. Rows preserve source order; teams are joined
// with "|".
func BuildApprovalCSV(rows []*dataset.Row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write(dataset.CanonicalFields)
	for _, r := range rows {
		_ = w.Write([]string{
			r.Email,
			r.FirstName,
			r.LastName,
			r.JobTitle,
			r.Mobile,
			strings.Join(r.Teams, "|"),
			r.Role,
		})
	}
	w.Flush()
	return buf.Bytes()
}
