package orch

import (
	"fmt"
	"strings"

	"importbot/pkg/backend"
	"importbot/pkg/sheet"
)

// Templated ticket replies. These are plain text; the tracker client wraps
// them in the document format the API requires.

func missingTenantComment() string {
	return strings.TrimSpace(`
I could not determine which tenant this upload is for.

Please add a line like "Tenant: acme" to the ticket description, or include
the tenant's service-account email address, then move the ticket back to Open.`)
}

func credentialSetupComment(tenant, lookupKey string) string {
	return strings.TrimSpace(fmt.Sprintf(`
No stored credentials were found for tenant %q.

Please create a vault entry named %q containing the tenant service-account
password, then move the ticket back to Open.`, tenant, lookupKey))
}

func noAttachmentsComment() string {
	return strings.TrimSpace(`
This ticket has no CSV or XLSX attachment to process.

Please attach the user list as a .csv or .xlsx file and move the ticket back
to Open.`)
}

func schemaFailureComment(filename string, missing []string) string {
	return strings.TrimSpace(fmt.Sprintf(`
The attachment %q is missing required columns: %s.

Please add the missing columns (or rename existing ones) and re-attach the
file, then move the ticket back to Open.`, filename, strings.Join(missing, ", ")))
}

func parseFailureComment(failures []*sheet.ParseError) string {
	var b strings.Builder
	b.WriteString("I could not read the following attachments:\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "- %s: %s", f.File, describeReason(f.Reason))
		if f.Detail != "" {
			fmt.Fprintf(&b, " (%s)", f.Detail)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPlease fix or replace the files and move the ticket back to Open.")
	return b.String()
}

func describeReason(reason string) string {
	switch reason {
	case sheet.ReasonTooLarge:
		return "the file exceeds the size limit"
	case sheet.ReasonUnknownExt:
		return "unsupported file type, only .csv and .xlsx are accepted"
	case sheet.ReasonEmptySheet:
		return "the sheet contains no rows"
	case sheet.ReasonNoHeader:
		return "no header row was found"
	case sheet.ReasonDecodeFailed:
		return "the file could not be decoded"
	case sheet.ReasonLowConfidence:
		return "the user data could not be located in the workbook"
	default:
		return reason
	}
}

// validationFailureComment reports a dataset where no row survived
// validation. errorBlock is the rendered histogram/summary.
func validationFailureComment(errorBlock string) string {
	return strings.TrimSpace(fmt.Sprintf(`
None of the rows in the attached file(s) passed validation, so there is
nothing to create.

%s

Please correct the file and re-attach it, then move the ticket back to Open.`, errorBlock))
}

func approvalInstructions() string {
	return strings.TrimSpace(`
To proceed, review the attached users-for-approval.csv and reply to this
ticket with a comment containing only the word "approved". Replacing or
re-uploading an attachment invalidates this request and a new one will be
posted.`)
}

func completionComment(res *backend.ImportResult) string {
	var b strings.Builder
	b.WriteString("Import complete.\n\n")
	fmt.Fprintf(&b, "Users created: %d\n", len(res.CreatedUsers))
	if len(res.ExistingUsers) > 0 {
		fmt.Fprintf(&b, "Users already present (skipped): %d\n", len(res.ExistingUsers))
	}
	if len(res.CreatedTeams) > 0 {
		fmt.Fprintf(&b, "Teams created: %s\n", strings.Join(res.CreatedTeams, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func failureComment(res *backend.ImportResult) string {
	var b strings.Builder
	b.WriteString("Import finished with failures.\n\n")
	fmt.Fprintf(&b, "Users created: %d\n", len(res.CreatedUsers))
	if len(res.ExistingUsers) > 0 {
		fmt.Fprintf(&b, "Users already present (skipped): %d\n", len(res.ExistingUsers))
	}
	if len(res.CreatedTeams) > 0 {
		fmt.Fprintf(&b, "Teams created: %s\n", strings.Join(res.CreatedTeams, ", "))
	}
	b.WriteString("\nFailed items:\n")
	for _, f := range res.Failures {
		fmt.Fprintf(&b, "- %s: %s\n", f.Subject(), f.Reason)
	}
	b.WriteString("\nThe listed items were not created. Please resolve the causes above;\n")
	b.WriteString("re-running the import is safe and will not duplicate existing users or teams.")
	return b.String()
}
