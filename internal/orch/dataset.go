package orch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"importbot/pkg/approval"
	"importbot/pkg/dataset"
	"importbot/pkg/sheet"
	"importbot/pkg/tracker"
)

// ticketDataset is the combined, validated dataset of one ticket's
// attachments, plus the fingerprints that pin it.
type ticketDataset struct {
	report       *dataset.Report
	fingerprints []approval.Fingerprint
	separator    dataset.Separator
	splitChanged bool

	// failureComment, when non-empty, is the templated reply for a
	// ticket-scoped dataset failure; the caller posts it and requests info.
	failureReason  string
	failureComment string
}

// buildDataset downloads and parses every parseable attachment, maps headers,
// validates rows, and splits team cells. Attachments are processed in
// filename order and their rows concatenated in that order.
//
// The returned error is always a tracker error (download failed); every
// dataset-level failure is folded into failureComment instead.
func (o *Orchestrator) buildDataset(ctx context.Context, log *zap.Logger, t *tracker.Ticket) (*ticketDataset, error) {
	var parseable []tracker.Attachment
	for _, att := range t.Attachments {
		if sheet.Parseable(att.Filename) {
			parseable = append(parseable, att)
		}
	}
	if len(parseable) == 0 {
		return &ticketDataset{
			failureReason:  "no parseable attachments",
			failureComment: noAttachmentsComment(),
		}, nil
	}

	ds := &ticketDataset{}
	var rows []*dataset.Row
	var parseFailures []*sheet.ParseError

	for _, att := range parseable {
		data, err := o.trk.DownloadAttachment(ctx, att)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", att.Filename, err)
		}
		ds.fingerprints = append(ds.fingerprints, approval.ComputeFingerprint(att.Filename, data))

		raw, err := o.parser.Parse(ctx, att.Filename, data)
		if err != nil {
			var perr *sheet.ParseError
			if errors.As(err, &perr) {
				log.Warn("attachment unparseable",
					zap.String("file", perr.File), zap.String("reason", perr.Reason))
				parseFailures = append(parseFailures, perr)
				continue
			}
			return nil, fmt.Errorf("parse %s: %w", att.Filename, err)
		}

		mapping, err := dataset.MapHeaders(ctx, raw.Headers, o.adapter)
		if err != nil {
			var serr *dataset.SchemaError
			if errors.As(err, &serr) {
				ds.failureReason = "missing required columns"
				ds.failureComment = schemaFailureComment(att.Filename, serr.Missing)
				return ds, nil
			}
			return nil, fmt.Errorf("map headers %s: %w", att.Filename, err)
		}

		log.Info("attachment parsed",
			zap.String("file", att.Filename),
			zap.String("encoding", raw.Meta.Encoding),
			zap.Int("rows", len(raw.Rows)))
		rows = append(rows, dataset.BuildRows(raw.Rows, mapping, raw.Meta.DataStartRow+1)...)
	}

	// A single unparseable attachment invalidates the pass: an approved
	// dataset must cover every file the reporter attached.
	if len(parseFailures) > 0 {
		ds.failureReason = "unparseable attachments"
		ds.failureComment = parseFailureComment(parseFailures)
		return ds, nil
	}

	ds.report = dataset.Validate(rows)
	ds.separator, ds.splitChanged = dataset.SplitTeams(ds.report)
	log.Info("dataset validated",
		zap.Int("total", ds.report.Total),
		zap.Int("valid", ds.report.Valid),
		zap.Int("invalid", ds.report.Invalid),
		zap.String("team_separator", string(ds.separator)))
	return ds, nil
}

// postMarker attaches the proposal CSV and posts the fingerprint-pinned
// approval-request comment.
func (o *Orchestrator) postMarker(ctx context.Context, log *zap.Logger, t *tracker.Ticket,
	tenantID string, ds *ticketDataset) error {

	csvBytes := approval.BuildApprovalCSV(ds.report.ValidRows())
	if err := o.trk.AttachFile(ctx, t.Key, approval.ApprovalCSVName, csvBytes); err != nil {
		return err
	}

	mctx := &approval.Context{
		TicketKey:   t.Key,
		Tenant:      tenantID,
		UserCount:   ds.report.Valid,
		TeamCount:   len(ds.report.TeamNames()),
		Attachments: ds.fingerprints,
		GeneratedAt: o.now(),
	}

	var blocks []string
	if ds.splitChanged {
		blocks = append(blocks, approval.SplitNotice(string(ds.separator)))
	}
	if ds.report.Invalid > 0 {
		blocks = append(blocks, o.summarizeErrors(ctx, ds.report))
	}
	blocks = append(blocks, approvalInstructions())

	log.Info("posting approval request",
		zap.Int("users", mctx.UserCount),
		zap.Int("teams", mctx.TeamCount),
		zap.Int("attachments", len(mctx.Attachments)))
	return o.trk.AddComment(ctx, t.Key, mctx.Render(blocks...))
}

// summarizeErrors renders the validation-error block of a marker. The LLM
// summary is preferred; its failure falls back to the histogram rendered
// deterministically.
func (o *Orchestrator) summarizeErrors(ctx context.Context, rep *dataset.Report) string {
	samples := errorSamples(rep, 10)

	if sum, err := o.adapter.SummarizeErrors(ctx, rep.ErrorHistogram, samples); err == nil {
		var b strings.Builder
		fmt.Fprintf(&b, "%d of %d rows were skipped: %s\n", rep.Invalid, rep.Total, sum.Summary)
		for _, p := range sum.BulletPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d rows were skipped:\n", rep.Invalid, rep.Total)
	for _, msg := range sortedKeys(rep.ErrorHistogram) {
		fmt.Fprintf(&b, "- %s: %d rows\n", msg, rep.ErrorHistogram[msg])
	}
	for _, s := range samples {
		fmt.Fprintf(&b, "%s\n", s)
	}
	return strings.TrimRight(b.String(), "\n")
}

// errorSamples renders up to n invalid rows as one-line samples.
func errorSamples(rep *dataset.Report, n int) []string {
	var out []string
	for _, r := range rep.Rows {
		if r.Valid() {
			continue
		}
		parts := make([]string, 0, len(r.Errors))
		for _, fe := range r.Errors {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Error))
		}
		out = append(out, fmt.Sprintf("row %d: %s", r.RowNum, strings.Join(parts, "; ")))
		if len(out) == n {
			break
		}
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
