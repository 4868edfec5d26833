package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"importbot/pkg/logx"
	"importbot/pkg/metrics"
	"importbot/pkg/sheet"
)

// Adapter runs the four structured tasks over a Client.
// It satisfies dataset.HeaderMapper and sheet.Locator.
type Adapter struct {
	client Client
}

// NewAdapter wraps a client.
func NewAdapter(c Client) *Adapter {
	return &Adapter{client: c}
}

const systemPrompt = `You are a precise assistant embedded in an automated user-import agent.
Respond with a single JSON object and nothing else: no prose, no markdown fences.`

type intentResult struct {
	IsUserUpload *bool `json:"is_user_upload"`
}

// ClassifyIntent decides whether a ticket requests a bulk user import.
func (a *Adapter) ClassifyIntent(ctx context.Context, summary, description string) (bool, error) {
	user := fmt.Sprintf(`Does this issue request a bulk user import/upload into an identity backend?
Summary: %s
Description: %s

Answer as JSON: {"is_user_upload": true|false}`, summary, truncate(description, 4000))

	var res intentResult
	if err := a.ask(ctx, "intent", user, &res); err != nil {
		return false, err
	}
	if res.IsUserUpload == nil {
		return false, a.reject("intent", "missing is_user_upload")
	}
	return *res.IsUserUpload, nil
}

type headerMapResult struct {
	Mapping  map[string]string `json:"mapping"`
	Unmapped []string          `json:"unmapped"`
}

// MapHeaders asks the model to place raw headers onto the still-missing
// canonical fields. Implements dataset.HeaderMapper.
func (a *Adapter) MapHeaders(ctx context.Context, unmapped, missing []string) (map[string]string, []string, error) {
	user := fmt.Sprintf(`Map spreadsheet column headers to canonical user fields.
Unmapped headers: %s
Canonical fields still needed: %s

Answer as JSON: {"mapping": {"<raw header>": "<canonical field>"}, "unmapped": ["<canonical field>", ...]}
Only use the listed canonical fields. List a canonical field in "unmapped" when no header fits it.`,
		jsonList(unmapped), jsonList(missing))

	var res headerMapResult
	if err := a.ask(ctx, "header_mapping", user, &res); err != nil {
		return nil, nil, err
	}
	if res.Mapping == nil {
		return nil, nil, a.reject("header_mapping", "missing mapping object")
	}
	return res.Mapping, res.Unmapped, nil
}

type sheetResult struct {
	SheetName    string `json:"sheet_name"`
	HeaderRow    *int   `json:"header_row"`
	DataStartRow *int   `json:"data_start_row"`
	Confidence   string `json:"confidence"`
	Reasoning    string `json:"reasoning"`
}

// LocateSheet finds the user-data sheet in an ambiguous workbook.
// Implements sheet.Locator.
func (a *Adapter) LocateSheet(ctx context.Context, previews []sheet.SheetPreview) (sheet.SheetLocation, error) {
	var b strings.Builder
	for _, p := range previews {
		fmt.Fprintf(&b, "Sheet %q:\n", p.Name)
		for i, row := range p.Rows {
			fmt.Fprintf(&b, "  row %d: %s\n", i, strings.Join(row, " | "))
		}
	}
	user := fmt.Sprintf(`Which workbook sheet holds the user rows, and where do headers and data start?
%s
Answer as JSON: {"sheet_name": "...", "header_row": <0-based int>, "data_start_row": <0-based int>, "confidence": "high"|"medium"|"low", "reasoning": "..."}`, b.String())

	var res sheetResult
	if err := a.ask(ctx, "sheet_detection", user, &res); err != nil {
		return sheet.SheetLocation{}, err
	}
	if res.SheetName == "" || res.HeaderRow == nil || res.DataStartRow == nil {
		return sheet.SheetLocation{}, a.reject("sheet_detection", "missing sheet_name/header_row/data_start_row")
	}
	switch res.Confidence {
	case "high", "medium", "low":
	default:
		return sheet.SheetLocation{}, a.reject("sheet_detection", "confidence outside high|medium|low")
	}
	return sheet.SheetLocation{
		SheetName:    res.SheetName,
		HeaderRow:    *res.HeaderRow,
		DataStartRow: *res.DataStartRow,
		Confidence:   res.Confidence,
	}, nil
}

// ErrorSummary is the condensed validation-failure report for a marker.
type ErrorSummary struct {
	Summary      string   `json:"summary"`
	BulletPoints []string `json:"bullet_points"`
}

// SummarizeErrors condenses a validation error histogram for humans.
func (a *Adapter) SummarizeErrors(ctx context.Context, histogram map[string]int, samples []string) (ErrorSummary, error) {
	var b strings.Builder
	for msg, n := range histogram {
		fmt.Fprintf(&b, "- %s: %d rows\n", msg, n)
	}
	user := fmt.Sprintf(`Summarize these spreadsheet validation failures for the ticket reporter.
Histogram:
%s
Sample rows:
%s
Answer as JSON: {"summary": "...", "bullet_points": ["...", ...]}`, b.String(), strings.Join(samples, "\n"))

	var res ErrorSummary
	if err := a.ask(ctx, "error_summary", user, &res); err != nil {
		return ErrorSummary{}, err
	}
	if res.Summary == "" {
		return ErrorSummary{}, a.reject("error_summary", "missing summary")
	}
	return res, nil
}

// ask runs one completion and decodes the strict JSON answer into out.
func (a *Adapter) ask(ctx context.Context, task, user string, out any) error {
	raw, err := a.client.Complete(ctx, systemPrompt, user)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(task, "error").Inc()
		return fmt.Errorf("ai %s: %w", task, err)
	}

	body, err := extractJSON(raw)
	if err != nil {
		return a.reject(task, err.Error())
	}
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return a.reject(task, err.Error())
	}

	metrics.LLMRequests.WithLabelValues(task, "ok").Inc()
	logx.Debug("ai task completed", zap.String("task", task), zap.String("model", a.client.ModelName()))
	return nil
}

func (a *Adapter) reject(task, detail string) error {
	metrics.LLMRequests.WithLabelValues(task, "rejected").Inc()
	return fmt.Errorf("ai %s: response does not match contract: %s", task, detail)
}

// extractJSON pulls the outermost JSON object out of a response, tolerating
// models that wrap the object in prose or code fences.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return raw[start : end+1], nil
}

func jsonList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
