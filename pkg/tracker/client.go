package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"importbot/pkg/logx"
	"importbot/pkg/metrics"
)

const (
	connectTimeout = 30 * time.Second
	readTimeout    = 120 * time.Second

	// jiraTimeFormat is the created-timestamp format in REST v3 responses.
	jiraTimeFormat = "2006-01-02T15:04:05.000-0700"

	// downloadCap bounds attachment reads regardless of the declared size.
	downloadCap = 64 << 20
)

// Client talks to a JIRA Cloud-style REST v3 API.
type Client struct {
	baseURL string
	email   string
	token   string
	http    *http.Client
}

// NewClient creates a tracker client for the given site domain
// (e.g. "example.atlassian.net").
func NewClient(domain, email, token string) *Client {
	return &Client{
		baseURL: "https://" + domain,
		email:   email,
		token:   token,
		http: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// Search runs a JQL query and returns matching ticket keys in query order.
func (c *Client) Search(ctx context.Context, jql string) ([]string, error) {
	req := map[string]any{
		"jql":        jql,
		"fields":     []string{"key"},
		"maxResults": 100,
	}
	var resp struct {
		Issues []struct {
			Key string `json:"key"`
		} `json:"issues"`
	}
	if err := c.do(ctx, "search", http.MethodPost, "/rest/api/3/search", req, &resp); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resp.Issues))
	for _, is := range resp.Issues {
		keys = append(keys, is.Key)
	}
	return keys, nil
}

// GetTicket fetches one issue with the fields the state machine needs.
// Comments and attachments come back sorted per the ordering guarantees.
func (c *Client) GetTicket(ctx context.Context, key string) (*Ticket, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s?fields=summary,description,status,attachment,comment",
		url.PathEscape(key))

	var resp struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string          `json:"summary"`
			Description json.RawMessage `json:"description"`
			Status      struct {
				Name string `json:"name"`
			} `json:"status"`
			Attachment []struct {
				ID       string `json:"id"`
				Filename string `json:"filename"`
				MimeType string `json:"mimeType"`
				Size     int64  `json:"size"`
				Content  string `json:"content"`
			} `json:"attachment"`
			Comment struct {
				Comments []struct {
					ID     string `json:"id"`
					Author struct {
						AccountID   string `json:"accountId"`
						DisplayName string `json:"displayName"`
					} `json:"author"`
					Created string          `json:"created"`
					Body    json.RawMessage `json:"body"`
				} `json:"comments"`
			} `json:"comment"`
		} `json:"fields"`
	}
	if err := c.do(ctx, "get_issue", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	t := &Ticket{
		Key:         resp.Key,
		Summary:     resp.Fields.Summary,
		Description: ExtractText(resp.Fields.Description),
		Status:      resp.Fields.Status.Name,
	}
	for _, a := range resp.Fields.Attachment {
		t.Attachments = append(t.Attachments, Attachment{
			ID:         a.ID,
			Filename:   a.Filename,
			MimeType:   a.MimeType,
			Size:       a.Size,
			ContentURL: a.Content,
		})
	}
	for _, cm := range resp.Fields.Comment.Comments {
		created, err := time.Parse(jiraTimeFormat, cm.Created)
		if err != nil {
			return nil, &Error{Op: "get_issue", Err: fmt.Errorf("parse comment %s created %q: %w", cm.ID, cm.Created, err)}
		}
		t.Comments = append(t.Comments, Comment{
			ID:      cm.ID,
			Author:  Author{AccountID: cm.Author.AccountID, DisplayName: cm.Author.DisplayName},
			Created: created,
			Body:    ExtractText(cm.Body),
		})
	}
	SortComments(t.Comments)
	SortAttachments(t.Attachments)
	return t, nil
}

// DownloadAttachment fetches attachment content bytes.
func (c *Client) DownloadAttachment(ctx context.Context, att Attachment) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.ContentURL, nil)
	if err != nil {
		return nil, &Error{Op: "download", Err: err}
	}
	req.SetBasicAuth(c.email, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TrackerRequests.WithLabelValues("download", "error").Inc()
		return nil, &Error{Op: "download", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.TrackerRequests.WithLabelValues("download", "error").Inc()
		return nil, httpError("download", resp.StatusCode, nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, downloadCap))
	if err != nil {
		metrics.TrackerRequests.WithLabelValues("download", "error").Inc()
		return nil, &Error{Op: "download", Transient: true, Err: err}
	}
	metrics.TrackerRequests.WithLabelValues("download", "ok").Inc()
	return data, nil
}

// AddComment posts a plain-text comment, wrapped into an ADF document.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment", url.PathEscape(key))
	req := map[string]any{"body": adfDocument(body)}
	return c.do(ctx, "add_comment", http.MethodPost, path, req, nil)
}

// AttachFile uploads a file to the issue via multipart form.
func (c *Client) AttachFile(ctx context.Context, key, filename string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return &Error{Op: "attach", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return &Error{Op: "attach", Err: err}
	}
	if err := w.Close(); err != nil {
		return &Error{Op: "attach", Err: err}
	}

	u := fmt.Sprintf("%s/rest/api/3/issue/%s/attachments", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return &Error{Op: "attach", Err: err}
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TrackerRequests.WithLabelValues("attach", "error").Inc()
		return &Error{Op: "attach", Transient: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		metrics.TrackerRequests.WithLabelValues("attach", "error").Inc()
		return httpError("attach", resp.StatusCode, readErrorBody(resp.Body))
	}
	metrics.TrackerRequests.WithLabelValues("attach", "ok").Inc()
	return nil
}

// TransitionTo moves the issue to the named status by matching available
// transitions case-insensitively on their target status.
func (c *Client) TransitionTo(ctx context.Context, key, status string) error {
	path := fmt.Sprintf("/rest/api/3/issue/%s/transitions", url.PathEscape(key))

	var resp struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if err := c.do(ctx, "list_transitions", http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	var id string
	for _, tr := range resp.Transitions {
		if strings.EqualFold(tr.To.Name, status) {
			id = tr.ID
			break
		}
	}
	if id == "" {
		return &Error{Op: "transition", Err: fmt.Errorf("no transition to status %q on %s", status, key)}
	}

	req := map[string]any{"transition": map[string]any{"id": id}}
	if err := c.do(ctx, "transition", http.MethodPost, path, req, nil); err != nil {
		return err
	}
	logx.ForTicket(key).Info("ticket transitioned", zap.String("to", status))
	return nil
}

// do runs one JSON request/response cycle against the REST API.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.TrackerRequests.WithLabelValues(op, "error").Inc()
		return &Error{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.TrackerRequests.WithLabelValues(op, "error").Inc()
		return httpError(op, resp.StatusCode, readErrorBody(resp.Body))
	}

	metrics.TrackerRequests.WithLabelValues(op, "ok").Inc()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Transient: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// httpError classifies an HTTP status: 5xx and 429 are transient, other 4xx
// permanent.
func httpError(op string, status int, body error) *Error {
	transient := status >= 500 || status == http.StatusTooManyRequests
	err := body
	if err == nil {
		err = fmt.Errorf("unexpected status")
	}
	return &Error{Op: op, Status: status, Transient: transient, Err: err}
}

func readErrorBody(r io.Reader) error {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Errorf("unexpected status")
	}
	return fmt.Errorf("%s", msg)
}
