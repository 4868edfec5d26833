package orch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"importbot/pkg/ai"
	"importbot/pkg/approval"
	"importbot/pkg/backend"
	"importbot/pkg/config"
	"importbot/pkg/tracker"
	"importbot/pkg/vault"
)

const usersCSV = "Email,First Name,Last Name,Teams,Role\n" +
	"ada@example.com,Ada,Lovelace,Ops,Manager\n" +
	"grace@example.com,Grace,Hopper,Ops|Eng,Team Member\n"

var botAuthor = tracker.Author{AccountID: "bot-1", DisplayName: "importbot"}

// fakeTracker is an in-memory tracker.API recording every write.
type fakeTracker struct {
	tickets map[string]*tracker.Ticket
	files   map[string][]byte

	comments    []string
	attached    map[string][]byte
	transitions []string
	downloadErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tickets:  make(map[string]*tracker.Ticket),
		files:    make(map[string][]byte),
		attached: make(map[string][]byte),
	}
}

func (f *fakeTracker) addTicket(t *tracker.Ticket, attachments map[string][]byte) {
	for name, data := range attachments {
		t.Attachments = append(t.Attachments, tracker.Attachment{
			ID: name, Filename: name, Size: int64(len(data)), ContentURL: "fake://" + name,
		})
		f.files[name] = data
	}
	tracker.SortAttachments(t.Attachments)
	tracker.SortComments(t.Comments)
	f.tickets[t.Key] = t
}

func (f *fakeTracker) Search(_ context.Context, _ string) ([]string, error) {
	var keys []string
	for k := range f.tickets {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeTracker) GetTicket(_ context.Context, key string) (*tracker.Ticket, error) {
	t, ok := f.tickets[key]
	if !ok {
		return nil, &tracker.Error{Op: "get_issue", Status: 404, Err: fmt.Errorf("no such issue")}
	}
	return t, nil
}

func (f *fakeTracker) DownloadAttachment(_ context.Context, att tracker.Attachment) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.files[att.ID], nil
}

func (f *fakeTracker) AddComment(_ context.Context, _, body string) error {
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeTracker) AttachFile(_ context.Context, _, filename string, data []byte) error {
	f.attached[filename] = data
	return nil
}

func (f *fakeTracker) TransitionTo(_ context.Context, key, status string) error {
	f.transitions = append(f.transitions, status)
	f.tickets[key].Status = status
	return nil
}

type fakeCreds struct {
	pw  string
	err error
}

func (f *fakeCreds) Get(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.pw, nil
}

func (f *fakeCreds) LookupKey(tenant string) string {
	return "customersolutions+" + tenant + "@example.io"
}

type fakeFactory struct {
	client backend.Client
	err    error
}

func (f *fakeFactory) ForTenant(ctx context.Context, _, email, password string) (backend.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.client.Login(ctx, email, password); err != nil {
		return nil, err
	}
	return f.client, nil
}

func stubAI(extra map[string]string) *ai.Adapter {
	responses := map[string]string{
		"bulk user import":    `{"is_user_upload": true}`,
		"validation failures": `{"summary": "rows were skipped", "bullet_points": []}`,
	}
	for k, v := range extra {
		responses[k] = v
	}
	return ai.NewAdapter(&ai.StubClient{Responses: responses})
}

func testConfig() *config.Config {
	return &config.Config{
		Vault:              config.VaultConfig{EmailTemplate: "customersolutions+%s@example.io"},
		Team:               config.TeamConfig{DefaultEscalationMinutes: 180},
		AttachmentMaxBytes: 1 << 20,
		JQL:                config.DefaultJQL,
	}
}

type harness struct {
	trk   *fakeTracker
	orch  *Orchestrator
	mock  *backend.MockClient
	creds *fakeCreds
}

func newHarness(t *testing.T, aiExtra map[string]string) *harness {
	t.Helper()
	trk := newFakeTracker()
	mock := backend.NewMockClient()
	creds := &fakeCreds{pw: "s3cret"}
	o := New(testConfig(), trk, stubAI(aiExtra), creds, &fakeFactory{client: mock}, nil)
	o.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return &harness{trk: trk, orch: o, mock: mock, creds: creds}
}

func openTicket(key string) *tracker.Ticket {
	return &tracker.Ticket{
		Key:         key,
		Summary:     "User upload for acme",
		Status:      tracker.StatusOpen,
		Description: "Tenant: acme\nPlease create the attached users.",
	}
}

func TestOpenTicketGetsApprovalRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(openTicket("CS-1"), map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-1")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, tracker.StatusReview, res.NextState)
	assert.Equal(t, []string{tracker.StatusReview}, h.trk.transitions)

	require.Len(t, h.trk.comments, 1)
	marker, perr := approval.ParseMarker(h.trk.comments[0])
	require.NoError(t, perr)
	assert.Equal(t, "acme", marker.Tenant)
	assert.Equal(t, 2, marker.UserCount)
	assert.Equal(t, 2, marker.TeamCount)
	require.Len(t, marker.Attachments, 1)
	assert.Equal(t, approval.ComputeFingerprint("users.csv", []byte(usersCSV)), marker.Attachments[0])

	csv := h.trk.attached[approval.ApprovalCSVName]
	require.NotNil(t, csv, "the proposal CSV is attached for review")
	assert.Contains(t, string(csv), "grace@example.com")
}

func TestOpenTicketNotAnUpload(t *testing.T) {
	h := newHarness(t, map[string]string{"bulk user import": `{"is_user_upload": false}`})
	h.trk.addTicket(openTicket("CS-2"), map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-2")
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Empty(t, h.trk.comments, "non-upload tickets are left untouched")
	assert.Empty(t, h.trk.transitions)
}

func TestOpenTicketIntentFailureSkipsWithoutMutation(t *testing.T) {
	trk := newFakeTracker()
	trk.addTicket(openTicket("CS-3"), nil)
	adapter := ai.NewAdapter(&ai.StubClient{Err: fmt.Errorf("model outage")})
	o := New(testConfig(), trk, adapter, &fakeCreds{pw: "pw"}, &fakeFactory{client: backend.NewMockClient()}, nil)

	res, err := o.Process(context.Background(), "CS-3")
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, tracker.StatusOpen, res.NextState, "retried on the next pass")
	assert.Empty(t, trk.comments)
}

func TestOpenTicketMissingTenant(t *testing.T) {
	h := newHarness(t, nil)
	tk := openTicket("CS-4")
	tk.Summary = "User upload"
	tk.Description = "see attachment"
	h.trk.addTicket(tk, map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-4")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, tracker.StatusInfoRequired, res.NextState)
	require.Len(t, h.trk.comments, 1)
	assert.Contains(t, h.trk.comments[0], "could not determine which tenant")
}

func TestOpenTicketVaultEntryMissing(t *testing.T) {
	h := newHarness(t, nil)
	h.creds.err = vault.ErrNotFound
	h.trk.addTicket(openTicket("CS-5"), map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-5")
	require.NoError(t, err)

	assert.Equal(t, tracker.StatusInfoRequired, res.NextState)
	require.Len(t, h.trk.comments, 1)
	assert.Contains(t, h.trk.comments[0], "customersolutions+acme@example.io")
}

func TestOpenTicketVaultOutageIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.creds.err = fmt.Errorf("%w: daemon not running", vault.ErrUnavailable)
	h.trk.addTicket(openTicket("CS-6"), map[string][]byte{"users.csv": []byte(usersCSV)})

	_, err := h.orch.Process(context.Background(), "CS-6")
	require.ErrorIs(t, err, vault.ErrUnavailable)
	assert.Empty(t, h.trk.comments, "an outage must not be misreported as missing credentials")
}

func TestOpenTicketNoParseableAttachments(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(openTicket("CS-7"), map[string][]byte{"notes.txt": []byte("hello")})

	res, err := h.orch.Process(context.Background(), "CS-7")
	require.NoError(t, err)

	assert.Equal(t, tracker.StatusInfoRequired, res.NextState)
	assert.Contains(t, h.trk.comments[0], "no CSV or XLSX attachment")
}

func TestOpenTicketAllRowsInvalid(t *testing.T) {
	h := newHarness(t, nil)
	bad := "Email,First Name,Last Name,Teams,Role\n" +
		"not-an-email,Ada,Lovelace,Ops,Manager\n"
	h.trk.addTicket(openTicket("CS-8"), map[string][]byte{"users.csv": []byte(bad)})

	res, err := h.orch.Process(context.Background(), "CS-8")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, tracker.StatusInfoRequired, res.NextState)
	require.Len(t, h.trk.comments, 1)
	assert.Contains(t, h.trk.comments[0], "passed validation")
	assert.Empty(t, h.trk.attached, "nothing to approve")
}

func reviewTicket(h *harness, key string, replies ...tracker.Comment) *tracker.Ticket {
	fp := approval.ComputeFingerprint("users.csv", []byte(usersCSV))
	mctx := &approval.Context{
		TicketKey:   key,
		Tenant:      "acme",
		UserCount:   2,
		TeamCount:   2,
		Attachments: []approval.Fingerprint{fp},
		GeneratedAt: time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC),
	}
	tk := openTicket(key)
	tk.Status = tracker.StatusReview
	tk.Comments = append([]tracker.Comment{{
		ID:      "1",
		Author:  botAuthor,
		Created: time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC),
		Body:    mctx.Render(),
	}}, replies...)
	return tk
}

func reply(id int, body string) tracker.Comment {
	return tracker.Comment{
		ID:      fmt.Sprintf("%d", id),
		Author:  tracker.Author{AccountID: "human-1", DisplayName: "Sam"},
		Created: time.Date(2026, 8, 26, 11, 30, id, 0, time.UTC),
		Body:    body,
	}
}

func TestReviewPendingWithoutReply(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(reviewTicket(h, "CS-10"), map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-10")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	assert.Empty(t, h.trk.comments)
	assert.Empty(t, h.trk.transitions)
}

func TestReviewApprovedCreatesAndCloses(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(reviewTicket(h, "CS-11", reply(2, "Approved")),
		map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-11")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, tracker.StatusDone, res.NextState)
	assert.Equal(t, []string{"ada@example.com", "grace@example.com"}, res.CreatedUsers)
	assert.Equal(t, []string{"Ops", "Eng"}, res.CreatedTeams)

	users, _ := h.mock.ListUsers(context.Background())
	assert.Len(t, users, 2)
	require.Len(t, h.trk.comments, 1)
	assert.Contains(t, h.trk.comments[0], "Import complete")
}

func TestReviewApprovalInvalidatedByChangedAttachment(t *testing.T) {
	h := newHarness(t, nil)
	changed := strings.Replace(usersCSV, "Ada", "Eve", 1)
	h.trk.addTicket(reviewTicket(h, "CS-12", reply(2, "approved")),
		map[string][]byte{"users.csv": []byte(changed)})

	res, err := h.orch.Process(context.Background(), "CS-12")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	users, _ := h.mock.ListUsers(context.Background())
	assert.Empty(t, users, "nothing is created on a stale approval")

	// A fresh marker pinning the current bytes is posted; the ticket stays in
	// Review.
	require.Len(t, h.trk.comments, 1)
	marker, perr := approval.ParseMarker(h.trk.comments[0])
	require.NoError(t, perr)
	assert.Equal(t, approval.ComputeFingerprint("users.csv", []byte(changed)), marker.Attachments[0])
	assert.Empty(t, h.trk.transitions)
}

func TestReviewSelfApprovalDoesNotCount(t *testing.T) {
	h := newHarness(t, nil)
	self := tracker.Comment{
		ID: "2", Author: botAuthor,
		Created: time.Date(2026, 8, 26, 11, 30, 0, 0, time.UTC),
		Body:    "approved",
	}
	h.trk.addTicket(reviewTicket(h, "CS-13", self), map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-13")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	users, _ := h.mock.ListUsers(context.Background())
	assert.Empty(t, users)
}

func TestReviewPartialBackendFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.RejectEmails["grace@example.com"] = "duplicate mobile number"
	h.trk.addTicket(reviewTicket(h, "CS-14", reply(2, "approved")),
		map[string][]byte{"users.csv": []byte(usersCSV)})

	res, err := h.orch.Process(context.Background(), "CS-14")
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, tracker.StatusInfoRequired, res.NextState)
	assert.Equal(t, []string{"ada@example.com"}, res.CreatedUsers)
	require.Len(t, res.Failures, 1)

	require.Len(t, h.trk.comments, 1)
	assert.Contains(t, h.trk.comments[0], "finished with failures")
	assert.Contains(t, h.trk.comments[0], "grace@example.com")
}

func TestReviewRerunAfterPartialFailureIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.RejectEmails["grace@example.com"] = "duplicate mobile number"
	h.trk.addTicket(reviewTicket(h, "CS-15", reply(2, "approved")),
		map[string][]byte{"users.csv": []byte(usersCSV)})

	_, err := h.orch.Process(context.Background(), "CS-15")
	require.NoError(t, err)

	// Reporter fixed the backend side; ticket is moved back through the flow
	// and processed again with the same approval.
	delete(h.mock.RejectEmails, "grace@example.com")
	h.trk.tickets["CS-15"].Status = tracker.StatusReview

	res, err := h.orch.Process(context.Background(), "CS-15")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"grace@example.com"}, res.CreatedUsers, "only the missing user is created")
	assert.Equal(t, []string{"ada@example.com"}, res.ExistingUsers)
	users, _ := h.mock.ListUsers(context.Background())
	assert.Len(t, users, 2, "no duplicates on re-run")
}

func TestTransientTrackerErrorReportsFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(openTicket("CS-16"), map[string][]byte{"users.csv": []byte(usersCSV)})
	h.trk.downloadErr = &tracker.Error{Op: "download", Status: 503, Transient: true, Err: fmt.Errorf("bad gateway")}

	res, err := h.orch.Process(context.Background(), "CS-16")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status, "transient failures retry next pass")
	assert.Empty(t, h.trk.transitions)
}

func TestTerminalStatusIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	tk := openTicket("CS-17")
	tk.Status = tracker.StatusDone
	h.trk.addTicket(tk, nil)

	res, err := h.orch.Process(context.Background(), "CS-17")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
}

func TestRunProcessesEveryCandidate(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(openTicket("CS-20"), map[string][]byte{"users.csv": []byte(usersCSV)})
	tk := openTicket("CS-21")
	tk.Status = tracker.StatusDone
	h.trk.addTicket(tk, nil)

	sum, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.ByStatus[StatusPending])
	assert.Equal(t, 1, sum.ByStatus[StatusSkipped])
}

func TestRunStopsBetweenTicketsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.trk.addTicket(openTicket("CS-22"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.orch.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
}
