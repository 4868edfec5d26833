// Package orch is the ticket state machine: it advances each ticket by at
// most one observable step per pass, using the ticket's comments and status
// as the only persisted state.
package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"importbot/pkg/ai"
	"importbot/pkg/approval"
	"importbot/pkg/backend"
	"importbot/pkg/config"
	"importbot/pkg/dataset"
	"importbot/pkg/logx"
	"importbot/pkg/sheet"
	"importbot/pkg/tenant"
	"importbot/pkg/tracker"
	"importbot/pkg/vault"
)

// Status is the per-ticket outcome of one pass.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is the processing outcome for one ticket.
type Result struct {
	TicketKey     string
	Status        Status
	Reason        string
	CreatedUsers  []string
	ExistingUsers []string
	CreatedTeams  []string
	Failures      []backend.Failure
	NextState     string
}

// CredentialStore is the vault surface the orchestrator needs.
type CredentialStore interface {
	Get(ctx context.Context, tenant string) (string, error)
	LookupKey(tenant string) string
}

// Policy decides whether a dataset requires human approval before creation.
// The default requires approval for any dataset with at least one valid row.
type Policy func(rep *dataset.Report) bool

// DefaultPolicy requires approval for any non-empty valid dataset.
func DefaultPolicy(rep *dataset.Report) bool {
	return rep.Valid >= 1
}

// Orchestrator composes the components into the per-ticket state machine.
type Orchestrator struct {
	cfg      *config.Config
	trk      tracker.API
	adapter  *ai.Adapter
	resolver *tenant.Resolver
	creds    CredentialStore
	backends backend.Factory
	parser   *sheet.Parser
	policy   Policy
	now      func() time.Time
}

// New wires an orchestrator. policy may be nil (DefaultPolicy applies).
func New(cfg *config.Config, trk tracker.API, adapter *ai.Adapter,
	creds CredentialStore, backends backend.Factory, policy Policy) *Orchestrator {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Orchestrator{
		cfg:      cfg,
		trk:      trk,
		adapter:  adapter,
		resolver: tenant.NewResolver(cfg.ServiceDomain()),
		creds:    creds,
		backends: backends,
		parser:   sheet.NewParser(cfg.AttachmentMaxBytes, adapter),
		policy:   policy,
		now:      time.Now,
	}
}

// Process advances one ticket by at most one observable step. A non-nil
// error is fatal to the whole run (config/vault-unavailable class); every
// ticket-scoped failure is folded into the Result instead.
func (o *Orchestrator) Process(ctx context.Context, key string) (*Result, error) {
	log := logx.ForTicket(key)

	t, err := o.trk.GetTicket(ctx, key)
	if err != nil {
		return o.trackerFailure(log, key, "fetch ticket", err), nil
	}

	switch t.Status {
	case tracker.StatusOpen:
		return o.processOpen(ctx, log, t)
	case tracker.StatusReview:
		return o.processReview(ctx, log, t)
	case tracker.StatusInfoRequired:
		log.Debug("human action pending, skipping")
		return &Result{TicketKey: key, Status: StatusSkipped, Reason: "awaiting reporter", NextState: t.Status}, nil
	default:
		log.Debug("terminal status, skipping", zap.String("status", t.Status))
		return &Result{TicketKey: key, Status: StatusSkipped, Reason: "terminal status", NextState: t.Status}, nil
	}
}

// processOpen handles the Open state: intent, tenant, credentials, dataset,
// then either an approval request or direct creation.
func (o *Orchestrator) processOpen(ctx context.Context, log *zap.Logger, t *tracker.Ticket) (*Result, error) {
	isUpload, err := o.adapter.ClassifyIntent(ctx, t.Summary, t.Description)
	if err != nil {
		// Intent is the one step with no deterministic fallback: skip the
		// ticket for this pass without touching it.
		log.Warn("intent classification failed, skipping this pass", zap.Error(err))
		return &Result{TicketKey: t.Key, Status: StatusSkipped, Reason: "intent classification failed", NextState: t.Status}, nil
	}
	if !isUpload {
		log.Info("not a user-upload request")
		return &Result{TicketKey: t.Key, Status: StatusSkipped, Reason: "not a user-upload request", NextState: t.Status}, nil
	}

	tenantID, ok := o.resolver.Resolve(t.Summary, t.Description)
	if !ok {
		log.Info("no tenant identifier in ticket text")
		return o.requestInfo(ctx, log, t, "missing tenant", missingTenantComment())
	}
	log = log.With(zap.String("tenant", tenantID))

	if _, err := o.creds.Get(ctx, tenantID); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			log.Info("no vault entry for tenant")
			return o.requestInfo(ctx, log, t, "credentials not found",
				credentialSetupComment(tenantID, o.creds.LookupKey(tenantID)))
		}
		return nil, err // vault-unavailable is fatal to the run
	}

	ds, err := o.buildDataset(ctx, log, t)
	if err != nil {
		return o.trackerFailure(log, t.Key, "download attachments", err), nil
	}
	if ds.failureComment != "" {
		return o.requestInfo(ctx, log, t, ds.failureReason, ds.failureComment)
	}

	if o.policy(ds.report) {
		if err := o.postMarker(ctx, log, t, tenantID, ds); err != nil {
			return o.trackerFailure(log, t.Key, "post approval request", err), nil
		}
		if err := o.transition(ctx, log, t, tracker.StatusReview); err != nil {
			return o.trackerFailure(log, t.Key, "transition to review", err), nil
		}
		return &Result{TicketKey: t.Key, Status: StatusPending, Reason: "approval requested",
			NextState: tracker.StatusReview}, nil
	}

	if ds.report.Valid == 0 {
		log.Info("no valid rows", zap.Int("invalid", ds.report.Invalid))
		return o.requestInfo(ctx, log, t, "no valid rows",
			validationFailureComment(o.summarizeErrors(ctx, ds.report)))
	}
	return o.createUsers(ctx, log, t, tenantID, ds.report)
}

// processReview handles the Review state: compute the approval verdict and
// act on it.
func (o *Orchestrator) processReview(ctx context.Context, log *zap.Logger, t *tracker.Ticket) (*Result, error) {
	tenantID, ok := o.resolver.Resolve(t.Summary, t.Description)
	if !ok {
		return o.requestInfo(ctx, log, t, "missing tenant", missingTenantComment())
	}
	log = log.With(zap.String("tenant", tenantID))

	ds, err := o.buildDataset(ctx, log, t)
	if err != nil {
		return o.trackerFailure(log, t.Key, "download attachments", err), nil
	}
	if ds.failureComment != "" {
		return o.requestInfo(ctx, log, t, ds.failureReason, ds.failureComment)
	}

	verdict, ev := approval.Evaluate(t.Comments, ds.fingerprints)
	log.Info("approval verdict", zap.String("verdict", string(verdict)))

	switch verdict {
	case approval.VerdictPending:
		return &Result{TicketKey: t.Key, Status: StatusPending, Reason: "awaiting approval",
			NextState: t.Status}, nil

	case approval.VerdictNoRequest, approval.VerdictInvalidated:
		// Regenerate the proposal with fresh fingerprints; stay in Review.
		if verdict == approval.VerdictInvalidated {
			log.Warn("attachments changed after approval, republishing marker")
		}
		if err := o.postMarker(ctx, log, t, tenantID, ds); err != nil {
			return o.trackerFailure(log, t.Key, "republish approval request", err), nil
		}
		return &Result{TicketKey: t.Key, Status: StatusPending, Reason: string(verdict),
			NextState: t.Status}, nil

	case approval.VerdictApproved:
		log.Info("approved",
			zap.String("approved_by", ev.Approval.Author.DisplayName),
			zap.String("comment_id", ev.Approval.ID))
		return o.createUsers(ctx, log, t, tenantID, ds.report)

	default:
		return nil, fmt.Errorf("unreachable verdict %q", verdict)
	}
}

// createUsers re-acquires credentials and runs the backend creation order.
func (o *Orchestrator) createUsers(ctx context.Context, log *zap.Logger, t *tracker.Ticket,
	tenantID string, rep *dataset.Report) (*Result, error) {

	password, err := o.creds.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return o.requestInfo(ctx, log, t, "credentials not found",
				credentialSetupComment(tenantID, o.creds.LookupKey(tenantID)))
		}
		return nil, err
	}

	client, err := o.backends.ForTenant(ctx, tenantID, o.cfg.ServiceAccountEmail(tenantID), password)
	if err != nil {
		log.Error("backend login failed", zap.Error(err))
		return &Result{TicketKey: t.Key, Status: StatusFailed, Reason: err.Error(), NextState: t.Status}, nil
	}

	importer := backend.NewImporter(client, o.cfg.Team.DefaultEscalationMinutes, log)
	imp, err := importer.Import(ctx, rep)
	if err != nil {
		log.Error("backend import failed", zap.Error(err))
		return &Result{TicketKey: t.Key, Status: StatusFailed, Reason: err.Error(), NextState: t.Status}, nil
	}

	res := &Result{
		TicketKey:     t.Key,
		CreatedUsers:  imp.CreatedUsers,
		ExistingUsers: imp.ExistingUsers,
		CreatedTeams:  imp.CreatedTeams,
		Failures:      imp.Failures,
	}

	if len(imp.Failures) == 0 {
		if err := o.comment(ctx, log, t, completionComment(imp)); err != nil {
			return o.trackerFailure(log, t.Key, "post completion comment", err), nil
		}
		if err := o.transition(ctx, log, t, tracker.StatusDone); err != nil {
			return o.trackerFailure(log, t.Key, "transition to done", err), nil
		}
		res.Status = StatusSuccess
		res.NextState = tracker.StatusDone
		return res, nil
	}

	if err := o.comment(ctx, log, t, failureComment(imp)); err != nil {
		return o.trackerFailure(log, t.Key, "post failure comment", err), nil
	}
	if err := o.transition(ctx, log, t, tracker.StatusInfoRequired); err != nil {
		return o.trackerFailure(log, t.Key, "transition to info required", err), nil
	}
	res.Status = StatusPartial
	res.NextState = tracker.StatusInfoRequired
	return res, nil
}

// requestInfo posts a templated comment and hands the ticket to its
// reporter.
func (o *Orchestrator) requestInfo(ctx context.Context, log *zap.Logger, t *tracker.Ticket,
	reason, body string) (*Result, error) {

	if err := o.comment(ctx, log, t, body); err != nil {
		return o.trackerFailure(log, t.Key, "post comment", err), nil
	}
	if err := o.transition(ctx, log, t, tracker.StatusInfoRequired); err != nil {
		return o.trackerFailure(log, t.Key, "transition to info required", err), nil
	}
	return &Result{TicketKey: t.Key, Status: StatusPending, Reason: reason,
		NextState: tracker.StatusInfoRequired}, nil
}

func (o *Orchestrator) comment(ctx context.Context, log *zap.Logger, t *tracker.Ticket, body string) error {
	log.Debug("posting comment", zap.Int("bytes", len(body)))
	return o.trk.AddComment(ctx, t.Key, body)
}

func (o *Orchestrator) transition(ctx context.Context, _ *zap.Logger, t *tracker.Ticket, status string) error {
	if t.Status == status {
		return nil
	}
	return o.trk.TransitionTo(ctx, t.Key, status)
}

// trackerFailure folds a tracker error into the pass result. Transient
// errors are retried on the next pass; permanent ones are only logged.
func (o *Orchestrator) trackerFailure(log *zap.Logger, key, op string, err error) *Result {
	var terr *tracker.Error
	if errors.As(err, &terr) && !terr.Transient {
		log.Error("permanent tracker error, skipping ticket", zap.String("op", op), zap.Error(err))
		return &Result{TicketKey: key, Status: StatusSkipped, Reason: err.Error()}
	}
	log.Error("tracker error, will retry next pass", zap.String("op", op), zap.Error(err))
	return &Result{TicketKey: key, Status: StatusFailed, Reason: err.Error()}
}
