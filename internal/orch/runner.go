package orch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"importbot/pkg/logx"
	"importbot/pkg/metrics"
	"importbot/pkg/vault"
)

// RunSummary aggregates one pass over the candidate set.
type RunSummary struct {
	Processed int
	ByStatus  map[Status]int
}

// Preloader is the optional bulk credential warm-up surface.
type Preloader interface {
	PreloadAll(ctx context.Context, tenants []string) error
}

// Run executes one pass: search for candidate tickets and process each in
// turn. Context cancellation stops cleanly between tickets; a non-nil error
// means the run was halted (config or vault outage class).
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	log := logx.With(zap.String("run_id", uuid.NewString()))

	keys, err := o.trk.Search(ctx, o.cfg.JQL)
	if err != nil {
		return nil, err
	}
	log.Info("pass started", zap.Int("candidates", len(keys)))

	if o.cfg.Vault.PreloadAll {
		if err := o.preloadCredentials(ctx, keys); err != nil {
			return nil, err
		}
	}

	return o.processKeys(ctx, log, keys)
}

// RunSingle processes exactly one ticket, bypassing the search query.
func (o *Orchestrator) RunSingle(ctx context.Context, key string) (*RunSummary, error) {
	log := logx.With(zap.String("run_id", uuid.NewString()))
	return o.processKeys(ctx, log, []string{key})
}

func (o *Orchestrator) processKeys(ctx context.Context, log *zap.Logger, keys []string) (*RunSummary, error) {
	sum := &RunSummary{ByStatus: make(map[Status]int)}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled", zap.Int("processed", sum.Processed))
			return sum, nil
		}

		start := time.Now()
		res, err := o.Process(ctx, key)
		if err != nil {
			return sum, err
		}
		metrics.TicketSeconds.Observe(time.Since(start).Seconds())
		metrics.TicketsProcessed.WithLabelValues(string(res.Status)).Inc()

		sum.Processed++
		sum.ByStatus[res.Status]++
		log.Info("ticket processed",
			zap.String("ticket_key", key),
			zap.String("status", string(res.Status)),
			zap.String("next_state", res.NextState),
			zap.String("reason", res.Reason))
	}

	log.Info("pass finished",
		zap.Int("processed", sum.Processed),
		zap.Any("by_status", sum.ByStatus))
	return sum, nil
}

// Watch runs passes at the configured poll interval until the context is
// cancelled. Per-pass errors halt watching; tickets never block each other.
func (o *Orchestrator) Watch(ctx context.Context) error {
	interval := o.cfg.PollInterval()
	logx.Info("watch mode", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Run(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			logx.Info("watch stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// preloadCredentials resolves the tenant of every candidate ticket and bulk
// fetches their vault entries before processing begins. Tickets whose tenant
// cannot be resolved are left to the per-ticket path.
func (o *Orchestrator) preloadCredentials(ctx context.Context, keys []string) error {
	pre, ok := o.creds.(Preloader)
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var tenants []string
	for _, key := range keys {
		t, err := o.trk.GetTicket(ctx, key)
		if err != nil {
			continue
		}
		if id, found := o.resolver.Resolve(t.Summary, t.Description); found && !seen[id] {
			seen[id] = true
			tenants = append(tenants, id)
		}
	}

	logx.Info("preloading credentials", zap.Int("tenants", len(tenants)))
	if err := pre.PreloadAll(ctx, tenants); err != nil {
		return err
	}
	return nil
}

var _ Preloader = (*vault.Store)(nil)
