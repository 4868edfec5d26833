package orch

import (
	"context"

	"go.uber.org/zap"

	"importbot/pkg/logx"
	"importbot/pkg/tracker"
)

// DryRunTracker wraps a tracker client, passing reads through and logging
// writes instead of performing them. Paired with the mock backend it makes a
// full pass side-effect free.
type DryRunTracker struct {
	tracker.API
}

// NewDryRunTracker wraps api.
func NewDryRunTracker(api tracker.API) *DryRunTracker {
	return &DryRunTracker{API: api}
}

func (d *DryRunTracker) AddComment(_ context.Context, key, body string) error {
	logx.Info("dry-run: would post comment",
		zap.String("ticket_key", key), zap.String("body", body))
	return nil
}

func (d *DryRunTracker) AttachFile(_ context.Context, key, filename string, data []byte) error {
	logx.Info("dry-run: would attach file",
		zap.String("ticket_key", key), zap.String("filename", filename), zap.Int("bytes", len(data)))
	return nil
}

func (d *DryRunTracker) TransitionTo(_ context.Context, key, status string) error {
	logx.Info("dry-run: would transition",
		zap.String("ticket_key", key), zap.String("to", status))
	return nil
}
