package mqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionSweeper periodically deletes processed messages older than the
// configured retention window, mirroring the teacher's cleanup.Service
// lifecycle (Start/Stop, idempotent) but driven by a cron spec instead of
// a plain ticker, per the corpus's robfig/cron usage.
type RetentionSweeper struct {
	queue     *Service
	retention time.Duration
	cronSpec  string

	cron *cron.Cron
}

// NewRetentionSweeper builds a sweeper that runs on cronSpec (standard
// five-field cron syntax) and deletes processed messages older than
// retention.
func NewRetentionSweeper(queue *Service, cronSpec string, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{queue: queue, retention: retention, cronSpec: cronSpec}
}

// Start schedules the sweep and begins running it in the background.
// Idempotent: calling Start twice without an intervening Stop is a no-op.
func (r *RetentionSweeper) Start(ctx context.Context) error {
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(r.cronSpec, func() {
		r.runOnce(ctx)
	})
	if err != nil {
		return err
	}
	r.cron = c
	c.Start()
	slog.Info("message retention sweeper started", "cron", r.cronSpec, "retention", r.retention)
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (r *RetentionSweeper) Stop() {
	if r.cron == nil {
		return
	}
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.cron = nil
}

func (r *RetentionSweeper) runOnce(ctx context.Context) {
	n, err := r.queue.Sweep(ctx, r.retention)
	if err != nil {
		slog.Error("message retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("swept processed messages", "count", n)
	}
}
