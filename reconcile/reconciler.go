// Package reconcile re-checks pending payments on a cron schedule.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/payments"
)

// PendingConfirmer confirms pending payments in bulk.
type PendingConfirmer interface {
	ReconcilePending(ctx context.Context, limit int) (*payments.ReconcileSummary, error)
}

// Reconciler runs one reconciliation pass per schedule tick. Ticks that fire
// while a pass is still running are skipped.
type Reconciler struct {
	cron      *cron.Cron
	confirmer PendingConfirmer
	logger    logger.Logger
	schedule  string
	batchSize int
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a reconciler. schedule uses the robfig/cron syntax, including
// descriptors such as "@every 1m".
func New(confirmer PendingConfirmer, schedule string, batchSize int, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NoopLogger{}
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cron:      c,
		confirmer: confirmer,
		logger:    log,
		schedule:  schedule,
		batchSize: batchSize,
		timeout:   5 * time.Minute,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the job and starts the scheduler.
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("scheduling reconciliation %q: %w", r.schedule, err)
	}
	r.logger.Info("scheduled payment reconciliation", map[string]any{
		"schedule":   r.schedule,
		"batch_size": r.batchSize,
	})
	r.cron.Start()
	return nil
}

// Stop cancels a running pass and waits for it to return or ctx to end.
func (r *Reconciler) Stop(ctx context.Context) {
	r.cancel()

	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("payment reconciliation failed", map[string]any{"error": err})
	}
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) (*payments.ReconcileSummary, error) {
	start := time.Now()
	summary, err := r.confirmer.ReconcilePending(ctx, r.batchSize)
	if err != nil {
		return summary, err
	}
	if summary.Checked > 0 {
		r.logger.Info("payment reconciliation finished", map[string]any{
			"checked":       summary.Checked,
			"completed":     summary.Completed,
			"failed":        summary.Failed,
			"still_pending": summary.StillPending,
			"errors":        summary.Errors,
			"duration":      time.Since(start).String(),
		})
	}
	return summary, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["error"] = err
	l.log.Error("cron: "+msg, fields)
}

func kvFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
