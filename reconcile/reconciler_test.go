package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/payments"
)

type fakeConfirmer struct {
	calls   atomic.Int32
	limit   atomic.Int32
	summary payments.ReconcileSummary
	err     error
}

func (f *fakeConfirmer) ReconcilePending(_ context.Context, limit int) (*payments.ReconcileSummary, error) {
	f.calls.Add(1)
	f.limit.Store(int32(limit))
	if f.err != nil {
		return nil, f.err
	}
	s := f.summary
	return &s, nil
}

func TestRunOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &fakeConfirmer{summary: payments.ReconcileSummary{Checked: 3, Completed: 2, StillPending: 1}}
	r := New(f, "@every 1m", 25, logger.NewZapLoggerFrom(zap.New(core)))

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, int32(25), f.limit.Load())

	entries := logs.FilterMessage("payment reconciliation finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["checked"])
}

func TestRunOnce_Error(t *testing.T) {
	f := &fakeConfirmer{err: errors.New("database is locked")}
	r := New(f, "@every 1m", 10, nil)

	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStart_InvalidSchedule(t *testing.T) {
	r := New(&fakeConfirmer{}, "every now and then", 10, nil)
	assert.Error(t, r.Start())
}

func TestStart_RunsOnSchedule(t *testing.T) {
	f := &fakeConfirmer{}
	r := New(f, "@every 1s", 10, nil)
	require.NoError(t, r.Start())

	assert.Eventually(t, func() bool { return f.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
