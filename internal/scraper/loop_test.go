package scraper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polywatch/marketd/internal/metrics"
)

type fakeRunner struct {
	cycles   atomic.Int32
	newCount int
	err      error
	onCycle  func()
}

func (f *fakeRunner) RunCycle(_ context.Context) (int, error) {
	f.cycles.Add(1)
	if f.onCycle != nil {
		f.onCycle()
	}
	return f.newCount, f.err
}

func TestLoopRunsCyclesUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{newCount: 2}
	runner.onCycle = func() {
		if runner.cycles.Load() >= 3 {
			cancel()
		}
	}
	stats := metrics.NewCollector()
	loop := NewLoop(LoopConfig{Interval: time.Millisecond}, runner, stats, zap.NewNop())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	require.GreaterOrEqual(t, runner.cycles.Load(), int32(3))
	snap := stats.Snapshot()
	require.GreaterOrEqual(t, snap.SuccessfulCycles, uint64(3))
	require.Zero(t, snap.FailedCycles)
	require.NotNil(t, snap.LastCycleTime)
}

func TestLoopRecordsFailedCycles(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{err: errors.New("upstream down")}
	runner.onCycle = func() {
		if runner.cycles.Load() >= 2 {
			cancel()
		}
	}
	stats := metrics.NewCollector()
	loop := NewLoop(LoopConfig{Interval: time.Millisecond}, runner, stats, zap.NewNop())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	snap := stats.Snapshot()
	require.GreaterOrEqual(t, snap.FailedCycles, uint64(2))
	require.Zero(t, snap.SuccessfulCycles)
}

func TestLoopStopsBeforeFirstTickWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	loop := NewLoop(LoopConfig{Interval: time.Hour}, runner, metrics.NewCollector(), zap.NewNop())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not observe canceled context")
	}
	require.Zero(t, runner.cycles.Load())
}

func TestLoopCanceledCycleNotCountedAsFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{err: context.Canceled}
	runner.onCycle = func() { cancel() }
	stats := metrics.NewCollector()
	loop := NewLoop(LoopConfig{Interval: time.Millisecond}, runner, stats, zap.NewNop())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	snap := stats.Snapshot()
	require.Zero(t, snap.FailedCycles)
}
