// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRealSchedulerAfterFunc(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	sched := RealScheduler{Clock: clock}
	var calls atomic.Int32

	sched.AfterFunc(time.Minute, func() { calls.Add(1) })
	clock.Advance(time.Minute - time.Second)
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls before the delay: got %d, want 0", got)
	}
	clock.Advance(time.Second)
	waitFor(t, "delayed call", func() bool { return calls.Load() == 1 })

	stopped := sched.AfterFunc(time.Minute, func() { calls.Add(1) })
	stopped.Stop()
	stopped.Stop()
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls: got %d, want 1", got)
	}
}

func TestRealSchedulerEvery(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	ticker := RealScheduler{Clock: clock}.Every(time.Minute, func() { calls.Add(1) })

	for i := int32(1); i <= 3; i++ {
		clock.Advance(time.Minute)
		waitFor(t, "periodic call", func() bool { return calls.Load() == i })
	}

	ticker.Stop()
	ticker.Stop()
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Errorf("calls after stop: got %d, want 3", got)
	}
}

func TestRealSchedulerStopFromCallback(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	var ticker Stopper
	started := make(chan struct{})
	ticker = RealScheduler{Clock: clock}.Every(time.Minute, func() {
		<-started
		calls.Add(1)
		ticker.Stop()
	})
	close(started)

	clock.Advance(time.Minute)
	waitFor(t, "first call", func() bool { return calls.Load() == 1 })
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls: got %d, want 1", got)
	}
}

func TestRealSchedulerRegistersWithClock(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	sched := RealScheduler{Clock: clock}
	sched.AfterFunc(time.Second, func() {})
	sched.Every(time.Second, func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Errorf("expected a timer and a ticker on the clock: %v", err)
	}
}

func TestRealSchedulerWallClock(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	RealScheduler{}.AfterFunc(time.Millisecond, func() { calls.Add(1) })
	waitFor(t, "delayed call on the wall clock", func() bool { return calls.Load() == 1 })
}
