// Copyright 2024-2026 Aiku AI

package gateway

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Stopper cancels a scheduled call. Stop is safe to call more than once.
type Stopper interface {
	Stop()
}

// Scheduler runs delayed and periodic calls.
type Scheduler interface {
	// AfterFunc calls f once after d.
	AfterFunc(d time.Duration, f func()) Stopper
	// Every calls f every d until stopped. The first call happens after d.
	Every(d time.Duration, f func()) Stopper
}

// RealScheduler is the Scheduler backed by a clockwork clock. A nil Clock
// means the wall clock; tests pass a clockwork.FakeClock.
type RealScheduler struct {
	Clock clockwork.Clock
}

func (s RealScheduler) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}
	return s.Clock
}

func (s RealScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return timerStopper{s.clock().AfterFunc(d, f)}
}

func (s RealScheduler) Every(d time.Duration, f func()) Stopper {
	t := &ticker{
		ticker: s.clock().NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(f)
	return t
}

type timerStopper struct {
	t clockwork.Timer
}

func (s timerStopper) Stop() {
	s.t.Stop()
}

type ticker struct {
	ticker   clockwork.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func (t *ticker) run(f func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.Chan():
			// A tick may race with Stop.
			select {
			case <-t.done:
				return
			default:
			}
			f()
		}
	}
}

func (t *ticker) Stop() {
	t.stopOnce.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
