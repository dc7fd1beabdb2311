package ping

import (
	"context"
	"sync"
	"time"
)

// Func is one keepalive round. ctx is cancelled when the scheduler is
// stopped or re-armed.
type Func func(ctx context.Context)

// Scheduler fires a keepalive at a fixed interval. At most one timer is
// armed at a time; Arm and Stop both wait for the previous goroutine to exit
// so a superseded timer never fires.
type Scheduler struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Arm stops any running timer and starts a new one that calls fn every
// interval. The first call happens after one interval.
func (s *Scheduler) Arm(interval time.Duration, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}()
}

// Stop cancels the timer and waits for an in-flight round to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Armed reports whether a timer is running.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}
