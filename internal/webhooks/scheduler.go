package webhooks

import (
	"sync"
	"time"
)

// Scheduler runs fn once at or after at. Implementations are not durable: a
// process restart drops pending callbacks and the pending sweep recovers them.
type Scheduler interface {
	Schedule(at time.Time, fn func())
}

// TimerScheduler is an in-process Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	running sync.WaitGroup
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: map[*time.Timer]struct{}{}}
}

func (s *TimerScheduler) Schedule(at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	// the callback takes s.mu first, so t is assigned before it can run
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.running.Add(1)
		s.mu.Unlock()
		defer s.running.Done()
		fn()
	})
	s.timers[t] = struct{}{}
}

// Pending returns the number of callbacks not yet fired.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels pending callbacks, drops later Schedule calls and waits for
// callbacks already running to return.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
	s.mu.Unlock()
	s.running.Wait()
}
