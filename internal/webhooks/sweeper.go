package webhooks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PendingProcessor is satisfied by *Engine.
type PendingProcessor interface {
	ProcessPendingDeliveries(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically hands due pending deliveries back to the engine. It is
// what re-drives retries whose in-process timers died with an earlier process.
type Sweeper struct {
	Proc     PendingProcessor
	Interval time.Duration
	Batch    int
	Timeout  time.Duration
	Log      *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewSweeper(p PendingProcessor, interval time.Duration, batch int, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		Proc:     p,
		Interval: interval,
		Batch:    batch,
		Timeout:  2 * time.Minute,
		Log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		// first pass right away picks up whatever a previous process left behind
		s.processOnce()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.processOnce()
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Sweeper) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	n, err := s.Proc.ProcessPendingDeliveries(ctx, s.Batch)
	if err != nil {
		s.Log.Error("pending sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.Log.Debug("pending sweep", zap.Int("attempted", n))
	}
}
