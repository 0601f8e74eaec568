package webhooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingProcessor struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (p *countingProcessor) ProcessPendingDeliveries(ctx context.Context, limit int) (int, error) {
	p.calls.Add(1)
	p.limit.Store(int32(limit))
	return 1, p.err
}

func TestSweeperRunsImmediatelyAndOnTicks(t *testing.T) {
	p := &countingProcessor{}
	s := NewSweeper(p, 10*time.Millisecond, 25, nil)
	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if p.calls.Load() < 3 {
		t.Fatalf("sweeper ran %d times", p.calls.Load())
	}
	if p.limit.Load() != 25 {
		t.Fatalf("batch = %d", p.limit.Load())
	}
	after := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if p.calls.Load() != after {
		t.Fatal("sweeper kept running after Stop")
	}
}

func TestSweeperSurvivesErrors(t *testing.T) {
	p := &countingProcessor{err: errors.New("db down")}
	s := NewSweeper(p, 5*time.Millisecond, 10, nil)
	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if p.calls.Load() < 2 {
		t.Fatal("sweeper stopped after an error")
	}
}

func TestSweeperStopWithoutStart(t *testing.T) {
	s := NewSweeper(&countingProcessor{}, time.Second, 10, nil)
	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestSweeperDrivesEngine(t *testing.T) {
	h := newHarness(t, DefaultConfig(), 200)
	h.webhook("order.created")
	ids := h.trigger("order.created", map[string]any{"x": 1})
	h.sched.take()

	s := NewSweeper(h.engine, time.Hour, 10, nil)
	s.Start()
	s.Stop()
	if d := h.delivery(ids[0]); d.AttemptCount != 1 {
		t.Fatalf("initial sweep pass did not run the delivery: %+v", d)
	}
}
