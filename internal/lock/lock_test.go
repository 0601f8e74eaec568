package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	unlock, ok, err := m.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.TryLock(ctx, "k", time.Minute); ok {
		t.Fatal("second holder acquired a held key")
	}
	if _, ok, _ := m.TryLock(ctx, "other", time.Minute); !ok {
		t.Fatal("independent key blocked")
	}
	unlock()
	unlock()
	if _, ok, _ := m.TryLock(ctx, "k", time.Minute); !ok {
		t.Fatal("key not released")
	}
}

func TestMemoryExpiryAndStaleUnlock(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1000, 0)
	m.clock = func() time.Time { return now }
	ctx := context.Background()
	staleUnlock, ok, _ := m.TryLock(ctx, "k", time.Second)
	if !ok {
		t.Fatal("lock")
	}
	now = now.Add(2 * time.Second)
	_, ok, _ = m.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("expired lock not taken over")
	}
	// the first holder's unlock must not free the new holder's lock
	staleUnlock()
	if _, ok, _ := m.TryLock(ctx, "k", time.Minute); ok {
		t.Fatal("stale unlock released a newer hold")
	}
}

func TestMemorySingleWinner(t *testing.T) {
	m := NewMemory()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryLock(context.Background(), "d1", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("want exactly one winner, got %d", wins)
	}
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok, err := NewMemory().TryLock(ctx, "k", time.Second); ok || err == nil {
		t.Fatalf("canceled context: ok=%v err=%v", ok, err)
	}
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis lock test")
	}
	rdb, err := Connect(t.Context(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rdb.Close()
	l := NewRedis(rdb)
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	unlock, ok, err := l.TryLock(t.Context(), key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(t.Context(), key, 5*time.Second); ok {
		t.Fatal("second holder acquired a held key")
	}
	unlock()
	unlock2, ok, err := l.TryLock(t.Context(), key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("relock after unlock: ok=%v err=%v", ok, err)
	}
	unlock2()
}
