// Package lock provides short-lived advisory locks keyed by string, used to keep
// two workers from attempting the same delivery at once.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires non-blocking advisory locks. ok is false when another holder
// owns the key. unlock is safe to call more than once and releases only the
// caller's own hold; a lock whose ttl lapsed may already belong to someone else.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memHold
	seq   uint64
	clock func() time.Time
}

type memHold struct {
	token   uint64
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{held: map[string]memHold{}, clock: time.Now}
}

func (m *Memory) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	m.seq++
	token := m.seq
	m.held[key] = memHold{token: token, expires: now.Add(ttl)}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h, ok := m.held[key]; ok && h.token == token {
				delete(m.held, key)
			}
		})
	}, true, nil
}
