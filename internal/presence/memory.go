package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps heartbeats in process. It serves single-node deployments
// without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time // channel -> visitor -> expiry
	now     func() time.Time
}

// NewMemoryStore returns an empty store using now for expiry checks
// (time.Now when nil).
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]map[string]time.Time), now: now}
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, channelID, visitorID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.entries[channelID]
	if !ok {
		ch = make(map[string]time.Time)
		s.entries[channelID] = ch
	}
	ch[visitorID] = s.now().Add(ttl)
	return nil
}

// Count implements Store. Expired entries are pruned as a side effect.
func (s *MemoryStore) Count(_ context.Context, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	ch := s.entries[channelID]
	for v, exp := range ch {
		if !exp.After(now) {
			delete(ch, v)
		}
	}
	if len(ch) == 0 {
		delete(s.entries, channelID)
	}
	return len(ch), nil
}

// MemoryCoalescer remembers the last broadcast per channel in process.
type MemoryCoalescer struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewMemoryCoalescer returns a coalescer with the given window.
func NewMemoryCoalescer(window time.Duration) *MemoryCoalescer {
	return &MemoryCoalescer{window: window, last: make(map[string]time.Time)}
}

// Allow implements Coalescer. The first broadcast for a channel always passes.
func (c *MemoryCoalescer) Allow(_ context.Context, channelID string, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[channelID]; ok && now.Sub(last) <= c.window {
		return false, nil
	}
	c.last[channelID] = now
	return true, nil
}
