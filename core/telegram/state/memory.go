package state

import (
	"context"
	"sync"
	"time"
)

const memoryShards = 32

type memoryShard struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// MemoryStore keeps sessions in process, spread over shards so unrelated
// keys rarely contend.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i].sessions = make(map[Key]*Session)
	}
	return m
}

func (m *MemoryStore) shard(k Key) *memoryShard {
	h := uint64(k.ChatID)*0x9E3779B97F4A7C15 ^ uint64(k.UserID)
	return &m.shards[h%memoryShards]
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*Session, error) {
	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.sessions[key].Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, s *Session) error {
	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[key] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) (bool, error) {
	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.sessions[key]
	delete(sh.sessions, key)
	return ok, nil
}

func (m *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for i := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh := &m.shards[i]
		sh.mu.Lock()
		for k, s := range sh.sessions {
			if s.UpdatedAt.Before(cutoff) {
				delete(sh.sessions, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of stored sessions.
func (m *MemoryStore) Len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
