package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/aesop-rag/aesop/internal/model"
)

// Memory is an in-process Store with the same TTL semantics as the Redis
// backend, used when REDIS_URL is unset (local development, tests). The TTL
// is refreshed on write only (§6); reads never extend a session's lifetime.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	stopCh  chan struct{}
}

type memoryEntry struct {
	ctx       *model.SessionContext
	expiresAt time.Time
}

// NewMemory creates a Memory store with the given TTL and starts background
// expiry sweeping.
func NewMemory(ttl time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *Memory) Get(_ context.Context, sessionID string) (*model.SessionContext, error) {
	m.mu.RLock()
	entry, ok := m.entries[sessionID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, sessionID)
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	cp := *entry.ctx
	return &cp, nil
}

func (m *Memory) Set(_ context.Context, sc *model.SessionContext) error {
	cp := *sc
	m.mu.Lock()
	m.entries[sc.SessionID] = &memoryEntry{
		ctx:       &cp,
		expiresAt: time.Now().Add(m.ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
	return nil
}

// Stop halts the background cleanup goroutine.
func (m *Memory) Stop() {
	close(m.stopCh)
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
