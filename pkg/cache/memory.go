package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryItem struct {
	data       []byte
	expiresAt  time.Time
	noExpiry   bool
}

func (i memoryItem) isExpired() bool {
	return !i.noExpiry && time.Now().After(i.expiresAt)
}

// MemoryCache is an in-memory Cache implementation for tests and local
// development: a mutex-guarded map with per-entry TTL.
type MemoryCache struct {
	mu          sync.RWMutex
	items       map[string]memoryItem
	stopCleanup chan struct{}
}

// NewMemoryCache builds an empty MemoryCache and starts its background
// expiry sweep.
func NewMemoryCache() *MemoryCache {
	m := &MemoryCache{
		items:       make(map[string]memoryItem),
		stopCleanup: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *MemoryCache) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, item := range m.items {
		if item.isExpired() {
			delete(m.items, k)
		}
	}
}

func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	item := memoryItem{data: data}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	} else {
		item.noExpiry = true
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || item.isExpired() {
		return false, nil
	}
	if err := json.Unmarshal(item.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Has(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	return ok && !item.isExpired(), nil
}

func (m *MemoryCache) Health(ctx context.Context) error {
	return nil
}

func (m *MemoryCache) Close() error {
	close(m.stopCleanup)
	return nil
}
