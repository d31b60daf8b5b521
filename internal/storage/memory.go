package storage

import (
	"context"
	"sync"
)

// MemoryMedium keeps values in process. A positive quota caps the summed
// length of keys and values, mimicking a browser storage budget.
type MemoryMedium struct {
	quota int64

	mu     sync.RWMutex
	used   int64
	values map[string]string
}

func NewMemory(quotaBytes int64) *MemoryMedium {
	return &MemoryMedium{quota: quotaBytes, values: make(map[string]string)}
}

func (m *MemoryMedium) Name() string { return "memory" }

func (m *MemoryMedium) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryMedium) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.used + int64(len(key)+len(value))
	if old, ok := m.values[key]; ok {
		next -= int64(len(key) + len(old))
	}
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = value
	m.used = next
	return nil
}

func (m *MemoryMedium) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.values, key)
	}
	return nil
}

// SetQuota changes the budget. Values already stored are kept even when they
// exceed the new budget; only later writes are checked.
func (m *MemoryMedium) SetQuota(quotaBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = quotaBytes
}

// Used returns the bytes currently counted against the quota.
func (m *MemoryMedium) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *MemoryMedium) Close() error { return nil }
