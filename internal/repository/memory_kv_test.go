package repository

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// memoryKV はテスト用のインメモリKVStore/CounterStore実装。
type memoryKV struct {
	mu       sync.Mutex
	entries  map[string]json.RawMessage
	counters map[string]*memoryCounter

	// getErr / setErr を設定するとGet/Setが失敗する（障害注入用）
	getErr error
	setErr error
}

type memoryCounter struct {
	count     int
	expiresAt time.Time
}

func newMemoryKV() *memoryKV {
	return &memoryKV{
		entries:  make(map[string]json.RawMessage),
		counters: make(map[string]*memoryCounter),
	}
}

func (m *memoryKV) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	raw, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	m.entries[key] = cp
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryKV) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryKV) GetCounter(_ context.Context, key string) (int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, 0, m.getErr
	}
	c, ok := m.counters[key]
	if !ok || !time.Now().Before(c.expiresAt) {
		return 0, 0, nil
	}
	return c.count, time.Until(c.expiresAt), nil
}

func (m *memoryKV) IncrementCounter(_ context.Context, key string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return 0, m.setErr
	}
	c, ok := m.counters[key]
	if !ok || !time.Now().Before(c.expiresAt) {
		c = &memoryCounter{expiresAt: time.Now().Add(window)}
		m.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// compile-time interface checks
var _ KVStore = (*memoryKV)(nil)
var _ CounterStore = (*memoryKV)(nil)
