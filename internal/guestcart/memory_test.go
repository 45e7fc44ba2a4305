package guestcart

import "sync"

// memoryStorage is an in-process Storage for tests. A positive Quota limits
// the size of a single value.
type memoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
	Quota int
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{items: make(map[string]string)}
}

func (m *memoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memoryStorage) SetItem(key, value string) error {
	if m.Quota > 0 && len(value) > m.Quota {
		return ErrQuotaExceeded
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
