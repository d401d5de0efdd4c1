package blockstore

import "sync"

// Memory keeps records in a map. Nothing survives Close.
type Memory struct {
	mu   sync.RWMutex
	data map[uint64][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[uint64][]byte)}
}

func (m *Memory) Get(key uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(key uint64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(key uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[uint64][]byte)
	return nil
}
