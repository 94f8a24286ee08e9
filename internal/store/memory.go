package store

import "sync"

// MemoryMedium is an in-process medium for tests and dry runs.
type MemoryMedium struct {
	mu       sync.Mutex
	data     []byte
	writes   int
	WriteErr error // returned by Write when set
}

func (m *MemoryMedium) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemoryMedium) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *MemoryMedium) Close() error {
	return nil
}

// Writes returns how many snapshots were written successfully.
func (m *MemoryMedium) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Bytes returns the stored snapshot.
func (m *MemoryMedium) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Set replaces the stored snapshot.
func (m *MemoryMedium) Set(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
}
