package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryScheme is the URI scheme of objects held by Memory.
const MemoryScheme = "mem://"

// Memory is an in-process Publisher and fetcher.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Publish implements Publisher.
func (m *Memory) Publish(ctx context.Context, content []byte, contentType string) (string, error) {
	name := objectName(ContentKey(content), contentType)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[name] = append([]byte(nil), content...)
	m.puts++
	return MemoryScheme + name, nil
}

// Fetch returns a copy of the object at a mem:// URI.
func (m *Memory) Fetch(ctx context.Context, uri string) ([]byte, error) {
	name, ok := strings.CutPrefix(uri, MemoryScheme)
	if !ok {
		return nil, fmt.Errorf("unsupported uri %q", uri)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of distinct objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
