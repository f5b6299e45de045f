package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage is an in-memory Storage used by tests and local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// Uploads counts successful Upload calls, for side-effect
	// assertions in tests.
	Uploads int

	// FailUploads makes every Upload return an error when set.
	FailUploads bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error {
	if m.FailUploads {
		return fmt.Errorf("upload failed: storage unavailable")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
	m.Uploads++
	return nil
}

func (m *MemoryStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// Has reports whether an object exists at path.
func (m *MemoryStorage) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok
}
