package storage

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store. Tests across the codebase use it in
// place of a live WebDAV volume.
type MemStore struct {
	mu    sync.Mutex
	files map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string]string)}
}

func (m *MemStore) List(_ context.Context, dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for p := range m.files {
		if path.Dir(p) == strings.TrimRight(dir, "/") {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) Read(_ context.Context, p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[p]
	if !ok {
		return "", &OpError{Op: "read", Path: p, Err: ErrNotFound}
	}
	return content, nil
}

func (m *MemStore) Write(_ context.Context, p string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = content
	return nil
}

func (m *MemStore) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	return nil
}
