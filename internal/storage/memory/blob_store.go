// Package memory holds in-process implementations of the crawler's storage
// dependencies for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore keeps archived payloads in memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string]object
}

type object struct {
	contentType string
	body        []byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string]object)}
}

// PutObject stores a copy of data under path, replacing any previous payload.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = object{contentType: contentType, body: body}
	return "memory://" + path, nil
}

// Get returns the payload stored at path.
func (s *BlobStore) Get(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.body...), obj.contentType, true
}

// Paths returns every stored path in sorted order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
