package control

import (
	"slices"
	"sync"
)

// ResourceStore maps URIs to opaque content. Entries are never evicted.
type ResourceStore struct {
	mu        sync.RWMutex
	resources map[string]any
}

// NewResourceStore creates an empty resource store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{resources: make(map[string]any)}
}

// Register stores content under uri, overwriting any previous value.
func (s *ResourceStore) Register(uri string, content any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[uri] = content
}

// Get returns the content registered under uri.
func (s *ResourceStore) Get(uri string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.resources[uri]
	return content, ok
}

// URIs returns every registered URI in sorted order.
func (s *ResourceStore) URIs() []string {
	s.mu.RLock()
	uris := make([]string, 0, len(s.resources))
	for uri := range s.resources {
		uris = append(uris, uri)
	}
	s.mu.RUnlock()
	slices.Sort(uris)
	return uris
}
