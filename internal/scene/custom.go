package scene

import (
	"sync"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
)

// CustomStore holds values for attributes the engine has no accessor for.
type CustomStore struct {
	mu     sync.RWMutex
	values map[string]map[attribute.Attribute][]float64
}

func NewCustomStore() *CustomStore {
	return &CustomStore{values: make(map[string]map[attribute.Attribute][]float64)}
}

// Get returns a copy of the stored value.
func (s *CustomStore) Get(object string, a attribute.Attribute) ([]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[object][a]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

func (s *CustomStore) Set(object string, a attribute.Attribute, v []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.values[object]
	if !ok {
		attrs = make(map[attribute.Attribute][]float64)
		s.values[object] = attrs
	}
	attrs[a] = append([]float64(nil), v...)
}

// Drop forgets every value stored for object.
func (s *CustomStore) Drop(object string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, object)
}

// Snapshot returns object -> attribute name -> value.
func (s *CustomStore) Snapshot(catalog *attribute.Catalog) map[string]map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string][]float64, len(s.values))
	for object, attrs := range s.values {
		m := make(map[string][]float64, len(attrs))
		for a, v := range attrs {
			m[catalog.CanonicalName(a)] = append([]float64(nil), v...)
		}
		out[object] = m
	}
	return out
}
