// Package memory provides an in-memory ObjectStore used by tests. It
// counts calls so routing tests can assert that the pass-through path
// performs no storage work.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/galerly/transform/pkg/errors"
)

// Store is a thread-safe in-memory object store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object

	// Call counters, readable while the store is in use.
	GetCalls    atomic.Int64
	PutCalls    atomic.Int64
	ExistsCalls atomic.Int64

	// Injected failures; nil means the operation succeeds.
	GetErr    error
	PutErr    error
	ExistsErr error
}

type object struct {
	data        []byte
	contentType string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Seed inserts an object without counting the write as a Put call.
func (s *Store) Seed(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
}

// Get returns the object bytes or OBJECT_NOT_FOUND.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.GetCalls.Add(1)
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound,
			fmt.Sprintf("object not found: %s", key)).
			WithComponent("memory-store").WithOperation("Get")
	}
	return append([]byte(nil), obj.data...), nil
}

// Put stores the object. Last writer wins.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.PutCalls.Add(1)
	if s.PutErr != nil {
		return s.PutErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// Exists reports object presence.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.ExistsCalls.Add(1)
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete removes an object, simulating external lifecycle eviction.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// ContentType returns the stored content type for a key, or "".
func (s *Store) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
