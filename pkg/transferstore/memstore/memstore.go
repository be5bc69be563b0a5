// Package memstore is an in-process transferstore.Backend.
package memstore

import (
	"context"
	"sync"

	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
)

// Store keeps values in a map. Stores sharing one instance see each other's
// writes through Watch.
type Store struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers map[string]map[chan struct{}]struct{}
}

// New creates an empty in-memory backend
func New() *Store {
	return &Store{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, transferstore.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.values[key] = append([]byte(nil), value...)
	s.notify(key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.notify(key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[chan struct{}]struct{})
	}
	s.watchers[key][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers[key], ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *Store) Close() error {
	return nil
}

// notify must be called with mu held.
func (s *Store) notify(key string) {
	for ch := range s.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
