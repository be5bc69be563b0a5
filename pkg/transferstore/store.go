// Package transferstore persists the most recent transfers and the last-used
// network pair behind a pluggable key-value Backend.
package transferstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/transfer"
)

// Keys under which the collections are stored.
const (
	TransfersKey   = "usdc-hopper:transfers"
	PreferencesKey = "usdc-hopper:network-preferences"
)

// MaxTransfers is the retention cap. Older records are dropped on write.
const MaxTransfers = 25

var (
	// ErrNotFound is returned by a Backend when the key holds no value.
	ErrNotFound = errors.New("key not found")
	// ErrTransferNotFound is returned by Mutate and Get for unknown ids.
	ErrTransferNotFound = errors.New("transfer not found")
)

// Backend is durable key-value storage with change notification
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Watch signals on the returned channel whenever key changes, including
	// changes made by other processes. The channel closes when ctx is done.
	Watch(ctx context.Context, key string) (<-chan struct{}, error)
	Close() error
}

// Store is the single access path to persisted transfers. Every write runs
// under one mutex and re-reads the latest persisted collection first.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex

	subsMu sync.Mutex
	subs   map[chan []*transfer.Transfer]struct{}
}

// New creates a Store on top of backend
func New(backend Backend, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		subs:    make(map[chan []*transfer.Transfer]struct{}),
	}
}

// SetClock overrides the time source used for updatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Load returns the persisted transfers, most recent first. Missing or
// malformed data yields an empty list.
func (s *Store) Load(ctx context.Context) []*transfer.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns a copy of the transfer with the given id.
func (s *Store) Get(ctx context.Context, id string) (*transfer.Transfer, error) {
	for _, t := range s.Load(ctx) {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrTransferNotFound
}

// Save replaces the whole collection.
func (s *Store) Save(ctx context.Context, transfers []*transfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.save(ctx, transfers)
	if err != nil {
		return err
	}
	s.publish(list)
	return nil
}

// Upsert inserts t at the front, replacing any record with the same id. A
// failed read aborts the write so the stored history is never replaced by a
// partial list.
func (s *Store) Upsert(ctx context.Context, t *transfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadForWrite(ctx)
	if err != nil {
		return err
	}
	next := make([]*transfer.Transfer, 0, len(current)+1)
	next = append(next, t.Clone())
	for _, existing := range current {
		if existing.ID != t.ID {
			next = append(next, existing)
		}
	}
	list, err := s.save(ctx, next)
	if err != nil {
		return err
	}
	s.publish(list)
	return nil
}

// Mutate applies fn to the latest persisted copy of the transfer and writes
// the result back when fn reports a change. updatedAt is bumped on write.
// Unknown ids are a no-op reported as ErrTransferNotFound. A failed read is
// returned without calling fn.
func (s *Store) Mutate(ctx context.Context, id string, fn func(t *transfer.Transfer) bool) (*transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadForWrite(ctx)
	if err != nil {
		return nil, err
	}

	var target *transfer.Transfer
	for _, t := range current {
		if t.ID == id {
			target = t
			break
		}
	}
	if target == nil {
		return nil, ErrTransferNotFound
	}

	if !fn(target) {
		return target.Clone(), nil
	}
	target.UpdatedAt = s.now()

	list, err := s.save(ctx, current)
	if err != nil {
		return nil, err
	}
	s.publish(list)
	return target.Clone(), nil
}

// Clear removes every persisted transfer.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, TransfersKey); err != nil {
		return fmt.Errorf("failed to clear transfers: %w", err)
	}
	s.publish(nil)
	return nil
}

// LoadNetworkPreferences returns the saved network pair. ok is false when
// nothing usable is stored.
func (s *Store) LoadNetworkPreferences(ctx context.Context) (prefs transfer.NetworkPreferences, ok bool) {
	raw, err := s.backend.Get(ctx, PreferencesKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to read network preferences", zap.Error(err))
		}
		return prefs, false
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		s.logger.Warn("Discarding malformed network preferences", zap.Error(err))
		return transfer.NetworkPreferences{}, false
	}
	if prefs.FromNetworkID == "" || prefs.ToNetworkID == "" {
		return transfer.NetworkPreferences{}, false
	}
	return prefs, true
}

// SaveNetworkPreferences stores the last-used network pair.
func (s *Store) SaveNetworkPreferences(ctx context.Context, prefs transfer.NetworkPreferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal network preferences: %w", err)
	}
	if err := s.backend.Set(ctx, PreferencesKey, raw); err != nil {
		return fmt.Errorf("failed to save network preferences: %w", err)
	}
	return nil
}

// Subscribe delivers the current snapshot and then one snapshot after every
// change. Slow readers only see the latest snapshot. The channel closes when
// ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan []*transfer.Transfer {
	ch := make(chan []*transfer.Transfer, 1)

	// Registering under mu orders the initial snapshot before any later write.
	s.mu.Lock()
	ch <- s.load(ctx)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.subsMu.Unlock()
	}()
	return ch
}

// WatchChanges forwards backend change notifications to subscribers until
// ctx is done.
func (s *Store) WatchChanges(ctx context.Context) error {
	changes, err := s.backend.Watch(ctx, TransfersKey)
	if err != nil {
		return fmt.Errorf("failed to watch transfers: %w", err)
	}
	for range changes {
		s.logger.Debug("Transfers changed in backing store, reloading")
		s.mu.Lock()
		s.publish(s.load(ctx))
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) load(ctx context.Context) []*transfer.Transfer {
	list, err := s.loadForWrite(ctx)
	if err != nil {
		s.logger.Warn("Failed to read transfers, using empty list", zap.Error(err))
		return nil
	}
	return list
}

// loadForWrite is load for the write paths: backend read failures are
// returned instead of being treated as an empty collection. Missing and
// malformed data still yield an empty list.
func (s *Store) loadForWrite(ctx context.Context) ([]*transfer.Transfer, error) {
	raw, err := s.backend.Get(ctx, TransfersKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read transfers: %w", err)
	}

	var list []*transfer.Transfer
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("Discarding malformed transfer collection", zap.Error(err))
		return nil, nil
	}

	out := list[:0]
	for _, t := range list {
		if t == nil {
			continue
		}
		if err := t.Validate(); err != nil {
			s.logger.Warn("Dropping corrupt transfer record", zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) save(ctx context.Context, transfers []*transfer.Transfer) ([]*transfer.Transfer, error) {
	if len(transfers) > MaxTransfers {
		transfers = transfers[:MaxTransfers]
	}
	if transfers == nil {
		transfers = []*transfer.Transfer{}
	}
	raw, err := json.Marshal(transfers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfers: %w", err)
	}
	if err := s.backend.Set(ctx, TransfersKey, raw); err != nil {
		return nil, fmt.Errorf("failed to write transfers: %w", err)
	}
	return transfers, nil
}

// publish must be called with mu held so subscribers see writes in order.
func (s *Store) publish(list []*transfer.Transfer) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		snapshot := make([]*transfer.Transfer, 0, len(list))
		for _, t := range list {
			snapshot = append(snapshot, t.Clone())
		}
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
