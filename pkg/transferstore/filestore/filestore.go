// Package filestore is a transferstore.Backend keeping one JSON file per key.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
)

// Store writes values atomically into dir and watches it for changes made
// by other processes.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates the directory if needed and returns the backend.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

func fileName(key string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(key) + ".json"
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, transferstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set writes to a temp file in the same directory and renames it into place
// so readers never observe a partial value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+fileName(key)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(value); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Watch reports create, write, rename and remove events on the key's file.
func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	target := fileName(key)
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
					!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("File store watcher error", zap.String("dir", s.dir), zap.Error(err))
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
