// Package pgstore is a transferstore.Backend on PostgreSQL. Writes send a
// NOTIFY carrying the key so other processes can reload.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
)

// NotifyChannel is the LISTEN/NOTIFY channel used for change notification.
const NotifyChannel = "usdc_hopper_kv_changed"

type pgStore struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewStore creates a new postgres implementation of the key-value backend
func NewStore(db *bun.DB, logger *zap.Logger) *pgStore {
	return &pgStore{db: db, logger: logger}
}

func (s *pgStore) Get(ctx context.Context, key string) ([]byte, error) {
	dao := new(KVEntryDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transferstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return []byte(dao.Value), nil
}

func (s *pgStore) Set(ctx context.Context, key string, value []byte) error {
	dao := &KVEntryDao{
		Key:       key,
		Value:     string(value),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(dao).
			On("CONFLICT (key) DO UPDATE").
			Set("value = EXCLUDED.value").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", key, err)
		}
		return notify(ctx, tx, key)
	})
}

func (s *pgStore) Delete(ctx context.Context, key string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*KVEntryDao)(nil)).
			Where("key = ?", key).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return notify(ctx, tx, key)
	})
}

// notify is delivered on commit.
func notify(ctx context.Context, tx bun.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify(?, ?)", NotifyChannel, key); err != nil {
		return fmt.Errorf("failed to notify change of %s: %w", key, err)
	}
	return nil
}

// Watch listens on NotifyChannel and reports notifications for key.
func (s *pgStore) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	ln := pgdriver.NewListener(s.db)
	if err := ln.Listen(ctx, NotifyChannel); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	out := make(chan struct{}, 1)
	notifications := ln.Channel()

	go func() {
		defer close(out)
		defer ln.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					s.logger.Warn("Postgres listener closed", zap.String("channel", NotifyChannel))
					return
				}
				if n.Payload != key {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the caller owns the database handle.
func (s *pgStore) Close() error {
	return nil
}
