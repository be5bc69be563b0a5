package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/migrations/hopperdb"
	"github.com/chainsafe/usdc-hopper/pkg/pgutil"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/pgstore"
)

func TestHopperDB_MigrateServesStore(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, hopperdb.Migrations)
	require.NoError(t, migrator.Init(ctx))

	group, err := migrator.Migrate(ctx)
	require.NoError(t, err)
	assert.False(t, group.IsZero(), "expected the initial group to apply")

	pgutil.AssertTableExists(t, db, "kv_entries")
	pgutil.AssertIndexExists(t, db, "idx_kv_entries_updated_at")

	group, err = migrator.Migrate(ctx)
	require.NoError(t, err)
	assert.True(t, group.IsZero(), "second run should be a no-op")

	store := transferstore.New(pgstore.NewStore(db, zap.NewNop()), zap.NewNop())
	tr := transfer.New("mig-1", "ethereum-sepolia", "arc-testnet", 11155111, 5042002, "2", time.Now().UTC())
	require.NoError(t, store.Upsert(ctx, tr))

	got, err := store.Get(ctx, "mig-1")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Amount)
}

func TestHopperDB_Rollback(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, hopperdb.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)

	group, err := migrator.Rollback(ctx)
	require.NoError(t, err)
	assert.False(t, group.IsZero())
	pgutil.AssertTableNotExists(t, db, "kv_entries")
}
