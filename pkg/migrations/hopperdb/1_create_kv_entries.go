package hopperdb

import (
	"context"

	"github.com/uptrace/bun"

	mghelper "github.com/chainsafe/usdc-hopper/pkg/pgutil/migrations"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/pgstore"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if err := mghelper.CreateSchema(ctx, db, &pgstore.KVEntryDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &pgstore.KVEntryDao{}, "updated_at")
	}, func(ctx context.Context, db *bun.DB) error {
		return mghelper.DropTables(ctx, db, &pgstore.KVEntryDao{})
	})
}
