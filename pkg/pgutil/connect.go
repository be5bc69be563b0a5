// Package pgutil connects to PostgreSQL through bun.
package pgutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/usdc-hopper/pkg/config"
)

func newConnector(cfg *config.DatabaseConfig) *pgdriver.Connector {
	opts := []pgdriver.Option{
		pgdriver.WithNetwork("tcp"),
		pgdriver.WithAddr(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithInsecure(cfg.SSLMode == "disable"),
		pgdriver.WithApplicationName("usdc-hopper"),
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, pgdriver.WithDialTimeout(cfg.DialTimeout))
	}
	return pgdriver.NewConnector(opts...)
}

// ConnectDB opens a bun handle for cfg and pings it.
func ConnectDB(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	sqldb := sql.OpenDB(newConnector(cfg))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s at %s:%d: %w", cfg.Database, cfg.Host, cfg.Port, err)
	}
	return db, nil
}
