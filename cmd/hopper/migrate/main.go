package main

import (
	"context"
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/usdc-hopper/pkg/config"
	"github.com/chainsafe/usdc-hopper/pkg/migrations/hopperdb"
	"github.com/chainsafe/usdc-hopper/pkg/pgutil"
	mghelper "github.com/chainsafe/usdc-hopper/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("error setting up logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	db, err := pgutil.ConnectDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	log.Printf("Running migrations for hopper database (%s)...\n", cfg.Database.Database)

	migrator := migrate.NewMigrator(db, hopperdb.Migrations)
	if err := mghelper.RunMigrations(ctx, migrator, logger, flag.Args()...); err != nil {
		mghelper.Exitf("%s", err)
	}
}
