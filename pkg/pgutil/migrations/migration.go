// Package migrations runs bun migrations for the postgres transfer store.
package migrations

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

type command struct {
	help string
	run  func(ctx context.Context, m *migrate.Migrator, logger *zap.Logger) error
}

var commands = map[string]command{
	"init":   {"create the migration bookkeeping tables", runInit},
	"up":     {"apply every pending migration", locked(runUp)},
	"down":   {"roll back the last migration group", locked(runDown)},
	"status": {"print applied and pending migrations", runStatus},
}

// Usage prints command usage and exits with status 2.
func Usage() {
	var b strings.Builder
	b.WriteString("Usage:\n  hopper-migrate -config config.yaml <command>\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-7s %s\n", name, commands[name].help)
	}
	fmt.Fprint(os.Stderr, b.String())
	flag.PrintDefaults()
	os.Exit(2)
}

// Exitf prints the message and usage, then exits
func Exitf(s string, args ...any) {
	fmt.Fprintf(os.Stderr, s+"\n", args...)
	Usage()
}

// RunMigrations runs the migrator command named by args[0]
func RunMigrations(ctx context.Context, migrator *migrate.Migrator, logger *zap.Logger, args ...string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command provided")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return cmd.run(ctx, migrator, logger.With(zap.String("command", args[0])))
}

// CreateSchema creates tables for the given models if they are missing
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// DropTables drops tables for the given models if present
func DropTables(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", model, err)
		}
	}
	return nil
}

// CreateModelIndexes creates one index per column named idx_<table>_<column>.
func CreateModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	table := strings.NewReplacer(`"`, "", ".", "_").Replace(db.NewCreateIndex().Model(model).GetTableName())
	if table == "" {
		return fmt.Errorf("failed to resolve table name for model %T", model)
	}
	for _, column := range columns {
		if _, err := db.NewCreateIndex().
			Model(model).
			Index(fmt.Sprintf("idx_%s_%s", table, column)).
			Column(column).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", table, column, err)
		}
	}
	return nil
}

func runInit(ctx context.Context, m *migrate.Migrator, logger *zap.Logger) error {
	if err := m.Init(ctx); err != nil {
		return err
	}
	logger.Info("Migration tables created")
	return nil
}

func runUp(ctx context.Context, m *migrate.Migrator, logger *zap.Logger) error {
	group, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info("No new migrations to run")
		return nil
	}
	logger.Info("Migrated", zap.Stringer("group", group))
	return nil
}

func runDown(ctx context.Context, m *migrate.Migrator, logger *zap.Logger) error {
	group, err := m.Rollback(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info("No migrations to roll back")
		return nil
	}
	logger.Info("Rolled back", zap.Stringer("group", group))
	return nil
}

func runStatus(ctx context.Context, m *migrate.Migrator, logger *zap.Logger) error {
	ms, err := m.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}
	logger.Info("Migration status",
		zap.Stringer("migrations", ms),
		zap.Stringer("unapplied", ms.Unapplied()),
		zap.Stringer("last_group", ms.LastGroup()))
	return nil
}

// locked holds the migration lock for the duration of fn.
func locked(fn func(context.Context, *migrate.Migrator, *zap.Logger) error) func(context.Context, *migrate.Migrator, *zap.Logger) error {
	return func(ctx context.Context, m *migrate.Migrator, logger *zap.Logger) error {
		if err := m.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if err := m.Unlock(ctx); err != nil {
				logger.Warn("Failed to release migration lock", zap.Error(err))
			}
		}()
		return fn(ctx, m, logger)
	}
}
