// Package hopperdb holds the migrations for the postgres transfer store
package hopperdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the hopper database
var Migrations = migrate.NewMigrations()
