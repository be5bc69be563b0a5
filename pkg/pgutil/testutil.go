package pgutil

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"github.com/chainsafe/usdc-hopper/pkg/config"
)

const (
	testDatabase = "hopper_test"
	testUser     = "hopper"
	testPassword = "hopper"
)

// RequireDockerAccess skips the test when no docker daemon socket answers.
func RequireDockerAccess(t *testing.T) {
	t.Helper()

	for _, sock := range []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	} {
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{Timeout: time.Second}).Dial("unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}
	t.Skip("docker daemon socket is not accessible; skipping container-backed test")
}

// ContainerEndpoint resolves the host and mapped port of a started container
// and registers its termination with t.Cleanup. It fails the test on error.
func ContainerEndpoint(t *testing.T, container testcontainers.Container, port nat.Port) (string, int) {
	t.Helper()
	ctx := context.Background()

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return host, mapped.Int()
}

// SetupTestDB starts a PostgreSQL container and returns a connection to it.
// The returned cleanup closes the connection; the container is removed when
// the test ends.
func SetupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()
	RequireDockerAccess(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	host, port := ContainerEndpoint(t, container, "5432/tcp")

	cfg := &config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     testUser,
		Password: testPassword,
		Database: testDatabase,
		SSLMode:  "disable",
	}

	// The port can accept connections slightly before postgres does.
	var db *bun.DB
	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		db, err = ConnectDB(ctx, cfg)
		if err == nil {
			break
		}
		if attempt == 8 {
			t.Fatalf("failed to connect to test database after %d attempts: %v", attempt, err)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return db, func() { _ = db.Close() }
}

// AssertTableExists checks if a table exists in the database
func AssertTableExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if !relationExists(t, db, "information_schema.tables", "table_schema", "table_name", tableName) {
		t.Errorf("table %s does not exist", tableName)
	}
}

// AssertTableNotExists checks that a table is absent
func AssertTableNotExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if relationExists(t, db, "information_schema.tables", "table_schema", "table_name", tableName) {
		t.Errorf("table %s should not exist but it does", tableName)
	}
}

// AssertIndexExists checks if an index exists in the database
func AssertIndexExists(t *testing.T, db *bun.DB, indexName string) {
	t.Helper()
	if !relationExists(t, db, "pg_indexes", "schemaname", "indexname", indexName) {
		t.Errorf("index %s does not exist", indexName)
	}
}

func relationExists(t *testing.T, db *bun.DB, catalog, schemaCol, nameCol, name string) bool {
	t.Helper()

	var exists bool
	err := db.NewSelect().
		ColumnExpr("EXISTS (SELECT 1 FROM ? WHERE ? = 'public' AND ? = ?)",
			bun.Safe(catalog), bun.Ident(schemaCol), bun.Ident(nameCol), name).
		Scan(context.Background(), &exists)
	if err != nil {
		t.Fatalf("failed to look up %s in %s: %v", name, catalog, err)
	}
	return exists
}
