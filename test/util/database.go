// Package util provides test utilities for database-backed tests.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/threadsync/threadsync/pkg/store"
)

var (
	// Shared container settings for all tests in local dev
	sharedCfg     store.Config
	containerOnce sync.Once
	containerErr  error
)

// SetupTestStore opens a PostgresStore against a database created just for
// this test, with migrations applied.
// - CI: connects to the external PostgreSQL from CI_DATABASE_* variables
// - Local: uses a shared testcontainer (started once per package)
// The database is dropped when the test ends.
func SetupTestStore(t *testing.T) *store.PostgresStore {
	ctx := context.Background()

	base := getOrCreateSharedDatabase(t)

	// Each test gets its own database so schemas and rows never collide.
	dbName := GenerateDatabaseName(t)

	admin, err := stdsql.Open("pgx", base.DSN())
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err)

	cfg := base
	cfg.Database = dbName
	cfg.MaxOpenConns = 10
	cfg.MaxIdleConns = 5

	st, err := store.Open(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = st.Close()
		_, err := admin.ExecContext(context.Background(),
			fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName))
		if err != nil {
			t.Logf("Warning: failed to drop database %s: %v", dbName, err)
		}
		_ = admin.Close()
	})

	return st
}

// getOrCreateSharedDatabase returns connection settings for the shared server.
// In CI, uses CI_DATABASE_* variables. In local dev, starts a shared
// testcontainer once per package.
func getOrCreateSharedDatabase(t *testing.T) store.Config {
	if host := os.Getenv("CI_DATABASE_HOST"); host != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_* variables")
		return store.Config{
			Host:     host,
			Port:     intEnv("CI_DATABASE_PORT", 5432),
			User:     getEnv("CI_DATABASE_USER", "postgres"),
			Password: os.Getenv("CI_DATABASE_PASSWORD"),
			Database: getEnv("CI_DATABASE_NAME", "postgres"),
			SSLMode:  "disable",
		}
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer for all tests")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("failed to resolve container host: %w", err)
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("failed to resolve container port: %w", err)
			return
		}

		sharedCfg = store.Config{
			Host:     host,
			Port:     port.Int(),
			User:     "test",
			Password: "test",
			Database: "test",
			SSLMode:  "disable",
		}
		t.Logf("Shared container ready: %s:%d", host, port.Int())
	})

	require.NoError(t, containerErr, "Failed to setup shared test container")
	return sharedCfg
}

// GenerateDatabaseName creates a unique, PostgreSQL-safe database name.
// Format: test_<sanitized_test_name>_<random_hex>
func GenerateDatabaseName(t *testing.T) string {
	testName := strings.ToLower(t.Name())
	testName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)

	// Stay under PostgreSQL's 63 char identifier limit
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("failed to generate random bytes for database name: %v", err)
	}

	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
