package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// One container serves the whole package; tests truncate instead of
// restarting it.
var shared struct {
	once      sync.Once
	container *postgres.PostgresContainer
	dsn       string
	err       error
}

func TestMain(m *testing.M) {
	code := m.Run()
	if shared.container != nil {
		_ = shared.container.Terminate(context.Background())
	}
	os.Exit(code)
}

func startContainer(ctx context.Context) {
	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("discovery"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		shared.err = fmt.Errorf("start postgres container: %w", err)
		return
	}
	shared.container = c

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		shared.err = fmt.Errorf("connection string: %w", err)
		return
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		shared.err = err
		return
	}
	defer pool.Close()
	if err := applySchema(ctx, pool); err != nil {
		shared.err = err
		return
	}
	shared.dsn = dsn
}

// setupTestDB returns a pool on an empty, migrated database. Skipped
// under -short.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	shared.once.Do(func() { startContainer(ctx) })
	require.NoError(t, shared.err)

	pool, err := NewPool(ctx, shared.dsn)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE discoveries, discovery_rankings, scan_checkpoint`)
	require.NoError(t, err, "truncate tables")

	return pool, pool.Close
}

// applySchema runs the SQL files under internal/storage/migrations/postgres.
// The migrations package imports this one, so files are read from disk.
func applySchema(ctx context.Context, pool *Pool) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(root, "internal", "storage", "migrations", "postgres", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func projectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above %s", dir)
		}
		dir = parent
	}
}

func ptr[T any](v T) *T {
	return &v
}
