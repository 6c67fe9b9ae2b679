package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var shared struct {
	once      sync.Once
	container testcontainers.Container
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
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "discovery",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		shared.err = fmt.Errorf("start clickhouse container: %w", err)
		return
	}
	shared.container = c

	host, err := c.Host(ctx)
	if err != nil {
		shared.err = err
		return
	}
	port, err := c.MappedPort(ctx, "9000")
	if err != nil {
		shared.err = err
		return
	}
	dsn := fmt.Sprintf("clickhouse://%s:%s/discovery", host, port.Port())

	conn, err := NewConn(ctx, dsn)
	if err != nil {
		shared.err = err
		return
	}
	defer conn.Close()
	if err := applySchema(ctx, conn); err != nil {
		shared.err = err
		return
	}
	shared.dsn = dsn
}

// setupTestDB returns a connection to an empty score_snapshots table.
// Skipped under -short.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	shared.once.Do(func() { startContainer(ctx) })
	require.NoError(t, shared.err)

	conn, err := NewConn(ctx, shared.dsn)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, "TRUNCATE TABLE score_snapshots"))

	return conn, func() { _ = conn.Close() }
}

// applySchema runs internal/storage/migrations/clickhouse statement by
// statement; the migrations package imports this one.
func applySchema(ctx context.Context, conn *Conn) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(root, "internal", "storage", "migrations", "clickhouse", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(data), ";") {
			if strings.TrimSpace(stripComments(stmt)) == "" {
				continue
			}
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", filepath.Base(f), err)
			}
		}
	}
	return nil
}

func stripComments(sql string) string {
	var lines []string
	for _, line := range strings.Split(sql, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
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
