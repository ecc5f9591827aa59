package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestConn starts a throwaway ClickHouse server with the telemetry schema
// applied. The container and connection are released when the test ends.
func newTestConn(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping clickhouse integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "telemetry",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/telemetry?max_open_conns=2", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	applySchema(t, conn)
	return conn
}

// applySchema executes ../migrations/clickhouse in name order. Each file
// holds a single statement.
func applySchema(t *testing.T, conn *Conn) {
	t.Helper()

	dir := filepath.Join("..", "migrations", "clickhouse")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		stmt := strings.TrimSuffix(strings.TrimSpace(string(content)), ";")
		require.NoError(t, conn.Exec(context.Background(), stmt), "apply %s", name)
	}
}
