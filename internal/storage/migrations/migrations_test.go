package migrations

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- header comment
CREATE TABLE a (x String DEFAULT 'a;b'); -- trailing
INSERT INTO a VALUES ('it''s; fine');

`
	stmts, err := splitStatements(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String DEFAULT 'a;b')", stmts[0])
	assert.Equal(t, "INSERT INTO a VALUES ('it''s; fine')", stmts[1])

	_, err = splitStatements("SELECT 'oops")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	for _, dir := range []string{"postgres", "clickhouse"} {
		fsys := PostgresFS
		if dir == "clickhouse" {
			fsys = ClickhouseFS
		}
		files, err := migrationFiles(fsys, dir)
		require.NoError(t, err)
		assert.NotEmpty(t, files, dir)
	}

	files, err := migrationFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, f := range files {
		data, err := ClickhouseFS.ReadFile("clickhouse/" + f)
		require.NoError(t, err)
		stmts, err := splitStatements(string(data))
		require.NoError(t, err, f)
		assert.NotEmpty(t, stmts, f)
	}
}

type recordingExecer struct {
	stmts []string
	fail  string
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...any) error {
	if r.fail != "" && query == r.fail {
		return errors.New("boom")
	}
	r.stmts = append(r.stmts, query)
	return nil
}

func TestApplyClickhouse_Order(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":  {Data: []byte("CREATE TABLE b (x Int8);")},
		"m/001_a.sql":  {Data: []byte("CREATE TABLE a (x Int8);\nCREATE TABLE a2 (x Int8);")},
		"m/README.txt": {Data: []byte("ignored")},
	}

	conn := &recordingExecer{}
	require.NoError(t, applyClickhouse(context.Background(), conn, fsys, "m", nil))
	assert.Equal(t, []string{
		"CREATE TABLE a (x Int8)",
		"CREATE TABLE a2 (x Int8)",
		"CREATE TABLE b (x Int8)",
	}, conn.stmts)

	failing := &recordingExecer{fail: "CREATE TABLE b (x Int8)"}
	err := applyClickhouse(context.Background(), failing, fsys, "m", nil)
	assert.ErrorContains(t, err, "002_b.sql")
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/telemetry")
	require.NoError(t, err)
	assert.Equal(t, "telemetry", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
