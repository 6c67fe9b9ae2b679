package migrations

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pg, err := fs.Glob(PostgresFS, "postgres/*.sql")
	require.NoError(t, err)
	assert.Contains(t, pg, "postgres/001_discoveries.sql")

	ch, err := fs.Glob(ClickhouseFS, "clickhouse/*.sql")
	require.NoError(t, err)
	assert.Contains(t, ch, "clickhouse/001_score_snapshots.sql")

	for _, f := range ch {
		data, err := fs.ReadFile(ClickhouseFS, f)
		require.NoError(t, err)
		assert.NoError(t, validateNoSemicolonInStrings(string(data)), f)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'it''s'; SELECT 1;`))
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT ''; SELECT 1;`))
	assert.Error(t, validateNoSemicolonInStrings(`SELECT 'a;b'`))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/discovery")
	require.NoError(t, err)
	assert.Equal(t, "discovery", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/disc;DROP")
	assert.Error(t, err)
}

func TestLoad_OrderAndVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql":   {Data: []byte("CREATE TABLE b ();")},
		"pg/001_a.sql":   {Data: []byte("CREATE TABLE a ();")},
		"pg/003_c.sql":   {Data: []byte("  \n")},
		"pg/README.md":   {Data: []byte("not sql")},
		"pg/sub/004.sql": {Data: []byte("CREATE TABLE d ();")},
	}
	migs, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, "001_a", migs[0].Version)
	assert.Equal(t, "002_b", migs[1].Version)

	_, err = load(fsys, "missing")
	assert.Error(t, err)
}
