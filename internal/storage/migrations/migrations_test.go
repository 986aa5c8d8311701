package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	tests := []struct {
		dir  string
		fsys fs.FS
	}{
		{"postgres", PostgresFS},
		{"sqlite", SQLiteFS},
		{"clickhouse", ClickhouseFS},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			files, err := sqlFiles(tt.fsys, tt.dir)
			require.NoError(t, err)
			assert.NotEmpty(t, files)
		})
	}
}

func TestSplitStatements(t *testing.T) {
	input := `
-- comment; with semicolon
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b';"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://user:pw@localhost:9000/sniffer")
	require.NoError(t, err)
	assert.Equal(t, "sniffer", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
