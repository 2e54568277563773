package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = []string{
	`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`,
	`ALTER TABLE t ADD COLUMN w TEXT`,
}

func TestOpenMemory_Pragmas(t *testing.T) {
	db := OpenMemory(t)

	var fk, sync, busy int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&sync))
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 1, sync)
	assert.Equal(t, 10_000, busy)
}

func TestMigrations_AppliedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "w.db")

	db, err := Open(path, WithMkdirAll(), WithMigrations(schema[0]))
	require.NoError(t, err)
	v, err := SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, db.Close())

	db, err = Open(path, WithMigrations(schema...))
	require.NoError(t, err)
	defer db.Close()
	v, err = SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	_, err = db.Exec(`INSERT INTO t (v, w) VALUES ('a', 'b')`)
	assert.NoError(t, err)
}

func TestMigrations_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.db")
	db, err := Open(path, WithMigrations(schema...))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, WithMigrations(schema[0]))
	assert.Error(t, err)
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.True(t, IsBusy(errors.New("database is locked")))
	assert.True(t, IsBusy(errors.New("SQLITE_BUSY")))
	assert.False(t, IsBusy(errors.New("no such table")))
}

func TestRunTx_Rollback(t *testing.T) {
	db := OpenMemory(t, WithMigrations(schema...))
	ctx := context.Background()

	boom := errors.New("boom")
	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (v) VALUES ('x')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Zero(t, n)
}

func TestExec(t *testing.T) {
	db := OpenMemory(t, WithMigrations(schema...))
	res, err := Exec(context.Background(), db, `INSERT INTO t (v) VALUES (?)`, "x")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
