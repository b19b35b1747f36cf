package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestInt_SetGetOverwrite(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, ok, err := r.GetInt(ctx, KeyLastSync)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetInt(ctx, KeyLastSync, 1700000000))
	require.NoError(t, r.SetInt(ctx, KeyLastSync, 1700000100))

	v, ok, err := r.GetInt(ctx, KeyLastSync)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000100), v)
}

func TestInt_NotANumber(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.SetString(ctx, KeyLastSync, "soon"))
	_, _, err := r.GetInt(ctx, KeyLastSync)
	assert.ErrorContains(t, err, "not an integer")
}

func TestString_SetGetDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.SetString(ctx, KeyUser, "alice"))
	v, ok, err := r.GetString(ctx, KeyUser)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	require.NoError(t, r.Delete(ctx, KeyUser))
	_, ok, err = r.GetString(ctx, KeyUser)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting twice is fine
	require.NoError(t, r.Delete(ctx, KeyUser))
}

func TestDBErrorsWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, _, err := r.GetInt(ctx, "k")
	assert.ErrorContains(t, err, "failed to get metadata[k]")
	assert.ErrorContains(t, r.SetInt(ctx, "k", 1), "failed to set metadata[k]")
	assert.ErrorContains(t, r.Delete(ctx, "k"), "failed to delete metadata[k]")
}
