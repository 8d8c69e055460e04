package runway

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupKV(t *testing.T) *SQLiteKV {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL DEFAULT '')`)
	require.NoError(t, err)
	return NewSQLiteKV(db)
}

func TestSQLiteKV_MissingKey(t *testing.T) {
	kv := setupKV(t)

	_, ok, err := kv.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteKV_SetGetOverwrite(t *testing.T) {
	kv := setupKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1"))
	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, kv.Set(ctx, "a", "2"))
	v, _, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestSQLiteKV_DeleteAndClear(t *testing.T) {
	kv := setupKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1"))
	require.NoError(t, kv.Set(ctx, "b", "2"))

	require.NoError(t, kv.Delete(ctx, "a"))
	_, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Clear(ctx))
	_, ok, err = kv.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}
