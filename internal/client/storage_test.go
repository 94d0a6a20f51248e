package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/isdelr/ender-auth/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

func TestSQLiteStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	db, err := database.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	storage, err := NewSQLiteStorage(ctx, db)
	require.NoError(t, err)

	token, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, storage.Save(ctx, "first"))
	require.NoError(t, storage.Save(ctx, "second"))

	// Reopen to check durability.
	again, err := NewSQLiteStorage(ctx, db)
	require.NoError(t, err)
	token, err = again.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", token)

	require.NoError(t, storage.Clear(ctx))
	token, err = storage.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	m := &MemoryStorage{}
	require.NoError(t, m.Save(ctx, "tok"))
	got, _ := m.Load(ctx)
	assert.Equal(t, "tok", got)
	require.NoError(t, m.Clear(ctx))
	got, _ = m.Load(ctx)
	assert.Empty(t, got)
}
