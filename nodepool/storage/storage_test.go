package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodesync/internal/shared/types"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	list := "[\n  {\n    \"host\": \"a.com\",\n    \"uuid\": \"x\"\n  }\n]"
	require.NoError(t, s.Put(ctx, "NODE_CONFIG_LIST", list))
	require.NoError(t, s.Put(ctx, "node_index", "0"))

	got, err := s.Get(ctx, "NODE_CONFIG_LIST")
	require.NoError(t, err)
	assert.Equal(t, list, got)

	require.NoError(t, s.Put(ctx, "node_index", "7"))
	got, err = s.Get(ctx, "node_index")
	require.NoError(t, err)
	assert.Equal(t, "7", got)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, []string{"NODE_CONFIG_LIST", "node_index", "node_index"}, s.Writes())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put(context.Background(), "k", "v"), ErrClosed)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "nodes.kv")
	exerciseStore(t, NewFileStore(path))

	// A fresh instance sees the same data.
	reopened := NewFileStore(path)
	got, err := reopened.Get(context.Background(), "node_index")
	require.NoError(t, err)
	assert.Equal(t, "7", got)
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.kv")
	require.NoError(t, os.WriteFile(path, []byte("no-delimiter\nbad|***\nnode_index|MA==\n"), 0644))

	got, err := NewFileStore(path).Get(context.Background(), "node_index")
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestFileStore_RejectsDelimiterInKey(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nodes.kv"))
	assert.Error(t, s.Put(context.Background(), "a|b", "v"))
}

func TestBadgerStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "node_index")
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewBadgerStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Get(context.Background(), "node_index")
	require.NoError(t, err)
	assert.Equal(t, "7", got)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("NODESYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("NODESYNC_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Put(ctx, "node_index", "3"))
	got, err := s.Get(ctx, "node_index")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, types.StoreConf{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, types.StoreConf{Backend: "file", Path: filepath.Join(t.TempDir(), "f.kv")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, types.StoreConf{Backend: "redis"})
	assert.Error(t, err)

	_, err = Open(ctx, types.StoreConf{Backend: "postgres"})
	assert.Error(t, err)
}
