package datastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosynchro/synchro/internal/synerr"
)

func TestGetMissingKeyFails(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "nope")
	require.ErrorIs(t, err, synerr.ErrNotFound)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set(context.Background(), "k", "v"))

	v, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestProducerFuncIsInvokedOnEachGet(t *testing.T) {
	m := NewMemory()
	calls := 0
	require.NoError(t, m.Set(context.Background(), "k", ProducerFunc(func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	})))

	v1, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	v2, err := m.Get(context.Background(), "k")
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestSetOverwritesPreviousValue(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set(context.Background(), "k", "v1"))
	require.NoError(t, m.Set(context.Background(), "k", "v2"))

	v, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestFileStoreSameInstanceRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	fs := NewFileStore(path)
	require.NoError(t, fs.Set(context.Background(), "k", "v"))

	v, err := fs.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestFileStoreResolvesProducerFuncBeforePersisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	writer := NewFileStore(path)
	calls := 0
	require.NoError(t, writer.Set(context.Background(), "k", ProducerFunc(func(ctx context.Context) (any, error) {
		calls++
		return "snapshot-1", nil
	})))
	assert.Equal(t, 1, calls)

	reader := NewFileStore(path)
	v, err := reader.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-1", v)
}

func TestFileStoreSecondInstanceSeesFirstsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	writer := NewFileStore(path)
	require.NoError(t, writer.Set(context.Background(), "a", "1"))
	require.NoError(t, writer.Set(context.Background(), "b", "2"))

	reader := NewFileStore(path)
	v, err := reader.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = reader.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestFileStoreMissingKeyOnDiskFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	reader := NewFileStore(path)
	_, err := reader.Get(context.Background(), "nope")
	require.ErrorIs(t, err, synerr.ErrNotFound)
}
