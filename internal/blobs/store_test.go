package blobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

func TestStoreAddGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello blob store")
	desc, err := store.Add(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), desc.Size)
	assert.True(t, store.Has(desc.Hash))

	got, err := store.Get(desc.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreAddIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("same bytes")
	first, err := store.Add(data)
	require.NoError(t, err)
	second, err := store.Add(data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStoreDistinctContentDistinctHash(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a, err := store.Add([]byte("content a"))
	require.NoError(t, err)
	b, err := store.Add([]byte("content b"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestStoreGetMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var missing protocol.Hash
	copy(missing[:], "nope")

	assert.False(t, store.Has(missing))
	_, err = store.Get(missing)
	assert.Error(t, err)
}

func TestStoreEmptyBlob(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	desc, err := store.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), desc.Size)

	got, err := store.Get(desc.Hash)
	require.NoError(t, err)
	assert.Empty(t, got)
}
