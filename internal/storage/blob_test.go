package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreArchive(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, Config{Backend: "mem", Prefix: "extracts/"})
	require.NoError(t, err)
	defer store.Close()

	ref := testRef()
	data := []byte("PAR1 mem extract PAR1")

	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, exists)

	res, err := Archive(ctx, store, ref, data, testManifest(data))
	require.NoError(t, err)
	assert.Equal(t, "mem://extracts/Rankings/Databases_20240101000000/Databases_20240101000000.parquet", res.ExtractURI)

	exists, err = store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, exists)

	keys, err := store.List(ctx, "extracts/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ref.Path("extracts/"), ref.ManifestPath("extracts/")}, keys)

	bs := store.(*BlobStore)
	got, err := bs.bucket.ReadAll(ctx, ref.Path("extracts/"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	raw, err := bs.bucket.ReadAll(ctx, ref.ManifestPath("extracts/"))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "update_20240101_000000_0a1b2c3d", m.Publish.RequestID)

	info, err := store.Head(ctx, ref.Path("extracts/"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
}

func TestMemStoreAbort(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemStore(ctx, "")
	require.NoError(t, err)
	defer store.Close()

	ref := testRef()
	tmp, err := store.WriteExtractTemp(ctx, ref, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.Abort(ctx, []string{tmp}))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemStoreFinalizeMissingTemp(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemStore(ctx, "")
	require.NoError(t, err)
	defer store.Close()

	ref := testRef()
	tmp, err := store.WriteExtractTemp(ctx, ref, []byte("x"))
	require.NoError(t, err)

	err = store.Finalize(ctx, ref, []string{tmp, "does-not-exist"})
	require.Error(t, err)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "rolled back final keys and removed temps")
}
