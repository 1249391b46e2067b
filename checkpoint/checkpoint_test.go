package checkpoint

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite, BackendBolt, BackendPebble} {
		t.Run(backend, func(t *testing.T) {
			store, err := Open(Config{Backend: backend, Dir: t.TempDir(), Sync: true}, 3)
			require.NoError(t, err)
			defer store.Close()

			key := Key{Loop: "pagerank", Field: "rank", Host: 3}
			_, err = store.Load(key)
			assert.True(t, errors.Is(err, ErrNotFound))

			rec := Record{Key: key, Run: 1, Iteration: 4, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
			require.NoError(t, store.Save(rec))
			got, err := store.Load(key)
			require.NoError(t, err)
			assert.Equal(t, rec.Data, got.Data)
			assert.Equal(t, key, got.Key)
			if backend != BackendFile {
				assert.Equal(t, uint32(1), got.Run)
				assert.Equal(t, uint32(4), got.Iteration)
			}

			rec.Data = []byte{9}
			rec.Iteration = 5
			require.NoError(t, store.Save(rec))
			got, err = store.Load(key)
			require.NoError(t, err)
			assert.Equal(t, []byte{9}, got.Data)

			other := Key{Loop: "pagerank", Field: "rank", Host: 4}
			_, err = store.Load(other)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, false)
	key := Key{Loop: "bfs", Field: "dist", Host: 0}
	require.NoError(t, store.Save(Record{Key: key, Data: []byte{0xaa, 0xbb}}))

	data, err := os.ReadFile(dir + "/Checkpoint_bfs_dist_0")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, data)
}

func TestSQLiteReset(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir(), 0, false)
	require.NoError(t, err)
	defer store.Close()

	key := Key{Loop: "cc", Field: "label", Host: 0}
	require.NoError(t, store.Save(Record{Key: key, Data: []byte{1}}))
	require.NoError(t, store.Reset())
	_, err = store.Load(key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "tape", Dir: t.TempDir()}, 0)
	assert.Error(t, err)
}
