package filestore

import (
	"testing"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissing(t *testing.T) {

	store := NewCOPBlobStore(afero.NewMemMapFs(), "/data", "heatpump")

	data, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSaveAndLoad(t *testing.T) {

	fsys := afero.NewOsFs()
	dir := t.TempDir()
	store := NewCOPBlobStore(fsys, dir, "heatpump")

	require.NoError(t, store.Save([]byte(`{"version":1}`)))
	require.NoError(t, store.Save([]byte(`{"version":2}`)))

	data, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(data))

	// no temporary files are left behind
	entries, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cop_heatpump.json", entries[0].Name())
}

func TestSaveCreatesDirectory(t *testing.T) {

	fsys := afero.NewMemMapFs()
	store := NewBlobStore(fsys, "/var/lib/heatpump/state", "blob")

	require.NoError(t, store.Save([]byte("x")))

	exists, err := afero.Exists(fsys, "/var/lib/heatpump/state/blob.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSaveReadOnly(t *testing.T) {

	store := NewBlobStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/data", "blob")

	err := store.Save([]byte("x"))
	assert.ErrorIs(t, err, domain.ErrPersistence)
}
