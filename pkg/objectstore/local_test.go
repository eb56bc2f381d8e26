package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreCreateContainerThenExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bucket")
	s := NewLocalStore(root)
	ctx := context.Background()

	exists, err := s.ContainerExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreateContainer(ctx))

	exists, err = s.ContainerExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.CreateContainer(ctx)
	assert.True(t, errors.Is(err, atbuerr.Sentinel(atbuerr.ContainerAlreadyExists)))
}

func TestLocalStorePutGetDeleteObject(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.CreateContainer(ctx))

	require.NoError(t, s.PutObject(ctx, "backups/full-001.atbak", bytes.NewReader([]byte("object bytes")), 4096))

	r, err := s.GetObject(ctx, "backups/full-001.atbak")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, []byte("object bytes"), got)

	require.NoError(t, s.DeleteObject(ctx, "backups/full-001.atbak"))
	_, err = s.GetObject(ctx, "backups/full-001.atbak")
	assert.Error(t, err)

	// Deleting an already-missing object is not an error.
	assert.NoError(t, s.DeleteObject(ctx, "backups/full-001.atbak"))
}

func TestLocalStoreListObjectsFiltersByPrefixAndSorts(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.CreateContainer(ctx))

	for _, name := range []string{"backups/b.atbak", "backups/a.atbak", "history/db.json"} {
		require.NoError(t, s.PutObject(ctx, name, bytes.NewReader([]byte("x")), 4096))
	}

	names, err := s.ListObjects(ctx, "backups/")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/a.atbak", "backups/b.atbak"}, names)
}
