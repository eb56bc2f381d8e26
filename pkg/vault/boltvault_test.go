package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltVaultSetGetDelete(t *testing.T) {
	v, err := NewBoltVault(t.TempDir())
	require.NoError(t, err)
	defer v.Close()

	ctx := context.Background()
	require.NoError(t, v.Set(ctx, "s3-archive", "data-encryption", []byte("top secret key material")))

	got, err := v.Get(ctx, "s3-archive", "data-encryption")
	require.NoError(t, err)
	assert.Equal(t, []byte("top secret key material"), got)

	require.NoError(t, v.Delete(ctx, "s3-archive", "data-encryption"))
	_, err = v.Get(ctx, "s3-archive", "data-encryption")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltVaultGetMissingReturnsErrNotFound(t *testing.T) {
	v, err := NewBoltVault(t.TempDir())
	require.NoError(t, err)
	defer v.Close()

	_, err = v.Get(context.Background(), "never-created", "storage-access")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltVaultKeysAreScopedByServiceAndUsername(t *testing.T) {
	v, err := NewBoltVault(t.TempDir())
	require.NoError(t, err)
	defer v.Close()

	ctx := context.Background()
	require.NoError(t, v.Set(ctx, "def-a", "data-encryption", []byte("key-a")))
	require.NoError(t, v.Set(ctx, "def-b", "data-encryption", []byte("key-b")))

	a, err := v.Get(ctx, "def-a", "data-encryption")
	require.NoError(t, err)
	b, err := v.Get(ctx, "def-b", "data-encryption")
	require.NoError(t, err)
	assert.Equal(t, []byte("key-a"), a)
	assert.Equal(t, []byte("key-b"), b)
}
