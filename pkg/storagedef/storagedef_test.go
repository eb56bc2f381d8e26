package storagedef

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atbu-go/atbu/pkg/config"
	"github.com/atbu-go/atbu/pkg/creds"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord(name, container string) *config.Record {
	return &config.Record{
		Name:              name,
		UniqueID:          "unique-id",
		InterfaceKind:     string(LocalFilesystem),
		Container:         container,
		UploadChunkSize:   4096,
		DownloadChunkSize: 4096,
		CompressionKind:   "zstd",
	}
}

func TestFromRecordRejectsUnknownInterfaceKind(t *testing.T) {
	rec := validRecord("my-def", "/tmp/x")
	rec.InterfaceKind = "carrier-pigeon"
	_, err := FromRecord(rec, creds.New("my-def", nil, zerolog.Nop()))
	assert.Error(t, err)
}

func TestFromRecordRejectsNonPositiveChunkSize(t *testing.T) {
	rec := validRecord("my-def", "/tmp/x")
	rec.UploadChunkSize = 0
	_, err := FromRecord(rec, creds.New("my-def", nil, zerolog.Nop()))
	assert.Error(t, err)
}

func TestFromRecordRejectsInvalidName(t *testing.T) {
	rec := validRecord("Not A Valid Name", "/tmp/x")
	_, err := FromRecord(rec, creds.New("my-def", nil, zerolog.Nop()))
	assert.Error(t, err)
}

func TestResolveContainerFixedNameCreatesOnce(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bucket")
	rec := validRecord("my-def", root)
	sd, err := FromRecord(rec, creds.New("my-def", nil, zerolog.Nop()))
	require.NoError(t, err)

	name, store, err := sd.ResolveContainer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, root, name)
	require.NotNil(t, store)

	exists, err := store.ContainerExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestResolveContainerTrailingAsteriskAutoCreates(t *testing.T) {
	base := t.TempDir()
	rec := validRecord("my-def", filepath.Join(base, "auto-")+"*")
	sd, err := FromRecord(rec, creds.New("my-def", nil, zerolog.Nop()))
	require.NoError(t, err)

	name, store, err := sd.ResolveContainer(context.Background())
	require.NoError(t, err)
	assert.Contains(t, name, filepath.Join(base, "auto-"))

	exists, err := store.ContainerExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
}
