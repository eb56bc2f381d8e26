package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/classifier"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/atbu-go/atbu/pkg/storagedef"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newLocalStorageDef(t *testing.T, containerDir string) *storagedef.StorageDefinition {
	t.Helper()
	return &storagedef.StorageDefinition{
		Name:              "nightly",
		InterfaceKind:     storagedef.LocalFilesystem,
		ContainerName:     containerDir,
		UploadChunkSize:   4096,
		DownloadChunkSize: 4096,
		IsEncryptionUsed:  false,
		CompressionKind:   "",
	}
}

func TestBackupDriverRunUploadsNewFiles(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.txt"), []byte("hello world"), 0600)) // duplicate content of a.txt

	sd := newLocalStorageDef(t, containerDir)
	store := objectstore.NewLocalStore(containerDir)
	db := backupdb.New(sd.Name)

	drv := &BackupDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}

	summary, err := drv.Run(context.Background(), BackupOptions{
		BaseName:    sd.Name,
		BackupType:  classifier.Full,
		Dedup:       classifier.DedupDigest,
		SourceRoots: []string{srcDir},
		MaxInFlight: 4,
	})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 1, summary.Duplicated)
	require.Equal(t, ExitClean, summary.ExitCode())

	sb, ok := db.Latest()
	require.True(t, ok)
	require.Len(t, sb.FileRecords, 2)
}

func TestBackupDriverDryRunSkipsStorage(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("dry run content"), 0600))

	sd := newLocalStorageDef(t, containerDir)
	store := objectstore.NewLocalStore(containerDir)
	db := backupdb.New(sd.Name)

	drv := &BackupDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}

	summary, err := drv.Run(context.Background(), BackupOptions{
		BaseName:    sd.Name,
		BackupType:  classifier.Full,
		Dedup:       classifier.DedupDigest,
		SourceRoots: []string{srcDir},
		MaxInFlight: 4,
		DryRun:      true,
	})
	require.NoError(t, err)
	require.Equal(t, ExitDryRunClean, summary.ExitCode())

	_, ok := db.Latest()
	require.False(t, ok, "dry run must not append to the database")

	entries, err := os.ReadDir(containerDir)
	require.NoError(t, err)
	require.Empty(t, entries, "dry run must not touch the container")
}
