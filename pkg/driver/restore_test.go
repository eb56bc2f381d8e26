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

// seedBackup runs one real backup so restore/verify tests have a
// populated database and container to exercise.
func seedBackup(t *testing.T, srcDir, containerDir string) (*backupdb.Database, *storagedef.StorageDefinition) {
	t.Helper()
	sd := newLocalStorageDef(t, containerDir)
	store := objectstore.NewLocalStore(containerDir)
	db := backupdb.New(sd.Name)

	drv := &BackupDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	_, err := drv.Run(context.Background(), BackupOptions{
		BaseName:    sd.Name,
		BackupType:  classifier.Full,
		Dedup:       classifier.DedupDigest,
		SourceRoots: []string{srcDir},
		MaxInFlight: 4,
	})
	require.NoError(t, err)
	return db, sd
}

func TestRestoreDriverRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notes.txt"), []byte("restore me please"), 0600))

	db, sd := seedBackup(t, srcDir, containerDir)
	store := objectstore.NewLocalStore(containerDir)

	drv := &RestoreDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	summary, err := drv.Run(context.Background(), RestoreOptions{
		Mode:            ModeRestore,
		DestRoot:        destDir,
		Selections:      []Selection{{BackupTag: "last"}},
		AutoPathMapping: true,
	})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 1, summary.Verified)

	restored, err := os.ReadFile(filepath.Join(destDir, "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "restore me please", string(restored))
}

func TestRestoreDriverVerifyCompareDetectsMismatch(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notes.txt"), []byte("original content"), 0600))

	db, sd := seedBackup(t, srcDir, containerDir)
	store := objectstore.NewLocalStore(containerDir)

	// Mutate the local file after the backup so verify+compare must fail.
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notes.txt"), []byte("tampered content"), 0600))

	drv := &RestoreDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	summary, err := drv.Verify(context.Background(), VerifyOptions{
		Selections: []Selection{{BackupTag: "last"}},
		Compare:    true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
}

func TestRestoreDriverRoundTripWithCompression(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	destDir := t.TempDir()
	// Repetitive content so flate actually shrinks it: the compressed
	// object on disk is smaller than the plaintext, which is exactly the
	// case that would defeat a plaintext-size assertion computed from the
	// compressed length instead of the true original length.
	content := []byte("compress me compress me compress me compress me compress me ")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notes.txt"), content, 0600))

	sd := newLocalStorageDef(t, containerDir)
	sd.CompressionKind = "zstd"
	store := objectstore.NewLocalStore(containerDir)
	db := backupdb.New(sd.Name)

	drv := &BackupDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	_, err := drv.Run(context.Background(), BackupOptions{
		BaseName:    sd.Name,
		BackupType:  classifier.Full,
		Dedup:       classifier.DedupDigest,
		SourceRoots: []string{srcDir},
		MaxInFlight: 4,
	})
	require.NoError(t, err)

	restoreDrv := &RestoreDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	summary, err := restoreDrv.Run(context.Background(), RestoreOptions{
		Mode:            ModeRestore,
		DestRoot:        destDir,
		Selections:      []Selection{{BackupTag: "last"}},
		AutoPathMapping: true,
	})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 1, summary.Verified)

	restored, err := os.ReadFile(filepath.Join(destDir, "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, content, restored)
}

func TestRestoreDriverFilesGlobFilters(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "keep.txt"), []byte("keep"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "skip.log"), []byte("skip"), 0600))

	db, sd := seedBackup(t, srcDir, containerDir)
	store := objectstore.NewLocalStore(containerDir)

	drv := &RestoreDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	summary, err := drv.Run(context.Background(), RestoreOptions{
		Mode:            ModeRestore,
		DestRoot:        destDir,
		Selections:      []Selection{{BackupTag: "last", FilesGlob: "*.txt"}},
		AutoPathMapping: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Verified)

	_, err = os.Stat(filepath.Join(destDir, "keep.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(destDir, "skip.log"))
	require.True(t, os.IsNotExist(err))
}
