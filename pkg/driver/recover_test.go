package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/classifier"
	"github.com/atbu-go/atbu/pkg/compress"
	"github.com/atbu-go/atbu/pkg/crypto"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRecoverDriverPicksNewestDatabaseSnapshot(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	scratchDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.txt"), []byte("v1"), 0600))

	sd := newLocalStorageDef(t, containerDir)
	store := objectstore.NewLocalStore(containerDir)
	db := backupdb.New(sd.Name)

	opt := BackupOptions{
		BaseName:    sd.Name,
		BackupType:  classifier.Full,
		Dedup:       classifier.DedupDigest,
		SourceRoots: []string{srcDir},
		MaxInFlight: 4,
	}

	drv := &BackupDriver{StorageDef: sd, Store: store, DB: db, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	_, err := drv.Run(context.Background(), opt)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.txt"), []byte("v2, a longer revision"), 0600))
	_, err = drv.Run(context.Background(), opt)
	require.NoError(t, err)

	recDrv := &RecoverDriver{StorageDef: sd, Store: store, BaseName: sd.Name, Logger: zerolog.Nop(), Retry: DefaultRetryPolicy}
	latestPath, err := recDrv.Run(context.Background(), RecoverOptions{ScratchDir: scratchDir})
	require.NoError(t, err)

	raw, err := os.ReadFile(latestPath)
	require.NoError(t, err)

	preamble, offset, err := crypto.Decode(raw)
	require.NoError(t, err)
	plaintext, err := compress.Decompress(compress.Kind(preamble.CompressionKind), raw[offset:])
	require.NoError(t, err)

	recovered, err := backupdb.Load(plaintext)
	require.NoError(t, err)
	sb, ok := recovered.Latest()
	require.True(t, ok)
	require.Len(t, sb.FileRecords, 1)
}
