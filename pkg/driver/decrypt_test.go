package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDecryptDriverUnencryptedObjects(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "report.txt"), []byte("quarterly numbers"), 0600))

	seedBackup(t, srcDir, containerDir) // unencrypted storage definition by default

	decDrv := &DecryptDriver{Logger: zerolog.Nop()}
	summary, err := decDrv.Run(DecryptOptions{SourceDir: containerDir, DestDir: destDir})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Failed)
	// report.txt's object plus the two history-database objects (snapshot
	// and latest pointer), which carry the same .atbak extension.
	require.Equal(t, 3, summary.Verified)

	out, err := os.ReadFile(filepath.Join(destDir, "report.txt"))
	require.NoError(t, err)
	require.Equal(t, "quarterly numbers", string(out))
}
