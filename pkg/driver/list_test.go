package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListBackupsReportsStorageDefAndFiles(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("a"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.txt"), []byte("b"), 0600))

	db, sd := seedBackup(t, srcDir, containerDir)

	result := ListBackups(sd, db, ListOptions{})
	require.Equal(t, sd.Name, result.StorageDef)
	require.Len(t, result.Backups, 1)
	require.Len(t, result.Backups[0].Files, 2)

	rendered := result.String()
	require.True(t, strings.Contains(rendered, result.Backups[0].Name))
	require.True(t, strings.Contains(rendered, "a.txt"))
	require.True(t, strings.Contains(rendered, "b.txt"))
}

func TestListBackupsFiltersByTag(t *testing.T) {
	srcDir := t.TempDir()
	containerDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("a"), 0600))

	db, sd := seedBackup(t, srcDir, containerDir)
	result := ListBackups(sd, db, ListOptions{BackupTags: []string{"does-not-exist"}})
	require.Empty(t, result.Backups)
}
