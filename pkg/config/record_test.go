package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("s3-archive_01"))
	assert.Error(t, ValidateName("S3 Archive"))
	assert.Error(t, ValidateName(""))
}

func TestLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	defs, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage-defs.yaml")
	defs := map[string]*Record{
		"s3-archive": {
			UniqueID:          "abc-123",
			InterfaceKind:     "s3",
			Container:         "my-bucket*",
			UploadChunkSize:   4 * 1024 * 1024,
			DownloadChunkSize: 4 * 1024 * 1024,
			IsEncryptionUsed:  true,
			PersistIVInObject: true,
			CompressionKind:   "zstd",
			Credentials: map[string]CredentialSlotRecord{
				"data-encryption": {Kind: "actual-secret", Ref: "retrieved from keyring"},
			},
		},
		"local-disk": {
			UniqueID:      "def-456",
			InterfaceKind: "filesystem",
			Container:     "/var/backups",
		},
	}

	require.NoError(t, Save(path, defs))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, loaded, "s3-archive")
	require.Contains(t, loaded, "local-disk")

	s3 := loaded["s3-archive"]
	assert.Equal(t, "s3-archive", s3.Name)
	assert.Equal(t, "abc-123", s3.UniqueID)
	assert.True(t, s3.IsEncryptionUsed)
	assert.Equal(t, "retrieved from keyring", s3.Credentials["data-encryption"].Ref)

	assert.Equal(t, "local-disk", loaded["local-disk"].Name)
	assert.Equal(t, "/var/backups", loaded["local-disk"].Container)
}
