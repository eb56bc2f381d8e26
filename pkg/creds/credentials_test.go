package creds

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/atbu-go/atbu/pkg/vault"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memVault is a minimal in-memory vault.Vault for exercising CredentialSet
// without a real bbolt file.
type memVault struct {
	data map[string][]byte
}

func newMemVault() *memVault { return &memVault{data: map[string][]byte{}} }

func key(service, username string) string { return service + "\x00" + username }

func (m *memVault) Get(_ context.Context, service, username string) ([]byte, error) {
	v, ok := m.data[key(service, username)]
	if !ok {
		return nil, vault.ErrNotFound
	}
	return v, nil
}

func (m *memVault) Set(_ context.Context, service, username string, secret []byte) error {
	m.data[key(service, username)] = secret
	return nil
}

func (m *memVault) Delete(_ context.Context, service, username string) error {
	delete(m.data, key(service, username))
	return nil
}

func (m *memVault) Close() error { return nil }

func TestCredentialSetPopulateActualSecret(t *testing.T) {
	cs := New("my-def", newMemVault(), zerolog.Nop())
	err := cs.Populate(context.Background(), []SlotSpec{
		{Name: DataEncryption, Kind: ActualSecret, Ref: base64.StdEncoding.EncodeToString([]byte("raw-key-bytes"))},
	})
	require.NoError(t, err)

	key, err := cs.DataEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-key-bytes"), key)
}

func TestCredentialSetVaultIndirection(t *testing.T) {
	v := newMemVault()
	require.NoError(t, v.Set(context.Background(), "my-def", "data-encryption", []byte("vaulted-key")))

	cs := New("my-def", v, zerolog.Nop())
	err := cs.Populate(context.Background(), []SlotSpec{
		{Name: DataEncryption, Kind: ActualSecret, Ref: IndirectionMarker},
	})
	require.NoError(t, err)

	key, err := cs.DataEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("vaulted-key"), key)
}

func TestCredentialSetProtectUnprotectRoundTrip(t *testing.T) {
	cs := New("my-def", newMemVault(), zerolog.Nop())
	cs.SetSlot(DataEncryption, ActualSecret, []byte("a 32 byte data encryption key!!!"))

	require.NoError(t, cs.Protect("correct horse battery staple"))

	// The key is wrapped now; reading it before Unprotect fails.
	_, err := cs.DataEncryptionKey()
	assert.Error(t, err)

	require.NoError(t, cs.Unprotect("correct horse battery staple"))
	key, err := cs.DataEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("a 32 byte data encryption key!!!"), key)
}

func TestCredentialSetUnprotectWrongPasswordFails(t *testing.T) {
	cs := New("my-def", newMemVault(), zerolog.Nop())
	cs.SetSlot(DataEncryption, ActualSecret, []byte("a 32 byte data encryption key!!!"))
	require.NoError(t, cs.Protect("right-password"))

	err := cs.Unprotect("wrong-password")
	assert.Error(t, err)
}

func TestCredentialSetExportImportRoundTrip(t *testing.T) {
	v := newMemVault()
	cs := New("my-def", v, zerolog.Nop())
	cs.SetSlot(DataEncryption, ActualSecret, []byte("exported-key"))

	material, err := cs.Export()
	require.NoError(t, err)

	imported := Import("my-def", v, zerolog.Nop(), material)
	key, err := imported.DataEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("exported-key"), key)
}

func TestCredentialSetSavePushesToVault(t *testing.T) {
	v := newMemVault()
	cs := New("my-def", v, zerolog.Nop())
	cs.SetSlot(DataEncryption, ActualSecret, []byte("pushed-key"))

	slots, err := cs.Save(context.Background(), map[CredentialName]bool{DataEncryption: true})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.True(t, slots[0].Indirect)

	stored, err := v.Get(context.Background(), "my-def", string(DataEncryption))
	require.NoError(t, err)
	assert.Equal(t, []byte("pushed-key"), stored)
}
