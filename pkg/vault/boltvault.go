package vault

import (
	"context"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketSecrets = []byte("secrets")

// BoltVault implements Vault on top of a single bbolt database file,
// following the bucket layout of the teacher's cluster store: one bucket
// of raw secret bytes, keyed by "service\x00username".
type BoltVault struct {
	db *bolt.DB
}

// NewBoltVault opens (creating if necessary) a bbolt-backed vault rooted at
// dataDir/vault.db.
func NewBoltVault(dataDir string) (*BoltVault, error) {
	dbPath := filepath.Join(dataDir, "vault.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSecrets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltVault{db: db}, nil
}

func vaultKey(service, username string) []byte {
	return []byte(service + "\x00" + username)
}

// Get returns the secret stored for (service, username), or ErrNotFound.
func (v *BoltVault) Get(_ context.Context, service, username string) ([]byte, error) {
	var secret []byte
	err := v.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		data := b.Get(vaultKey(service, username))
		if data == nil {
			return ErrNotFound
		}
		secret = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// Set stores (or overwrites) the secret for (service, username).
func (v *BoltVault) Set(_ context.Context, service, username string, secret []byte) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		return b.Put(vaultKey(service, username), secret)
	})
}

// Delete removes the secret for (service, username), if any.
func (v *BoltVault) Delete(_ context.Context, service, username string) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		return b.Delete(vaultKey(service, username))
	})
}

// Close releases the underlying bbolt file handle.
func (v *BoltVault) Close() error {
	return v.db.Close()
}
