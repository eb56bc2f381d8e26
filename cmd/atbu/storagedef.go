package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/config"
	"github.com/atbu-go/atbu/pkg/creds"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/atbu-go/atbu/pkg/objectstore"
	"github.com/atbu-go/atbu/pkg/storagedef"
	"github.com/atbu-go/atbu/pkg/vault"
	"github.com/spf13/cobra"
)

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}

func vaultDir(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("vault-dir")
	return p
}

func dbDir(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("db-dir")
	return p
}

func loadRecord(cmd *cobra.Command, name string) (*config.Record, error) {
	defs, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	rec, ok := defs[name]
	if !ok {
		return nil, atbuerr.New(atbuerr.StorageDefNotFound, fmt.Sprintf("no storage definition named %q", name))
	}
	return rec, nil
}

func openVault(cmd *cobra.Command) (*vault.BoltVault, error) {
	dir := vaultDir(cmd)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return vault.NewBoltVault(dir)
}

// credentialSetFor populates a CredentialSet from rec's persisted slots and
// unprotects the data-encryption key with password (a no-op if the key was
// never password-protected). The caller owns closing v.
func credentialSetFor(ctx context.Context, rec *config.Record, v vault.Vault, password string) (*creds.CredentialSet, error) {
	cs := creds.New(rec.Name, v, log.WithStorageDef(rec.Name))
	slots := make([]creds.SlotSpec, 0, len(rec.Credentials))
	for name, slotRec := range rec.Credentials {
		slots = append(slots, creds.SlotSpec{
			Name: creds.CredentialName(name),
			Kind: creds.Kind(slotRec.Kind),
			Ref:  slotRec.Ref,
		})
	}
	if err := cs.Populate(ctx, slots); err != nil {
		return nil, err
	}
	if err := cs.Unprotect(password); err != nil {
		return nil, err
	}
	return cs, nil
}

// openStorageDef resolves the named storage definition into a ready-to-use
// StorageDefinition and object-store client. The returned vault must be
// closed by the caller once the command is done with the credential set.
func openStorageDef(ctx context.Context, cmd *cobra.Command, name, password string) (*storagedef.StorageDefinition, objectstore.Interface, *vault.BoltVault, error) {
	rec, err := loadRecord(cmd, name)
	if err != nil {
		return nil, nil, nil, err
	}
	v, err := openVault(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	cs, err := credentialSetFor(ctx, rec, v, password)
	if err != nil {
		v.Close()
		return nil, nil, nil, err
	}
	sd, err := storagedef.FromRecord(rec, cs)
	if err != nil {
		v.Close()
		return nil, nil, nil, err
	}
	store, err := sd.CreateStorageInterface()
	if err != nil {
		v.Close()
		return nil, nil, nil, err
	}
	return sd, store, v, nil
}

func localDBPath(cmd *cobra.Command, name string) string {
	return filepath.Join(dbDir(cmd), name+".json")
}

// loadLocalDB reads the cached plaintext history database for name,
// returning a fresh empty database if no cache exists yet (first backup,
// or after a recovery that hasn't been folded back in).
func loadLocalDB(cmd *cobra.Command, name string) (*backupdb.Database, error) {
	data, err := os.ReadFile(localDBPath(cmd, name))
	if os.IsNotExist(err) {
		return backupdb.New(name), nil
	}
	if err != nil {
		return nil, err
	}
	return backupdb.Load(data)
}

func saveLocalDB(cmd *cobra.Command, name string, db *backupdb.Database) error {
	if err := os.MkdirAll(dbDir(cmd), 0700); err != nil {
		return err
	}
	data, err := db.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(localDBPath(cmd, name), data, 0600)
}
