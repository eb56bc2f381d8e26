package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/config"
	"github.com/atbu-go/atbu/pkg/creds"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/atbu-go/atbu/pkg/storagedef"
	"github.com/spf13/cobra"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage storage-definition credentials",
}

func init() {
	credsCmd.AddCommand(createStorageDefCmd)
	credsCmd.AddCommand(deleteStorageDefCmd)
	credsCmd.AddCommand(exportStorageDefCmd)
	credsCmd.AddCommand(importStorageDefCmd)
	credsCmd.AddCommand(setPasswordStorageDefCmd)
}

// saveSlotsToRecord pushes every credential in cs to the vault and
// converts the resulting indirection/plaintext slots into the persisted
// record shape (spec.md §4.3 "writes indirection markers ... and pushes
// material to the credential vault").
func saveSlotsToRecord(ctx context.Context, cs *creds.CredentialSet) (map[string]config.CredentialSlotRecord, error) {
	toVault := map[creds.CredentialName]bool{creds.StorageAccess: true, creds.DataEncryption: true}
	slots, err := cs.Save(ctx, toVault)
	if err != nil {
		return nil, err
	}
	out := make(map[string]config.CredentialSlotRecord, len(slots))
	for _, s := range slots {
		rec := config.CredentialSlotRecord{Kind: string(creds.ActualSecret)}
		if s.Indirect {
			rec.Ref = creds.IndirectionMarker
		} else {
			rec.Ref = s.Plaintext
		}
		out[string(s.Name)] = rec
	}
	return out, nil
}

var createStorageDefCmd = &cobra.Command{
	Use:   "create-storage-def NAME",
	Short: "Provision a new storage definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := config.ValidateName(name); err != nil {
			return err
		}

		interfaceKind, _ := cmd.Flags().GetString("interface")
		provider, _ := cmd.Flags().GetString("provider")
		container, _ := cmd.Flags().GetString("container")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		persistIV, _ := cmd.Flags().GetBool("persist-iv")
		compressionKind, _ := cmd.Flags().GetString("compression")
		uploadChunk, _ := cmd.Flags().GetInt("upload-chunk-size")
		downloadChunk, _ := cmd.Flags().GetInt("download-chunk-size")
		password, _ := cmd.Flags().GetString("password")

		if container == "" {
			return fmt.Errorf("--container is required")
		}

		ctx := cmd.Context()
		v, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		cs := creds.New(name, v, log.WithStorageDef(name))
		if encrypt {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			cs.SetSlot(creds.DataEncryption, creds.ActualSecret, key)
			if password != "" {
				if err := cs.Protect(password); err != nil {
					return err
				}
			}
		}

		credRecs, err := saveSlotsToRecord(ctx, cs)
		if err != nil {
			return err
		}

		rec := &config.Record{
			Name:              name,
			UniqueID:          storagedef.NewUniqueID(),
			InterfaceKind:     interfaceKind,
			ProviderID:        provider,
			Container:         container,
			UploadChunkSize:   uploadChunk,
			DownloadChunkSize: downloadChunk,
			IsEncryptionUsed:  encrypt,
			PersistIVInObject: persistIV,
			CompressionKind:   compressionKind,
			Credentials:       credRecs,
		}

		sd, err := storagedef.FromRecord(rec, cs)
		if err != nil {
			return err
		}
		resolvedContainer, _, err := sd.ResolveContainer(ctx)
		if err != nil {
			return err
		}
		rec.Container = resolvedContainer

		defs, err := config.Load(configPath(cmd))
		if err != nil {
			return err
		}
		defs[name] = rec
		if err := config.Save(configPath(cmd), defs); err != nil {
			return err
		}

		fmt.Printf("storage definition %q created (container %q)\n", name, resolvedContainer)
		return nil
	},
}

var deleteStorageDefCmd = &cobra.Command{
	Use:   "delete-storage-def NAME",
	Short: "Remove a storage definition and its vault-held credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		ctx := cmd.Context()

		defs, err := config.Load(configPath(cmd))
		if err != nil {
			return err
		}
		if _, ok := defs[name]; !ok {
			return atbuerr.New(atbuerr.StorageDefNotFound, name)
		}

		v, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		for _, cred := range []creds.CredentialName{creds.StorageAccess, creds.DataEncryption} {
			if err := v.Delete(ctx, name, string(cred)); err != nil {
				log.WithStorageDef(name).Warn().Err(err).Str("credential", string(cred)).Msg("failed to delete vault credential")
			}
		}

		delete(defs, name)
		if err := config.Save(configPath(cmd), defs); err != nil {
			return err
		}
		fmt.Printf("storage definition %q deleted\n", name)
		return nil
	},
}

var exportStorageDefCmd = &cobra.Command{
	Use:   "export-storage-def NAME",
	Short: "Write a storage definition's plaintext credentials to a file for offline backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		out, _ := cmd.Flags().GetString("out")
		password, _ := cmd.Flags().GetString("password")
		if out == "" {
			return fmt.Errorf("--out is required")
		}

		ctx := cmd.Context()
		rec, err := loadRecord(cmd, name)
		if err != nil {
			return err
		}
		v, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		cs, err := credentialSetFor(ctx, rec, v, password)
		if err != nil {
			return err
		}

		material, err := cs.Export()
		if err != nil {
			return err
		}
		encoded := make(map[string]string, len(material))
		for k, m := range material {
			encoded[string(k)] = base64.StdEncoding.EncodeToString(m)
		}
		data, err := json.MarshalIndent(encoded, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return err
		}
		fmt.Printf("exported credentials for %q to %s\n", name, out)
		return nil
	},
}

var importStorageDefCmd = &cobra.Command{
	Use:   "import-storage-def NAME",
	Short: "Re-indirect a storage definition's credentials from a file produced by export-storage-def",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		in, _ := cmd.Flags().GetString("in")
		interfaceKind, _ := cmd.Flags().GetString("interface")
		provider, _ := cmd.Flags().GetString("provider")
		container, _ := cmd.Flags().GetString("container")
		persistIV, _ := cmd.Flags().GetBool("persist-iv")
		compressionKind, _ := cmd.Flags().GetString("compression")
		uploadChunk, _ := cmd.Flags().GetInt("upload-chunk-size")
		downloadChunk, _ := cmd.Flags().GetInt("download-chunk-size")
		if in == "" || container == "" {
			return fmt.Errorf("--in and --container are required")
		}

		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		var encoded map[string]string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return atbuerr.Wrap(atbuerr.ConfigInvalid, "parsing import file", err)
		}
		material := make(map[creds.CredentialName][]byte, len(encoded))
		for k, v := range encoded {
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return atbuerr.Wrap(atbuerr.ConfigInvalid, "decoding imported credential "+k, err)
			}
			material[creds.CredentialName(k)] = raw
		}

		ctx := cmd.Context()
		v, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		cs := creds.Import(name, v, log.WithStorageDef(name), material)
		credRecs, err := saveSlotsToRecord(ctx, cs)
		if err != nil {
			return err
		}

		_, isEncrypted := material[creds.DataEncryption]
		rec := &config.Record{
			Name:              name,
			UniqueID:          storagedef.NewUniqueID(),
			InterfaceKind:     interfaceKind,
			ProviderID:        provider,
			Container:         container,
			UploadChunkSize:   uploadChunk,
			DownloadChunkSize: downloadChunk,
			IsEncryptionUsed:  isEncrypted,
			PersistIVInObject: persistIV,
			CompressionKind:   compressionKind,
			Credentials:       credRecs,
		}

		defs, err := config.Load(configPath(cmd))
		if err != nil {
			return err
		}
		defs[name] = rec
		if err := config.Save(configPath(cmd), defs); err != nil {
			return err
		}
		fmt.Printf("storage definition %q imported\n", name)
		return nil
	},
}

var setPasswordStorageDefCmd = &cobra.Command{
	Use:   "set-password-storage-def NAME",
	Short: "Change (or add/remove) the password protecting a storage definition's data-encryption key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		oldPassword, _ := cmd.Flags().GetString("old-password")
		newPassword, _ := cmd.Flags().GetString("new-password")

		ctx := cmd.Context()
		rec, err := loadRecord(cmd, name)
		if err != nil {
			return err
		}
		v, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		cs, err := credentialSetFor(ctx, rec, v, oldPassword)
		if err != nil {
			return err
		}
		if err := cs.Protect(newPassword); err != nil {
			return err
		}

		credRecs, err := saveSlotsToRecord(ctx, cs)
		if err != nil {
			return err
		}
		rec.Credentials = credRecs

		defs, err := config.Load(configPath(cmd))
		if err != nil {
			return err
		}
		defs[name] = rec
		if err := config.Save(configPath(cmd), defs); err != nil {
			return err
		}
		fmt.Printf("password updated for %q\n", name)
		return nil
	},
}

func init() {
	createStorageDefCmd.Flags().String("interface", string(storagedef.LocalFilesystem), "interface kind: local-filesystem, libcloud-like, provider-native")
	createStorageDefCmd.Flags().String("provider", "", "provider id, for libcloud-like/provider-native interfaces")
	createStorageDefCmd.Flags().String("container", "", "container name; a trailing * auto-derives a unique name (required)")
	createStorageDefCmd.Flags().Bool("encrypt", false, "generate a data-encryption key and encrypt backup objects")
	createStorageDefCmd.Flags().Bool("persist-iv", true, "store each object's IV inline in its preamble rather than in the history database")
	createStorageDefCmd.Flags().String("compression", "zstd", "compression kind applied before encryption (\"\" disables it)")
	createStorageDefCmd.Flags().Int("upload-chunk-size", 4*1024*1024, "advisory upload chunk size in bytes")
	createStorageDefCmd.Flags().Int("download-chunk-size", 4*1024*1024, "advisory download chunk size in bytes")
	createStorageDefCmd.Flags().String("password", "", "password protecting the generated data-encryption key at rest in the vault (omit to leave it unprotected)")

	exportStorageDefCmd.Flags().String("out", "", "file to write the exported plaintext credentials to (required)")
	exportStorageDefCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")

	importStorageDefCmd.Flags().String("in", "", "file produced by export-storage-def (required)")
	importStorageDefCmd.Flags().String("interface", string(storagedef.LocalFilesystem), "interface kind: local-filesystem, libcloud-like, provider-native")
	importStorageDefCmd.Flags().String("provider", "", "provider id, for libcloud-like/provider-native interfaces")
	importStorageDefCmd.Flags().String("container", "", "container name (required)")
	importStorageDefCmd.Flags().Bool("persist-iv", true, "store each object's IV inline in its preamble rather than in the history database")
	importStorageDefCmd.Flags().String("compression", "zstd", "compression kind applied before encryption (\"\" disables it)")
	importStorageDefCmd.Flags().Int("upload-chunk-size", 4*1024*1024, "advisory upload chunk size in bytes")
	importStorageDefCmd.Flags().Int("download-chunk-size", 4*1024*1024, "advisory download chunk size in bytes")

	setPasswordStorageDefCmd.Flags().String("old-password", "", "current password, if any")
	setPasswordStorageDefCmd.Flags().String("new-password", "", "new password (omit to remove password protection; the key stays vault-held either way)")
}
