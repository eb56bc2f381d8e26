package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/backupdb"
	"github.com/atbu-go/atbu/pkg/compress"
	"github.com/atbu-go/atbu/pkg/crypto"
	"github.com/atbu-go/atbu/pkg/driver"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Rebuild the local history database from whatever database snapshots survive in storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		storageDef, _ := cmd.Flags().GetString("storage-def")
		scratchDir, _ := cmd.Flags().GetString("scratch-dir")
		maxInFlight, _ := cmd.Flags().GetInt("max-in-flight")
		password, _ := cmd.Flags().GetString("password")

		if storageDef == "" || scratchDir == "" {
			return fmt.Errorf("--storage-def and --scratch-dir are required")
		}

		ctx := cmd.Context()
		sd, store, v, err := openStorageDef(ctx, cmd, storageDef, password)
		if err != nil {
			return err
		}
		defer v.Close()

		drv := &driver.RecoverDriver{
			StorageDef: sd,
			Store:      store,
			BaseName:   storageDef,
			Logger:     log.WithStorageDef(storageDef),
			Retry:      driver.DefaultRetryPolicy,
		}
		latestPath, err := drv.Run(ctx, driver.RecoverOptions{ScratchDir: scratchDir, MaxInFlight: maxInFlight})
		if err != nil {
			return err
		}
		fmt.Printf("recovered snapshot: %s\n", latestPath)

		raw, err := os.ReadFile(latestPath)
		if err != nil {
			return err
		}
		preamble, offset, err := crypto.Decode(raw)
		if err != nil {
			return err
		}
		body := raw[offset:]

		if preamble.IsEncrypted {
			if !preamble.IVInline {
				return atbuerr.New(atbuerr.EncryptionDecryptFailure,
					"recovered snapshot does not carry its IV inline; it cannot be decrypted without the original history record")
			}
			dataKey, err := sd.Credentials.DataEncryptionKey()
			if err != nil {
				return err
			}
			decryptor, err := crypto.NewCBCDecryptor(dataKey, preamble.IV[:])
			if err != nil {
				return err
			}
			plain, err := io.ReadAll(crypto.NewDecryptingReader(bytes.NewReader(body), decryptor))
			if err != nil {
				return err
			}
			body = plain
		}

		plaintext, err := compress.Decompress(compress.Kind(preamble.CompressionKind), body)
		if err != nil {
			return err
		}
		db, err := backupdb.Load(plaintext)
		if err != nil {
			return err
		}
		if err := saveLocalDB(cmd, storageDef, db); err != nil {
			return err
		}

		fmt.Printf("local history database for %q rebuilt from %s\n", storageDef, latestPath)
		return nil
	},
}

func init() {
	recoverCmd.Flags().String("storage-def", "", "storage definition to recover the history database for (required)")
	recoverCmd.Flags().String("scratch-dir", "", "scratch directory to download candidate snapshots into (required)")
	recoverCmd.Flags().Int("max-in-flight", 4, "maximum snapshot downloads in flight")
	recoverCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")
}
