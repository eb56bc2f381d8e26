package main

import (
	"encoding/hex"
	"fmt"

	"github.com/atbu-go/atbu/pkg/driver"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/spf13/cobra"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt raw backup objects already sitting on local disk, without consulting a history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source-dir")
		dest, _ := cmd.Flags().GetString("dest-dir")
		storageDef, _ := cmd.Flags().GetString("storage-def")
		keyHex, _ := cmd.Flags().GetString("key-hex")
		password, _ := cmd.Flags().GetString("password")

		if source == "" || dest == "" {
			return fmt.Errorf("--source-dir and --dest-dir are required")
		}

		var dataKey []byte
		switch {
		case keyHex != "":
			k, err := hex.DecodeString(keyHex)
			if err != nil {
				return fmt.Errorf("decoding --key-hex: %w", err)
			}
			dataKey = k
		case storageDef != "":
			ctx := cmd.Context()
			sd, _, v, err := openStorageDef(ctx, cmd, storageDef, password)
			if err != nil {
				return err
			}
			defer v.Close()
			if sd.IsEncryptionUsed {
				dataKey, err = sd.Credentials.DataEncryptionKey()
				if err != nil {
					return err
				}
			}
		}

		drv := &driver.DecryptDriver{Logger: log.WithComponent("decrypt")}
		summary, err := drv.Run(driver.DecryptOptions{SourceDir: source, DestDir: dest, DataKey: dataKey})
		if err != nil {
			return err
		}

		fmt.Print(summary.String())
		cmd.SilenceUsage = true
		exitCode = summary.ExitCode()
		return nil
	},
}

func init() {
	decryptCmd.Flags().String("source-dir", "", "directory holding raw .atbak/.atbake objects (required)")
	decryptCmd.Flags().String("dest-dir", "", "directory to write decrypted plaintext into (required)")
	decryptCmd.Flags().String("storage-def", "", "storage definition to fetch the data-encryption key from")
	decryptCmd.Flags().String("key-hex", "", "data-encryption key as a hex string, bypassing the credential set entirely")
	decryptCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")
}
