package main

import (
	"fmt"

	"github.com/atbu-go/atbu/pkg/driver"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify backed-up files against digests, optionally comparing to local copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		storageDef, _ := cmd.Flags().GetString("storage-def")
		backupTag, _ := cmd.Flags().GetString("backup")
		filesGlob, _ := cmd.Flags().GetString("files")
		compare, _ := cmd.Flags().GetBool("compare")
		password, _ := cmd.Flags().GetString("password")

		if storageDef == "" {
			return fmt.Errorf("--storage-def is required")
		}

		ctx := cmd.Context()
		sd, store, v, err := openStorageDef(ctx, cmd, storageDef, password)
		if err != nil {
			return err
		}
		defer v.Close()

		db, err := loadLocalDB(cmd, storageDef)
		if err != nil {
			return err
		}

		drv := &driver.RestoreDriver{
			StorageDef: sd,
			Store:      store,
			DB:         db,
			Logger:     log.WithStorageDef(storageDef),
			Retry:      driver.DefaultRetryPolicy,
		}
		summary, err := drv.Verify(ctx, driver.VerifyOptions{
			Selections: []driver.Selection{{BackupTag: backupTag, FilesGlob: filesGlob}},
			Compare:    compare,
		})
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
	verifyCmd.Flags().String("storage-def", "", "storage definition to verify against (required)")
	verifyCmd.Flags().String("backup", "last", "backup tag to verify, or \"last\" for the newest")
	verifyCmd.Flags().String("files", "", "glob filtering which recorded files to verify")
	verifyCmd.Flags().Bool("compare", false, "byte-compare decrypted content against the local file instead of discarding it")
	verifyCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")
}
