package main

import (
	"fmt"

	"github.com/atbu-go/atbu/pkg/driver"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore files from a storage definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		storageDef, _ := cmd.Flags().GetString("storage-def")
		dest, _ := cmd.Flags().GetString("dest")
		backupTag, _ := cmd.Flags().GetString("backup")
		filesGlob, _ := cmd.Flags().GetString("files")
		autoPathMapping, _ := cmd.Flags().GetBool("auto-path-mapping")
		password, _ := cmd.Flags().GetString("password")

		if storageDef == "" || dest == "" {
			return fmt.Errorf("--storage-def and --dest are required")
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
		summary, err := drv.Run(ctx, driver.RestoreOptions{
			Mode:            driver.ModeRestore,
			DestRoot:        dest,
			Selections:      []driver.Selection{{BackupTag: backupTag, FilesGlob: filesGlob}},
			AutoPathMapping: autoPathMapping,
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
	restoreCmd.Flags().String("storage-def", "", "storage definition to restore from (required)")
	restoreCmd.Flags().String("dest", "", "destination root directory (required)")
	restoreCmd.Flags().String("backup", "last", "backup tag to restore, or \"last\" for the newest")
	restoreCmd.Flags().String("files", "", "glob filtering which recorded files to restore")
	restoreCmd.Flags().Bool("auto-path-mapping", true, "map each file's original path under --dest using the selection's longest common prefix")
	restoreCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")
}
