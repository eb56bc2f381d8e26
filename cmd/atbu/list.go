package main

import (
	"fmt"

	"github.com/atbu-go/atbu/pkg/driver"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a storage definition's backups and the files each one recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		storageDef, _ := cmd.Flags().GetString("storage-def")
		backupTags, _ := cmd.Flags().GetStringSlice("backup")
		password, _ := cmd.Flags().GetString("password")

		if storageDef == "" {
			return fmt.Errorf("--storage-def is required")
		}

		ctx := cmd.Context()
		sd, _, v, err := openStorageDef(ctx, cmd, storageDef, password)
		if err != nil {
			return err
		}
		defer v.Close()

		db, err := loadLocalDB(cmd, storageDef)
		if err != nil {
			return err
		}

		result := driver.ListBackups(sd, db, driver.ListOptions{BackupTags: backupTags})
		fmt.Print(result.String())
		return nil
	},
}

func init() {
	listCmd.Flags().String("storage-def", "", "storage definition to list (required)")
	listCmd.Flags().StringSlice("backup", nil, "restrict the listing to these backup tags (default: all)")
	listCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")
}
