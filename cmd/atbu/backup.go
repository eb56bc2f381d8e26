package main

import (
	"fmt"

	"github.com/atbu-go/atbu/pkg/classifier"
	"github.com/atbu-go/atbu/pkg/driver"
	"github.com/atbu-go/atbu/pkg/log"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up files to a storage definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		storageDef, _ := cmd.Flags().GetString("storage-def")
		sources, _ := cmd.Flags().GetStringSlice("source")
		excludes, _ := cmd.Flags().GetStringSlice("exclude")
		backupType, _ := cmd.Flags().GetString("backup-type")
		dedup, _ := cmd.Flags().GetString("dedup")
		maxInFlight, _ := cmd.Flags().GetInt("max-in-flight")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		squelchBitrot, _ := cmd.Flags().GetBool("squelch-bitrot")
		password, _ := cmd.Flags().GetString("password")

		if storageDef == "" || len(sources) == 0 {
			return fmt.Errorf("--storage-def and at least one --source are required")
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

		drv := &driver.BackupDriver{
			StorageDef: sd,
			Store:      store,
			DB:         db,
			Logger:     log.WithStorageDef(storageDef),
			Retry:      driver.DefaultRetryPolicy,
		}
		summary, err := drv.Run(ctx, driver.BackupOptions{
			BaseName:      storageDef,
			BackupType:    classifier.BackupType(backupType),
			Dedup:         classifier.DedupMode(dedup),
			SquelchBitrot: squelchBitrot,
			SourceRoots:   sources,
			Excludes:      excludes,
			MaxInFlight:   maxInFlight,
			DryRun:        dryRun,
		})
		if err != nil {
			return err
		}

		fmt.Print(summary.String())
		if !dryRun {
			if err := saveLocalDB(cmd, storageDef, db); err != nil {
				return err
			}
		}
		cmd.SilenceUsage = true
		exitCode = summary.ExitCode()
		return nil
	},
}

func init() {
	backupCmd.Flags().String("storage-def", "", "storage definition to back up to (required)")
	backupCmd.Flags().StringSlice("source", nil, "source directory to back up (repeatable, required)")
	backupCmd.Flags().StringSlice("exclude", nil, "glob pattern to exclude, matched against each file's base name")
	backupCmd.Flags().String("backup-type", "full", "backup type: full, incremental, incremental-plus, incremental-hybrid")
	backupCmd.Flags().String("dedup", "digest", "dedup mode: none, digest, digest+ext")
	backupCmd.Flags().Int("max-in-flight", 4, "maximum files processed concurrently")
	backupCmd.Flags().Bool("dry-run", false, "classify and report without uploading")
	backupCmd.Flags().Bool("squelch-bitrot", false, "do not report bitrot warnings as anomalies")
	backupCmd.Flags().String("password", "", "password unprotecting the storage definition's data-encryption key")
}
