// Command atbu is the CLI surface spec.md §6 treats as an external
// collaborator consumed by the engine: backup, restore, verify, decrypt,
// recover, list, and the creds {create|delete|export|import|set-password}
// -storage-def family, each wired to the pkg/driver orchestration
// sequences and exiting per the §7 contract.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atbu-go/atbu/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// exitCode carries the spec.md §7 exit-status contract (clean / anomalies /
// clean-dry-run) out of whichever subcommand ran, since cobra itself only
// distinguishes "errored" from "didn't".
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "atbu",
	Short: "atbu - file backup, restore, and recovery engine",
	Long: `atbu backs up files to a named storage definition, verifies and
restores them, and can recover its own history database from whatever
survives in storage when the local copy is lost.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("atbu version %s (%s)\n", Version, Commit))

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultConfig := filepath.Join(home, ".atbu", "storage-defs.yaml")
	defaultVaultDir := filepath.Join(home, ".atbu", "vault")
	defaultDBDir := filepath.Join(home, ".atbu", "db")

	rootCmd.PersistentFlags().String("config", defaultConfig, "path to the storage-definition record file")
	rootCmd.PersistentFlags().String("vault-dir", defaultVaultDir, "directory holding the local credential vault")
	rootCmd.PersistentFlags().String("db-dir", defaultDBDir, "directory holding local history-database caches")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit structured JSON logs instead of console output")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(credsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
