package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datalift/tenantsync/internal/checkpoint"
)

var migratePreview bool

var migrateStatusCmd = &cobra.Command{
	Use:   "migrate-status",
	Short: "Merge legacy single-table status files into per-tenant files",
	Long: `Earlier versions kept one status file per (tenant, table) pair,
named <tenant>_<table>.json. This merges them into one file per tenant and
moves the originals into a backup subdirectory.

Examples:
  tenantsync migrate-status --preview  # Show what would be migrated
  tenantsync migrate-status            # Migrate for real`,
	Run: runMigrateStatus,
}

func init() {
	migrateStatusCmd.Flags().BoolVar(&migratePreview, "preview", false, "List legacy files without migrating")
	rootCmd.AddCommand(migrateStatusCmd)
}

func runMigrateStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	store, err := checkpoint.NewStore(cfg.StatusDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if migratePreview {
		legacy, err := store.ScanLegacyFiles()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(legacy) == 0 {
			fmt.Println("No single-table status files found.")
			return
		}
		fmt.Printf("Found %d single-table status files:\n", len(legacy))
		for _, lf := range legacy {
			fmt.Printf("  %s  ->  %s.json (table %s)\n", lf.Path, lf.Tenant, lf.Table)
		}
		return
	}

	result, err := store.MigrateLegacyFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Migrated %d files into %d tenant files (%d skipped).\n",
		result.FilesMigrated, result.TenantsWritten, result.FilesSkipped)
}
