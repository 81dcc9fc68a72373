package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/datalift/tenantsync/internal/checkpoint"
)

var statusTenant string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded sync state per tenant and table",
	Long: `Reads the tenant status files and prints the last sync time, mode,
status, and record count for each table.

Examples:
  tenantsync status                # All tenants
  tenantsync status --tenant acme  # One tenant
  tenantsync status --json         # Machine-readable`,
	Run: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTenant, "tenant", "", "Limit output to one tenant")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	store, err := checkpoint.NewStore(cfg.StatusDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var tenants []string
	if statusTenant != "" {
		tenants = []string{statusTenant}
	} else {
		tenants, err = store.Tenants()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if len(tenants) == 0 {
		fmt.Println("No sync status recorded yet.")
		return
	}

	if jsonOutput {
		out := make(map[string]checkpoint.TenantStatus, len(tenants))
		for _, tenant := range tenants {
			out[tenant] = store.Summary(tenant)
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	for _, tenant := range tenants {
		st := store.Summary(tenant)
		fmt.Printf("%s (%d tables, updated %s)\n",
			tenant, st.DatabaseInfo.TotalTables, st.DatabaseInfo.LastUpdated)

		names := make([]string, 0, len(st.Tables))
		for name := range st.Tables {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ts := st.Tables[name]
			line := fmt.Sprintf("  %-30s %-11s %-12s %8d rows  last sync %s",
				name, ts.SyncStatus, ts.SyncMode, ts.RecordsSynced, ts.LastSyncTime)
			fmt.Println(line)
			if ts.ErrorMessage != "" {
				fmt.Printf("    error: %s\n", ts.ErrorMessage)
			}
		}
		fmt.Println()
	}
}
