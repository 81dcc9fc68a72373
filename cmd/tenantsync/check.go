package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify source and warehouse connectivity",
	Long: `Pings the source server, verifies every configured tenant schema
exists, and confirms the warehouse project is reachable. Exits nonzero on
the first failure.`,
	Run: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := rootCtx
	failed := false

	db, err := sqlx.Open("mysql", cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open source connection: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("source %s:%d: UNREACHABLE (%v)\n", cfg.DBHost, cfg.DBPort, err)
		os.Exit(1)
	}
	fmt.Printf("source %s:%d: ok\n", cfg.DBHost, cfg.DBPort)

	for _, tenant := range cfg.Tenants {
		var name string
		err := db.GetContext(ctx, &name,
			"SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?", tenant)
		fmt.Printf("tenant %s: %s\n", tenant, tenantCheckStatus(err))
		if err != nil {
			failed = true
		}
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.BQProject)
	if err != nil {
		fmt.Printf("warehouse project %s: UNREACHABLE (%v)\n", cfg.BQProject, err)
		os.Exit(1)
	}
	defer bqClient.Close()

	_, err = bqClient.Dataset(cfg.BQDataset).Metadata(ctx)
	if err != nil {
		// A missing dataset is fine: sync creates it. Anything else is not.
		fmt.Printf("warehouse dataset %s: not found or inaccessible (%v); sync will attempt to create it\n",
			cfg.BQDataset, err)
	} else {
		fmt.Printf("warehouse dataset %s: ok\n", cfg.BQDataset)
	}

	if failed {
		os.Exit(1)
	}
}

// tenantCheckStatus renders the schema-lookup outcome. Only a clean
// zero-row result means the schema is absent; anything else is a query
// failure, not a verdict on the schema.
func tenantCheckStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sql.ErrNoRows):
		return "MISSING"
	default:
		return fmt.Sprintf("check failed (%v)", err)
	}
}
