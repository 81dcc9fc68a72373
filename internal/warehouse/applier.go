package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/sirupsen/logrus"

	"github.com/datalift/tenantsync/internal/extract"
	"github.com/datalift/tenantsync/internal/schema"
)

// stagingAttempts bounds retries for staging-table name collisions. The
// millisecond epoch suffix makes collisions possible only when two batches
// for the same table start in the same millisecond.
const stagingAttempts = 3

// Applier writes batches to the warehouse through a Client.
type Applier struct {
	client    Client
	project   string
	dataset   string
	batchSize int
	log       *logrus.Logger

	// now is swappable for staging-name tests.
	now func() time.Time
}

// NewApplier returns an applier over the given client. batchSize caps the
// rows per load job; zero or negative means unchunked.
func NewApplier(client Client, project, dataset string, batchSize int, log *logrus.Logger) *Applier {
	return &Applier{client: client, project: project, dataset: dataset, batchSize: batchSize, log: log, now: time.Now}
}

// loadChunked pushes rows through LoadRows in batchSize slices. With truncate
// set, only the first chunk truncates; the rest append behind it.
func (a *Applier) loadChunked(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema, truncate bool) error {
	size := a.batchSize
	if size <= 0 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		if err := a.client.LoadRows(ctx, table, rows[start:end], sch, truncate && start == 0); err != nil {
			return err
		}
	}
	return nil
}

// tableID returns the fully-qualified backticked name used in DML.
func (a *Applier) tableID(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", a.project, a.dataset, table)
}

// EnsureTable makes sure the dataset and destination table exist. An
// existing table is left untouched: schema evolution is out of scope and
// callers trust the destination schema matches.
func (a *Applier) EnsureTable(ctx context.Context, table string, sch bigquery.Schema) error {
	if err := a.client.EnsureDataset(ctx); err != nil {
		return err
	}
	exists, err := a.client.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := a.client.CreateTable(ctx, table, sch, true); err != nil {
		return err
	}
	a.log.WithField("table", table).Info("created destination table (shared across tenants)")
	return nil
}

// Write applies a batch. FULL mode is a tenant-scoped reload: delete the
// tenant's rows, then append. INCREMENTAL mode merges by primary key via a
// staging table, or plain-appends when the table has no primary key.
func (a *Applier) Write(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema, primaryKeys []string, mode schema.SyncMode) error {
	if len(rows) == 0 {
		return nil
	}

	if mode == schema.SyncFull {
		return a.fullReload(ctx, table, rows, sch)
	}

	if len(primaryKeys) > 0 {
		return a.mergeViaStaging(ctx, table, rows, sch, primaryKeys)
	}

	// No primary key: append-only. Updated source rows arrive as new rows.
	a.log.WithFields(logrus.Fields{"table": table, "rows": len(rows)}).
		Warn("no primary key, appending without dedup")
	if err := a.loadChunked(ctx, table, rows, sch, false); err != nil {
		return fmt.Errorf("append to %s: %w", table, err)
	}
	return nil
}

// fullReload deletes the batch's tenant from the destination and appends the
// batch. Other tenants' rows are untouched; this is never a table truncate.
func (a *Applier) fullReload(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema) error {
	tenant, _ := rows[0][schema.ColTenantID].(string)
	if tenant == "" {
		return fmt.Errorf("full reload of %s: rows carry no tenant_id", table)
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = @tenant", a.tableID(table))
	if err := a.client.RunQuery(ctx, deleteSQL, bigquery.QueryParameter{Name: "tenant", Value: tenant}); err != nil {
		return fmt.Errorf("delete tenant %s from %s: %w", tenant, table, err)
	}
	a.log.WithFields(logrus.Fields{"table": table, "tenant": tenant}).
		Info("deleted existing tenant rows")

	if err := a.loadChunked(ctx, table, rows, sch, false); err != nil {
		return fmt.Errorf("append to %s: %w", table, err)
	}
	a.log.WithFields(logrus.Fields{"table": table, "tenant": tenant, "rows": len(rows)}).
		Info("full reload complete")
	return nil
}

// mergeViaStaging loads the batch into a unique staging table, MERGEs it
// into the destination on (primary keys, tenant_id), and drops the staging
// table whether or not the MERGE succeeded.
func (a *Applier) mergeViaStaging(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema, primaryKeys []string) (err error) {
	staging, err := a.createStaging(ctx, table, rows, sch)
	if err != nil {
		return err
	}
	defer func() {
		if derr := a.client.DeleteTable(ctx, staging); derr != nil {
			a.log.WithError(derr).WithField("table", staging).
				Warn("failed to drop staging table")
		}
	}()

	columns := make([]string, 0, len(sch))
	for _, field := range sch {
		columns = append(columns, field.Name)
	}

	mergeSQL := buildMergeSQL(a.tableID(table), a.tableID(staging), columns, primaryKeys)
	if err := a.client.RunQuery(ctx, mergeSQL); err != nil {
		return fmt.Errorf("merge into %s: %w", table, err)
	}

	a.log.WithFields(logrus.Fields{"table": table, "rows": len(rows)}).
		Info("merge complete")
	return nil
}

// createStaging loads the batch into <table>_temp_<epoch_ms>, retrying with
// a fresh suffix if another batch grabbed the same name.
func (a *Applier) createStaging(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema) (string, error) {
	for attempt := 0; attempt < stagingAttempts; attempt++ {
		staging := fmt.Sprintf("%s_temp_%d", table, a.now().UnixMilli())
		exists, err := a.client.TableExists(ctx, staging)
		if err != nil {
			return "", fmt.Errorf("check staging table %s: %w", staging, err)
		}
		if exists {
			time.Sleep(time.Millisecond)
			continue
		}
		if err := a.loadChunked(ctx, staging, rows, sch, true); err != nil {
			return "", fmt.Errorf("load staging table %s: %w", staging, err)
		}
		return staging, nil
	}
	return "", fmt.Errorf("could not allocate staging table name for %s", table)
}

// buildMergeSQL assembles the MERGE: match on every primary key plus
// tenant_id, update all non-key columns when matched, insert all columns
// when not.
func buildMergeSQL(dst, staging string, columns, primaryKeys []string) string {
	pkSet := make(map[string]bool, len(primaryKeys))
	conditions := make([]string, 0, len(primaryKeys)+1)
	for _, pk := range primaryKeys {
		pkSet[pk] = true
		conditions = append(conditions, fmt.Sprintf("T.`%s` = S.`%s`", pk, pk))
	}
	conditions = append(conditions, "T.`tenant_id` = S.`tenant_id`")

	updates := make([]string, 0, len(columns))
	inserts := make([]string, 0, len(columns))
	values := make([]string, 0, len(columns))
	for _, col := range columns {
		inserts = append(inserts, fmt.Sprintf("`%s`", col))
		values = append(values, fmt.Sprintf("S.`%s`", col))
		if !pkSet[col] {
			updates = append(updates, fmt.Sprintf("`%s` = S.`%s`", col, col))
		}
	}

	return fmt.Sprintf(
		"MERGE %s T\nUSING %s S\nON %s\nWHEN MATCHED THEN\n  UPDATE SET %s\nWHEN NOT MATCHED THEN\n  INSERT (%s)\n  VALUES (%s)",
		dst, staging,
		strings.Join(conditions, " AND "),
		strings.Join(updates, ", "),
		strings.Join(inserts, ", "),
		strings.Join(values, ", "),
	)
}
