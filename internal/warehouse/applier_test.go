package warehouse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/sirupsen/logrus"

	"github.com/datalift/tenantsync/internal/extract"
	"github.com/datalift/tenantsync/internal/schema"
)

type fakeClient struct {
	datasetEnsured bool
	tables         map[string]bool
	partitioned    map[string]bool

	loads   []loadCall
	queries []queryCall
	deleted []string

	loadErr  error
	queryErr error
}

type loadCall struct {
	table    string
	rows     int
	truncate bool
}

type queryCall struct {
	sql    string
	params []bigquery.QueryParameter
}

func newFakeClient() *fakeClient {
	return &fakeClient{tables: make(map[string]bool), partitioned: make(map[string]bool)}
}

func (f *fakeClient) EnsureDataset(ctx context.Context) error {
	f.datasetEnsured = true
	return nil
}

func (f *fakeClient) TableExists(ctx context.Context, table string) (bool, error) {
	return f.tables[table], nil
}

func (f *fakeClient) CreateTable(ctx context.Context, table string, sch bigquery.Schema, partitioned bool) error {
	f.tables[table] = true
	f.partitioned[table] = partitioned
	return nil
}

func (f *fakeClient) LoadRows(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema, truncate bool) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, loadCall{table: table, rows: len(rows), truncate: truncate})
	f.tables[table] = true
	return nil
}

func (f *fakeClient) RunQuery(ctx context.Context, sql string, params ...bigquery.QueryParameter) error {
	if f.queryErr != nil {
		return f.queryErr
	}
	f.queries = append(f.queries, queryCall{sql: sql, params: params})
	return nil
}

func (f *fakeClient) DeleteTable(ctx context.Context, table string) error {
	f.deleted = append(f.deleted, table)
	delete(f.tables, table)
	return nil
}

func testApplier(client Client) *Applier {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewApplier(client, "proj", "ds", 0, log)
}

var testSchema = bigquery.Schema{
	{Name: "id", Type: bigquery.IntegerFieldType},
	{Name: "name", Type: bigquery.StringFieldType},
	{Name: schema.ColTenantID, Type: bigquery.StringFieldType},
	{Name: schema.ColSyncTimestamp, Type: bigquery.TimestampFieldType},
	{Name: schema.ColSyncMode, Type: bigquery.StringFieldType},
}

func testRows(tenant string, n int) []extract.Row {
	rows := make([]extract.Row, n)
	for i := range rows {
		rows[i] = extract.Row{"id": int64(i), "name": "x", schema.ColTenantID: tenant}
	}
	return rows
}

func TestEnsureTableCreatesPartitioned(t *testing.T) {
	client := newFakeClient()
	a := testApplier(client)

	if err := a.EnsureTable(context.Background(), "orders", testSchema); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if !client.datasetEnsured {
		t.Error("dataset not ensured")
	}
	if !client.tables["orders"] {
		t.Error("table not created")
	}
	if !client.partitioned["orders"] {
		t.Error("table should be partitioned")
	}
}

func TestEnsureTableLeavesExistingAlone(t *testing.T) {
	client := newFakeClient()
	client.tables["orders"] = true
	a := testApplier(client)

	if err := a.EnsureTable(context.Background(), "orders", testSchema); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if _, created := client.partitioned["orders"]; created {
		t.Error("existing table must not be recreated")
	}
}

func TestWriteEmptyBatchIsNoOp(t *testing.T) {
	client := newFakeClient()
	a := testApplier(client)

	err := a.Write(context.Background(), "orders", nil, testSchema, []string{"id"}, schema.SyncFull)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(client.loads) != 0 || len(client.queries) != 0 {
		t.Error("empty batch should touch nothing")
	}
}

func TestWriteFullReloadDeletesTenantThenAppends(t *testing.T) {
	client := newFakeClient()
	a := testApplier(client)

	err := a.Write(context.Background(), "orders", testRows("acme", 3), testSchema, []string{"id"}, schema.SyncFull)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(client.queries) != 1 {
		t.Fatalf("got %d queries, want 1 delete", len(client.queries))
	}
	q := client.queries[0]
	if !strings.HasPrefix(q.sql, "DELETE FROM `proj.ds.orders`") || !strings.Contains(q.sql, "tenant_id = @tenant") {
		t.Errorf("delete statement wrong: %s", q.sql)
	}
	// The tenant value binds as a parameter, never interpolated SQL.
	if strings.Contains(q.sql, "acme") {
		t.Errorf("tenant leaked into SQL text: %s", q.sql)
	}
	if len(q.params) != 1 || q.params[0].Name != "tenant" || q.params[0].Value != "acme" {
		t.Errorf("unexpected query params: %+v", q.params)
	}

	if len(client.loads) != 1 {
		t.Fatalf("got %d loads, want 1", len(client.loads))
	}
	load := client.loads[0]
	if load.table != "orders" || load.truncate || load.rows != 3 {
		t.Errorf("unexpected load: %+v", load)
	}
}

func TestWriteIncrementalMergesViaStaging(t *testing.T) {
	client := newFakeClient()
	a := testApplier(client)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	err := a.Write(context.Background(), "orders", testRows("acme", 2), testSchema, []string{"id"}, schema.SyncIncremental)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	staging := "orders_temp_1700000000000"
	if len(client.loads) != 1 || client.loads[0].table != staging || !client.loads[0].truncate {
		t.Fatalf("staging load wrong: %+v", client.loads)
	}
	if len(client.queries) != 1 || !strings.HasPrefix(client.queries[0].sql, "MERGE `proj.ds.orders` T") {
		t.Fatalf("merge statement wrong: %v", client.queries)
	}
	if len(client.deleted) != 1 || client.deleted[0] != staging {
		t.Errorf("staging table not cleaned up: %v", client.deleted)
	}
}

func TestWriteStagingCleanedUpOnMergeFailure(t *testing.T) {
	client := newFakeClient()
	client.queryErr = errors.New("merge exploded")
	a := testApplier(client)

	err := a.Write(context.Background(), "orders", testRows("acme", 1), testSchema, []string{"id"}, schema.SyncIncremental)
	if err == nil {
		t.Fatal("expected merge error")
	}
	if len(client.deleted) != 1 {
		t.Errorf("staging table must be dropped even when the merge fails: %v", client.deleted)
	}
}

func TestWriteStagingNameCollisionRetries(t *testing.T) {
	client := newFakeClient()
	client.tables["orders_temp_1700000000000"] = true

	a := testApplier(client)
	calls := 0
	a.now = func() time.Time {
		calls++
		return time.UnixMilli(1700000000000 + int64(calls) - 1)
	}

	err := a.Write(context.Background(), "orders", testRows("acme", 1), testSchema, []string{"id"}, schema.SyncIncremental)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if client.loads[0].table != "orders_temp_1700000000001" {
		t.Errorf("expected fresh staging suffix, got %s", client.loads[0].table)
	}
}

func TestWriteNoPrimaryKeyAppends(t *testing.T) {
	client := newFakeClient()
	a := testApplier(client)

	err := a.Write(context.Background(), "events", testRows("acme", 2), testSchema, nil, schema.SyncIncremental)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(client.queries) != 0 {
		t.Error("keyless table should not run MERGE")
	}
	if len(client.loads) != 1 || client.loads[0].truncate {
		t.Errorf("keyless table should append: %+v", client.loads)
	}
}

func TestWriteChunksLargeBatches(t *testing.T) {
	client := newFakeClient()
	log := logrus.New()
	log.SetOutput(io.Discard)
	a := NewApplier(client, "proj", "ds", 2, log)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	err := a.Write(context.Background(), "orders", testRows("acme", 5), testSchema, []string{"id"}, schema.SyncIncremental)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(client.loads) != 3 {
		t.Fatalf("got %d loads, want 3 chunks of <=2 rows", len(client.loads))
	}
	// Only the first staging chunk truncates; the rest append behind it.
	if !client.loads[0].truncate || client.loads[1].truncate || client.loads[2].truncate {
		t.Errorf("chunk truncate flags wrong: %+v", client.loads)
	}
	if client.loads[0].rows != 2 || client.loads[2].rows != 1 {
		t.Errorf("chunk sizes wrong: %+v", client.loads)
	}
}

func TestBuildMergeSQL(t *testing.T) {
	sql := buildMergeSQL(
		"`proj.ds.orders`", "`proj.ds.orders_temp_1`",
		[]string{"id", "name", "tenant_id", "sync_timestamp", "sync_mode"},
		[]string{"id"},
	)

	wantFragments := []string{
		"MERGE `proj.ds.orders` T",
		"USING `proj.ds.orders_temp_1` S",
		"ON T.`id` = S.`id` AND T.`tenant_id` = S.`tenant_id`",
		"WHEN MATCHED THEN",
		"UPDATE SET `name` = S.`name`",
		"WHEN NOT MATCHED THEN",
		"INSERT (`id`, `name`, `tenant_id`, `sync_timestamp`, `sync_mode`)",
		"VALUES (S.`id`, S.`name`, S.`tenant_id`, S.`sync_timestamp`, S.`sync_mode`)",
	}
	for _, frag := range wantFragments {
		if !strings.Contains(sql, frag) {
			t.Errorf("merge SQL missing %q:\n%s", frag, sql)
		}
	}
	// Primary keys are never in the UPDATE list.
	if strings.Contains(sql, "`id` = S.`id`,") || strings.Contains(sql, "SET `id`") {
		t.Errorf("primary key must not be updated:\n%s", sql)
	}
}

func TestBuildMergeSQLCompositeKey(t *testing.T) {
	sql := buildMergeSQL("`d`", "`s`", []string{"a", "b", "v", "tenant_id"}, []string{"a", "b"})
	if !strings.Contains(sql, "T.`a` = S.`a` AND T.`b` = S.`b` AND T.`tenant_id` = S.`tenant_id`") {
		t.Errorf("composite key join wrong:\n%s", sql)
	}
}
