// Package warehouse applies extracted batches to the analytic warehouse:
// dataset/table management, tenant-scoped full reloads, and MERGE-via-staging
// for keyed incremental batches.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"

	"github.com/datalift/tenantsync/internal/extract"
)

// Client is the narrow warehouse surface the applier depends on. The
// production implementation is BigQuery; tests substitute a fake.
type Client interface {
	// EnsureDataset creates the configured dataset if it does not exist.
	EnsureDataset(ctx context.Context) error
	// TableExists reports whether a table exists in the dataset.
	TableExists(ctx context.Context, table string) (bool, error)
	// CreateTable creates a table with the given schema. When partitioned,
	// the table is day-partitioned on sync_timestamp and clustered on
	// tenant_id.
	CreateTable(ctx context.Context, table string, schema bigquery.Schema, partitioned bool) error
	// LoadRows loads a row batch into a table as a JSON load job. With
	// truncate set the table is created or replaced; otherwise rows append.
	LoadRows(ctx context.Context, table string, rows []extract.Row, schema bigquery.Schema, truncate bool) error
	// RunQuery executes a DML statement and waits for completion. Values
	// bind through named query parameters, never string interpolation.
	RunQuery(ctx context.Context, sql string, params ...bigquery.QueryParameter) error
	// DeleteTable drops a table. Deleting a missing table is not an error.
	DeleteTable(ctx context.Context, table string) error
}

// BigQuery implements Client against a real BigQuery project.
type BigQuery struct {
	client   *bigquery.Client
	project  string
	dataset  string
	location string
	log      *logrus.Logger
}

// NewBigQuery wraps an authenticated BigQuery client.
func NewBigQuery(client *bigquery.Client, project, dataset, location string, log *logrus.Logger) *BigQuery {
	return &BigQuery{client: client, project: project, dataset: dataset, location: location, log: log}
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// EnsureDataset creates the dataset when absent. The location is fixed at
// configuration time and never mutated afterwards.
func (b *BigQuery) EnsureDataset(ctx context.Context) error {
	ds := b.client.Dataset(b.dataset)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("check dataset %s: %w", b.dataset, err)
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: b.location}); err != nil {
		return fmt.Errorf("create dataset %s: %w", b.dataset, err)
	}
	b.log.WithField("dataset", b.dataset).Info("created dataset")
	return nil
}

func (b *BigQuery) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := b.client.Dataset(b.dataset).Table(table).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("check table %s: %w", table, err)
}

func (b *BigQuery) CreateTable(ctx context.Context, table string, schema bigquery.Schema, partitioned bool) error {
	meta := &bigquery.TableMetadata{Schema: schema}
	if partitioned {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "sync_timestamp",
		}
		meta.Clustering = &bigquery.Clustering{Fields: []string{"tenant_id"}}
	}
	if err := b.client.Dataset(b.dataset).Table(table).Create(ctx, meta); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// LoadRows streams the batch as newline-delimited JSON through a load job
// with an explicit schema, mirroring load_table_from_json semantics.
func (b *BigQuery) LoadRows(ctx context.Context, table string, rows []extract.Row, schema bigquery.Schema, truncate bool) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode row for %s: %w", table, err)
		}
	}

	source := bigquery.NewReaderSource(&buf)
	source.SourceFormat = bigquery.JSON
	source.Schema = schema

	loader := b.client.Dataset(b.dataset).Table(table).LoaderFrom(source)
	if truncate {
		loader.WriteDisposition = bigquery.WriteTruncate
	} else {
		loader.WriteDisposition = bigquery.WriteAppend
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("start load job for %s: %w", table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for load job for %s: %w", table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job for %s: %w", table, err)
	}
	return nil
}

func (b *BigQuery) RunQuery(ctx context.Context, sql string, params ...bigquery.QueryParameter) error {
	q := b.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("start query job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for query job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("query job: %w", err)
	}
	return nil
}

func (b *BigQuery) DeleteTable(ctx context.Context, table string) error {
	err := b.client.Dataset(b.dataset).Table(table).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete table %s: %w", table, err)
	}
	return nil
}
