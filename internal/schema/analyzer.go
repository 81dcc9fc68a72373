package schema

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/datalift/tenantsync/internal/typemap"
)

// Analyzer discovers table structure from the source's information_schema
// and memoizes the result. All tenants share one connection pool; queries
// bind the tenant as TABLE_SCHEMA rather than switching the connection's
// default database, which would race on a shared pool.
type Analyzer struct {
	db    *sqlx.DB
	cache *Cache
	log   *logrus.Logger
}

// NewAnalyzer returns an analyzer backed by the shared source pool.
func NewAnalyzer(db *sqlx.DB, log *logrus.Logger) *Analyzer {
	return &Analyzer{db: db, cache: NewCache(), log: log}
}

// Cache exposes the underlying cache, mainly for run reporting.
func (a *Analyzer) Cache() *Cache { return a.cache }

// Analyze returns the TableInfo for (tenant, table), from cache when
// available. A second call for the same pair within a run never re-queries
// the catalog.
func (a *Analyzer) Analyze(ctx context.Context, tenant, table string) (*TableInfo, error) {
	if info := a.cache.Get(tenant, table); info != nil {
		a.log.WithFields(logrus.Fields{"tenant": tenant, "table": table}).
			Debug("using cached table info")
		return info, nil
	}

	a.log.WithFields(logrus.Fields{"tenant": tenant, "table": table}).
		Info("analyzing table structure")

	columns, err := a.fetchColumns(ctx, tenant, table)
	if err != nil {
		return nil, fmt.Errorf("discover columns for %s.%s: %w", tenant, table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or has no columns", tenant, table)
	}

	pks, err := a.fetchPrimaryKeys(ctx, tenant, table)
	if err != nil {
		return nil, fmt.Errorf("discover primary keys for %s.%s: %w", tenant, table, err)
	}

	info := &TableInfo{
		Tenant:      tenant,
		Table:       table,
		Columns:     columns,
		FieldTypes:  make(map[string]string, len(columns)),
		PrimaryKeys: pks,
	}
	for _, col := range columns {
		info.FieldTypes[col.Name] = col.SourceType
	}
	info.TimestampField = selectTimestampField(columns, info.FieldTypes)
	info.Schema = buildDestinationSchema(columns)

	a.cache.Put(info)

	a.log.WithFields(logrus.Fields{
		"tenant":          tenant,
		"table":           table,
		"columns":         len(columns),
		"primary_keys":    pks,
		"timestamp_field": info.TimestampField,
	}).Info("table analysis complete")

	return info, nil
}

func (a *Analyzer) fetchColumns(ctx context.Context, tenant, table string) ([]Column, error) {
	const q = `
		SELECT COLUMN_NAME, COLUMN_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	rows, err := a.db.QueryContext(ctx, q, tenant, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var name, colType string
		if err := rows.Scan(&name, &colType); err != nil {
			return nil, err
		}
		columns = append(columns, Column{Name: name, SourceType: strings.ToLower(colType)})
	}
	return columns, rows.Err()
}

func (a *Analyzer) fetchPrimaryKeys(ctx context.Context, tenant, table string) ([]string, error) {
	const q = `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`

	rows, err := a.db.QueryContext(ctx, q, tenant, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pks = append(pks, name)
	}
	return pks, rows.Err()
}

// buildDestinationSchema maps the source columns in ordinal order and appends
// the three system columns. Every field is NULLABLE; the source's NOT NULL
// constraints are not carried over.
func buildDestinationSchema(columns []Column) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(columns)+3)
	for _, col := range columns {
		out = append(out, &bigquery.FieldSchema{
			Name: col.Name,
			Type: typemap.MapType(col.SourceType),
		})
	}
	out = append(out,
		&bigquery.FieldSchema{Name: ColTenantID, Type: bigquery.StringFieldType},
		&bigquery.FieldSchema{Name: ColSyncTimestamp, Type: bigquery.TimestampFieldType},
		&bigquery.FieldSchema{Name: ColSyncMode, Type: bigquery.StringFieldType},
	)
	return out
}
