// Package schema discovers source table structure and derives the destination
// schema. Results are cached per (tenant, table) for the lifetime of a run.
package schema

import (
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
)

// SyncMode identifies how a (tenant, table) pair is synced in a run.
type SyncMode string

const (
	SyncFull        SyncMode = "FULL"
	SyncIncremental SyncMode = "INCREMENTAL"
)

// System columns appended to every destination table, in fixed order.
const (
	ColTenantID      = "tenant_id"
	ColSyncTimestamp = "sync_timestamp"
	ColSyncMode      = "sync_mode"
)

// IsSystemColumn reports whether name is one of the appended system columns.
func IsSystemColumn(name string) bool {
	return name == ColTenantID || name == ColSyncTimestamp || name == ColSyncMode
}

// Column is one source column with its raw MySQL type string preserved for
// later coercion decisions (e.g. integer-backed timestamps).
type Column struct {
	Name       string
	SourceType string
}

// TableInfo holds everything the pipeline needs to know about one
// (tenant, table) pair. Immutable once cached.
type TableInfo struct {
	Tenant string
	Table  string

	// Columns in ordinal order.
	Columns []Column

	// FieldTypes maps column name to its lowercased MySQL type string.
	FieldTypes map[string]string

	// Schema is the destination schema: source columns in ordinal order
	// followed by the three system columns.
	Schema bigquery.Schema

	// PrimaryKeys in key-ordinal order; empty when the table has no PK.
	PrimaryKeys []string

	// TimestampField is the column chosen for incremental windows; empty
	// when the table has no usable timestamp column.
	TimestampField string
}

func cacheKey(tenant, table string) string {
	return fmt.Sprintf("%s.%s", tenant, table)
}

// Cache memoizes TableInfo per (tenant, table). Safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	m  map[string]*TableInfo
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]*TableInfo)}
}

// Get returns the cached TableInfo, or nil when absent.
func (c *Cache) Get(tenant, table string) *TableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[cacheKey(tenant, table)]
}

// Put stores info for its (tenant, table) pair.
func (c *Cache) Put(info *TableInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[cacheKey(info.Tenant, info.Table)] = info
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
