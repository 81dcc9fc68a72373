// Package checkpoint persists per-(tenant, table) sync state as one JSON file
// per tenant under the status directory. A single process-wide mutex guards
// every read-modify-write; the scheduler runs one tenant at a time, so finer
// locking would buy nothing while making correctness harder to see.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// timeLayout is how instants are persisted. Reads also accept a few older
// renderings so a hand-edited or pre-existing file still parses.
const timeLayout = time.RFC3339Nano

var readLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// TableStatus is the durable record for one table within a tenant file.
type TableStatus struct {
	TableName     string `json:"table_name"`
	LastSyncTime  string `json:"last_sync_time"`
	SyncStatus    string `json:"sync_status"`
	SyncMode      string `json:"sync_mode"`
	RecordsSynced int    `json:"records_synced"`
	ErrorMessage  string `json:"error_message,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// DatabaseInfo is the tenant-level header of a status file.
type DatabaseInfo struct {
	TenantID    string `json:"tenant_id"`
	LastUpdated string `json:"last_updated"`
	TotalTables int    `json:"total_tables"`
}

// TenantStatus is the full on-disk shape of one tenant's status file.
type TenantStatus struct {
	DatabaseInfo DatabaseInfo           `json:"database_info"`
	Tables       map[string]TableStatus `json:"tables"`
}

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Store reads and writes tenant status files.
type Store struct {
	dir string
	mu  sync.Mutex
	log *logrus.Logger
}

// NewStore creates the status directory if needed and returns a store over it.
func NewStore(dir string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create status dir %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the status directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) tenantFile(tenant string) string {
	return filepath.Join(s.dir, tenant+".json")
}

// load reads a tenant's status file. A missing file yields an empty status;
// an unreadable or malformed file is logged and also yields an empty status,
// which downstream degrades to a full sync.
func (s *Store) load(tenant string) TenantStatus {
	st := TenantStatus{Tables: make(map[string]TableStatus)}

	data, err := os.ReadFile(s.tenantFile(tenant))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).WithField("tenant", tenant).
				Warn("failed to read status file")
		}
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.WithError(err).WithField("tenant", tenant).
			Warn("failed to parse status file")
		return TenantStatus{Tables: make(map[string]TableStatus)}
	}
	if st.Tables == nil {
		st.Tables = make(map[string]TableStatus)
	}
	return st
}

// save writes a tenant's status file via temp file + rename so a failed
// write never corrupts a previously readable file.
func (s *Store) save(tenant string, st TenantStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status for %s: %w", tenant, err)
	}

	target := s.tenantFile(tenant)
	tmp, err := os.CreateTemp(s.dir, tenant+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace status file %s: %w", target, err)
	}
	return nil
}

// LastSyncTime returns the recorded last sync instant for (tenant, table).
// Missing files, missing tables, and unparseable values all report ok=false,
// which the caller treats as "never synced".
func (s *Store) LastSyncTime(tenant, table string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(tenant)
	ts, exists := st.Tables[table]
	if !exists || ts.LastSyncTime == "" {
		return time.Time{}, false
	}
	t, err := parseTime(ts.LastSyncTime)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"tenant": tenant, "table": table}).
			Warn("failed to parse last sync time")
		return time.Time{}, false
	}
	return t, true
}

// Update records the outcome of one table sync, recomputing the tenant-level
// table count and bumping last_updated.
func (s *Store) Update(tenant, table string, syncTime time.Time, mode string, records int, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(tenant)
	now := time.Now().Format(timeLayout)

	st.Tables[table] = TableStatus{
		TableName:     table,
		LastSyncTime:  syncTime.Format(timeLayout),
		SyncStatus:    status,
		SyncMode:      mode,
		RecordsSynced: records,
		ErrorMessage:  errMsg,
		UpdatedAt:     now,
	}
	st.DatabaseInfo.TenantID = tenant
	st.DatabaseInfo.LastUpdated = now
	st.DatabaseInfo.TotalTables = len(st.Tables)

	return s.save(tenant, st)
}

// Summary returns the full status for one tenant, for status reporting.
func (s *Store) Summary(tenant string) TenantStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(tenant)
}

// Tenants lists tenants that have a status file, sorted. Legacy
// single-table files (names containing an underscore) are skipped.
func (s *Store) Tenants() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read status dir: %w", err)
	}
	var tenants []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		if strings.Contains(stem, "_") {
			continue
		}
		tenants = append(tenants, stem)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range readLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
