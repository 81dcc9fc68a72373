package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// backupSubdir is where migrated single-table files are parked.
const backupSubdir = "backup_single_table_files"

// LegacyFile describes one pre-migration single-table status file.
type LegacyFile struct {
	Path   string
	Tenant string
	Table  string
}

// MigrationResult summarizes one migration run.
type MigrationResult struct {
	TenantsWritten int
	FilesMigrated  int
	FilesSkipped   int
}

// ScanLegacyFiles finds single-table status files (<tenant>_<table>.json) in
// the status directory. Tenant names never contain an underscore, so the
// split is on the first one; table names may contain more.
func (s *Store) ScanLegacyFiles() ([]LegacyFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanLegacyLocked()
}

func (s *Store) scanLegacyLocked() ([]LegacyFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read status dir: %w", err)
	}
	var found []LegacyFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		i := strings.Index(stem, "_")
		if i <= 0 || i == len(stem)-1 {
			continue
		}
		found = append(found, LegacyFile{
			Path:   filepath.Join(s.dir, name),
			Tenant: stem[:i],
			Table:  stem[i+1:],
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

// MigrateLegacyFiles merges single-table status files into tenant-grouped
// files and moves the originals into the backup subdirectory. Files that do
// not parse as a table status are skipped, not deleted.
func (s *Store) MigrateLegacyFiles() (MigrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result MigrationResult

	legacy, err := s.scanLegacyLocked()
	if err != nil {
		return result, err
	}
	if len(legacy) == 0 {
		s.log.Info("no single-table status files to migrate")
		return result, nil
	}

	grouped := make(map[string]TenantStatus)
	var migrated []LegacyFile

	for _, lf := range legacy {
		data, err := os.ReadFile(lf.Path)
		if err != nil {
			s.log.WithError(err).WithField("file", lf.Path).Warn("skipping unreadable legacy file")
			result.FilesSkipped++
			continue
		}
		var ts TableStatus
		if err := json.Unmarshal(data, &ts); err != nil || ts.TableName == "" {
			s.log.WithField("file", lf.Path).Warn("skipping malformed legacy file")
			result.FilesSkipped++
			continue
		}

		st, ok := grouped[lf.Tenant]
		if !ok {
			st = TenantStatus{
				DatabaseInfo: DatabaseInfo{TenantID: lf.Tenant},
				Tables:       make(map[string]TableStatus),
			}
		}
		st.Tables[lf.Table] = ts
		grouped[lf.Tenant] = st

		migrated = append(migrated, lf)
		result.FilesMigrated++
	}

	now := time.Now().Format(timeLayout)
	for tenant, st := range grouped {
		st.DatabaseInfo.LastUpdated = now
		st.DatabaseInfo.TotalTables = len(st.Tables)
		if err := s.save(tenant, st); err != nil {
			return result, fmt.Errorf("write migrated status for %s: %w", tenant, err)
		}
		result.TenantsWritten++
		s.log.WithFields(logrus.Fields{"tenant": tenant, "tables": len(st.Tables)}).
			Info("wrote tenant status file")
	}

	if len(migrated) > 0 {
		backupDir := filepath.Join(s.dir, backupSubdir)
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return result, fmt.Errorf("create backup dir: %w", err)
		}
		for _, lf := range migrated {
			dst := filepath.Join(backupDir, filepath.Base(lf.Path))
			if err := os.Rename(lf.Path, dst); err != nil {
				s.log.WithError(err).WithField("file", lf.Path).
					Warn("failed to move legacy file to backup")
			}
		}
	}

	return result, nil
}
