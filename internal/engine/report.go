package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/datalift/tenantsync/internal/schema"
)

// TableResult is the outcome of one (tenant, table) sync.
type TableResult struct {
	Tenant   string          `json:"tenant"`
	Table    string          `json:"table"`
	Mode     schema.SyncMode `json:"sync_mode"`
	Records  int             `json:"records_synced"`
	Duration time.Duration   `json:"duration"`
	Err      error           `json:"-"`
	ErrMsg   string          `json:"error,omitempty"`
}

// Report accumulates per-table outcomes for one run.
type Report struct {
	TotalTables      int           `json:"total_tables"`
	SuccessCount     int           `json:"success_count"`
	FailedCount      int           `json:"failed_count"`
	FullCount        int           `json:"full_sync_count"`
	IncrementalCount int           `json:"incremental_sync_count"`
	TotalRecords     int           `json:"total_records"`
	Duration         time.Duration `json:"duration"`
	Results          []TableResult `json:"results"`
}

func (r *Report) add(res TableResult) {
	r.TotalTables++
	r.Results = append(r.Results, res)
	if res.Err != nil {
		r.FailedCount++
		return
	}
	r.SuccessCount++
	r.TotalRecords += res.Records
	if res.Mode == schema.SyncFull {
		r.FullCount++
	} else {
		r.IncrementalCount++
	}
}

// Failures returns the failed results, for the end-of-run error listing.
func (r *Report) Failures() []TableResult {
	var failed []TableResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Throughput returns rows per second over the whole run, or 0 for an
// instant/empty run.
func (r *Report) Throughput() float64 {
	if r.TotalRecords == 0 || r.Duration <= 0 {
		return 0
	}
	return float64(r.TotalRecords) / r.Duration.Seconds()
}

// Log emits the run summary and the per-table failure list.
func (r *Report) Log(log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"total_tables":     r.TotalTables,
		"success":          r.SuccessCount,
		"failed":           r.FailedCount,
		"full_syncs":       r.FullCount,
		"incremental":      r.IncrementalCount,
		"total_records":    r.TotalRecords,
		"duration_seconds": r.Duration.Seconds(),
		"rows_per_second":  r.Throughput(),
	}).Info("sync run complete")

	for _, res := range r.Failures() {
		log.WithFields(logrus.Fields{
			"tenant": res.Tenant,
			"table":  res.Table,
		}).Errorf("table sync failed: %v", res.Err)
	}
}
