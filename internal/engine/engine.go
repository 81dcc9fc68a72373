// Package engine coordinates the sync: per-tenant serial, per-table parallel,
// with durable per-pair checkpoints and bounded retries on transient errors.
package engine

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/datalift/tenantsync/internal/extract"
	"github.com/datalift/tenantsync/internal/normalize"
	"github.com/datalift/tenantsync/internal/schema"
)

// maxTableWorkers caps table-level parallelism within a tenant. Three keeps
// source connection pressure and warehouse job contention bounded while the
// tenant-serial outer loop keeps checkpoint files single-writer.
const maxTableWorkers = 3

// The engine depends on narrow views of its collaborators so tests can
// substitute fakes.

type analyzer interface {
	Analyze(ctx context.Context, tenant, table string) (*schema.TableInfo, error)
}

type extractor interface {
	Run(ctx context.Context, info *schema.TableInfo, mode schema.SyncMode, lastSync, now time.Time) ([]extract.Row, error)
}

type applier interface {
	EnsureTable(ctx context.Context, table string, sch bigquery.Schema) error
	Write(ctx context.Context, table string, rows []extract.Row, sch bigquery.Schema, primaryKeys []string, mode schema.SyncMode) error
}

type checkpointStore interface {
	LastSyncTime(tenant, table string) (time.Time, bool)
	Update(tenant, table string, syncTime time.Time, mode string, records int, status, errMsg string) error
}

type normalizer interface {
	Batch(rows []extract.Row, fieldTypes map[string]string) ([]extract.Row, normalize.Stats)
}

// Options carries the retry knobs.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Engine runs the sync across all (tenant, table) pairs.
type Engine struct {
	analyzer    analyzer
	extractor   extractor
	applier     applier
	checkpoints checkpointStore
	normalizer  normalizer
	opts        Options
	log         *logrus.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New wires an engine from its collaborators.
func New(an analyzer, ex extractor, ap applier, cp checkpointStore, n normalizer, opts Options, log *logrus.Logger) *Engine {
	return &Engine{
		analyzer:    an,
		extractor:   ex,
		applier:     ap,
		checkpoints: cp,
		normalizer:  n,
		opts:        opts,
		log:         log,
		now:         time.Now,
	}
}

// Run syncs every table for every tenant. Tenants are processed strictly
// serially; tables within a tenant run in parallel up to the worker cap.
// Per-table failures are recorded, never propagated: the run always visits
// every pair.
func (e *Engine) Run(ctx context.Context, tenants, tables []string, forceFull bool) *Report {
	report := &Report{}
	start := e.now()

	e.log.WithFields(logrus.Fields{
		"tenants":    len(tenants),
		"tables":     len(tables),
		"force_full": forceFull,
	}).Info("starting sync run")

	for _, tenant := range tenants {
		tenantStart := e.now()
		e.log.WithField("tenant", tenant).Info("processing tenant")

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(len(tables), maxTableWorkers))

		for _, table := range tables {
			table := table
			g.Go(func() error {
				res := e.syncTable(gctx, tenant, table, forceFull)
				mu.Lock()
				report.add(res)
				mu.Unlock()
				return nil
			})
		}
		g.Wait() //nolint:errcheck // workers never return errors

		e.log.WithFields(logrus.Fields{
			"tenant":           tenant,
			"duration_seconds": e.now().Sub(tenantStart).Seconds(),
		}).Info("tenant complete")
	}

	report.Duration = e.now().Sub(start)
	return report
}

// syncTable runs the full pipeline for one (tenant, table) pair. The run
// instant is captured once here; on success it becomes the checkpoint's
// last_sync_time, so the next incremental window starts from the beginning
// of this run rather than the max source timestamp.
func (e *Engine) syncTable(ctx context.Context, tenant, table string, forceFull bool) TableResult {
	now := e.now()
	res := TableResult{Tenant: tenant, Table: table, Mode: schema.SyncFull}
	log := e.log.WithFields(logrus.Fields{"tenant": tenant, "table": table})

	defer func() {
		res.Duration = e.now().Sub(now)
	}()

	fail := func(err error) TableResult {
		res.Err = err
		res.ErrMsg = err.Error()
		log.WithError(err).Error("table sync failed")
		if uerr := e.checkpoints.Update(tenant, table, now, string(res.Mode), 0, "FAILED", err.Error()); uerr != nil {
			log.WithError(uerr).Warn("failed to record failure in checkpoint")
		}
		return res
	}

	info, err := e.analyzer.Analyze(ctx, tenant, table)
	if err != nil {
		return fail(err)
	}

	if err := withRetry(ctx, e.opts.MaxRetries, e.opts.RetryDelay, func() error {
		return e.applier.EnsureTable(ctx, table, info.Schema)
	}); err != nil {
		return fail(err)
	}

	mode, lastSync := e.decideMode(info, forceFull, log)
	res.Mode = mode

	var rows []extract.Row
	if err := withRetry(ctx, e.opts.MaxRetries, e.opts.RetryDelay, func() error {
		var runErr error
		rows, runErr = e.extractor.Run(ctx, info, mode, lastSync, now)
		return runErr
	}); err != nil {
		return fail(err)
	}

	if len(rows) > 0 {
		normalized, stats := e.normalizer.Batch(rows, info.FieldTypes)
		if len(stats) > 0 {
			log.WithField("columns_converted", len(stats)).Debug("normalized batch")
		}
		if err := withRetry(ctx, e.opts.MaxRetries, e.opts.RetryDelay, func() error {
			return e.applier.Write(ctx, table, normalized, info.Schema, info.PrimaryKeys, mode)
		}); err != nil {
			return fail(err)
		}
		res.Records = len(rows)
	} else {
		log.Info("no rows to sync")
	}

	// Checkpoint write failures are logged, not fatal: the next run simply
	// re-syncs the window.
	if err := e.checkpoints.Update(tenant, table, now, string(mode), res.Records, "SUCCESS", ""); err != nil {
		log.WithError(err).Warn("failed to update checkpoint")
	}

	log.WithFields(logrus.Fields{"mode": mode, "records": res.Records}).Info("table sync complete")
	return res
}

// decideMode picks FULL or INCREMENTAL. Anything that would make an
// incremental window meaningless — a forced run, no prior checkpoint, or no
// timestamp column — downgrades to FULL before the extractor is called.
func (e *Engine) decideMode(info *schema.TableInfo, forceFull bool, log *logrus.Entry) (schema.SyncMode, time.Time) {
	if forceFull {
		log.Info("full sync (forced)")
		return schema.SyncFull, time.Time{}
	}
	lastSync, ok := e.checkpoints.LastSyncTime(info.Tenant, info.Table)
	if !ok {
		log.Info("full sync (first sync)")
		return schema.SyncFull, time.Time{}
	}
	if info.TimestampField == "" {
		log.Info("full sync (no timestamp field)")
		return schema.SyncFull, time.Time{}
	}
	log.WithField("last_sync", lastSync).Info("incremental sync")
	return schema.SyncIncremental, lastSync
}
