// Package load applies a reconciliation plan to the warehouse: dimension and
// currency tables are replaced in full, then each fact table has its drifted
// partitions deleted and its planned partitions bulk loaded from a staged
// file.
package load

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradeload/internal/batch"
	"tradeload/internal/dataset"
	"tradeload/internal/logger"
	"tradeload/internal/metrics"
	"tradeload/internal/partition"
	"tradeload/internal/reconcile"
	"tradeload/internal/sqlscript"
	"tradeload/internal/storage"
)

// Config tunes an Orchestrator.
type Config struct {
	Schema string

	// StagingDir is the parent of the run-scoped staging directory.
	// Defaults to os.TempDir().
	StagingDir  string
	KeepStaging bool
	Delimiter   rune

	DeleteRetries int
	RetryBackoff  time.Duration

	// Concurrent loads imports and exports in parallel, each on its own
	// handle from Opener.
	Concurrent bool
	Opener     storage.Opener

	Job string
}

// Inputs are the datasets of one run.
type Inputs struct {
	Dimensions []dataset.Named
	Currency   *dataset.Named
	Imports    dataset.Named
	Exports    dataset.Named
}

// TableResult is the outcome for one table.
type TableResult struct {
	Table   string
	Rows    int64
	Deleted []string
	Skipped bool
	Err     error
}

// Result is the outcome of Apply.
type Result struct {
	LoadedImports bool
	LoadedExports bool
	Tables        []TableResult
}

// Failed returns the tables that ended with an error.
func (r Result) Failed() []TableResult {
	var out []TableResult
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// AnyLoaded reports whether any fact table received rows.
func (r Result) AnyLoaded() bool { return r.LoadedImports || r.LoadedExports }

// Err joins the errors of failed tables, or returns nil.
func (r Result) Err() error {
	var errs []error
	for _, t := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", t.Table, t.Err))
	}
	return errors.Join(errs...)
}

// Orchestrator applies plans against one warehouse.
type Orchestrator struct {
	wh  storage.Warehouse
	log logger.Logger
	cfg Config
}

// New returns an Orchestrator. A nil log discards output.
func New(wh storage.Warehouse, log logger.Logger, cfg Config) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ';'
	}
	if cfg.DeleteRetries <= 0 {
		cfg.DeleteRetries = 1
	}
	if cfg.Job == "" {
		cfg.Job = "tradeload"
	}
	return &Orchestrator{wh: wh, log: log.WithField("component", "load"), cfg: cfg}
}

// Apply runs dimensions, currency, imports and exports in that order. A
// failing table does not stop the others; failures are reported in the
// Result. Only setup errors (staging directory) are returned.
func (o *Orchestrator) Apply(ctx context.Context, plan reconcile.Plan, in Inputs) (Result, error) {
	runDir, err := o.stagingDir()
	if err != nil {
		return Result{}, err
	}
	if o.cfg.KeepStaging {
		o.log.Infof("load: keeping staged files in %s", runDir)
	} else {
		defer func() {
			if err := os.RemoveAll(runDir); err != nil {
				o.log.Warnf("load: remove staging dir %s: %v", runDir, err)
			}
		}()
	}

	var res Result
	full := append([]dataset.Named(nil), in.Dimensions...)
	if in.Currency != nil {
		full = append(full, *in.Currency)
	}
	for _, ds := range full {
		if err := ctx.Err(); err != nil {
			res.Tables = append(res.Tables, TableResult{Table: ds.Name, Err: err})
			continue
		}
		res.Tables = append(res.Tables, o.replace(ctx, o.wh, runDir, ds))
	}

	facts := []struct {
		t  partition.TradeType
		ds dataset.Named
	}{
		{partition.Imports, in.Imports},
		{partition.Exports, in.Exports},
	}
	trade := make([]TableResult, len(facts))

	if o.cfg.Concurrent && o.cfg.Opener != nil {
		var g errgroup.Group
		for i, f := range facts {
			i, f := i, f
			g.Go(func() error {
				wh, err := o.cfg.Opener(ctx)
				if err != nil {
					trade[i] = TableResult{Table: string(f.t), Err: fmt.Errorf("open warehouse: %w", err)}
					return nil
				}
				defer wh.Close()
				trade[i] = o.applyTrade(ctx, wh, runDir, f.t, f.ds, plan.ForType(f.t))
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, f := range facts {
			trade[i] = o.applyTrade(ctx, o.wh, runDir, f.t, f.ds, plan.ForType(f.t))
		}
	}

	for i, f := range facts {
		tr := trade[i]
		res.Tables = append(res.Tables, tr)
		loaded := tr.Err == nil && !tr.Skipped && tr.Rows > 0
		switch f.t {
		case partition.Imports:
			res.LoadedImports = loaded
		case partition.Exports:
			res.LoadedExports = loaded
		}
	}
	return res, nil
}

// stagingDir creates the run-scoped directory under cfg.StagingDir.
func (o *Orchestrator) stagingDir() (string, error) {
	parent := o.cfg.StagingDir
	if parent == "" {
		parent = os.TempDir()
	}
	dir := filepath.Join(parent, "tradeload-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("load: create staging dir: %w", err)
	}
	return dir, nil
}

// replace empties table ds.Name and loads ds in full. An empty dataset
// leaves the table untouched.
func (o *Orchestrator) replace(ctx context.Context, wh storage.Warehouse, runDir string, ds dataset.Named) TableResult {
	tr := TableResult{Table: ds.Name}
	log := o.log.WithField("table", ds.Name)
	if ds.Len() == 0 {
		log.Warn("load: empty dataset, table left as is")
		tr.Skipped = true
		return tr
	}

	if err := o.truncate(ctx, wh, ds.Name); err != nil {
		log.Errorf("load: could not empty table: %v", err)
		tr.Err = err
		return tr
	}
	tr.Rows, tr.Err = o.bulk(ctx, wh, runDir, ds.Name, ds, log)
	return tr
}

// truncate issues TRUNCATE TABLE and falls back to DELETE FROM when the
// backend has no TRUNCATE or it fails.
func (o *Orchestrator) truncate(ctx context.Context, wh storage.Warehouse, table string) error {
	d := wh.Dialect()
	if stmt := d.Truncate(o.cfg.Schema, table); stmt != "" {
		err := wh.Exec(ctx, stmt)
		if err == nil {
			return nil
		}
		o.log.WithField("table", table).Warnf("load: truncate failed, falling back to delete: %v", err)
	}
	return wh.Exec(ctx, d.DeleteAll(o.cfg.Schema, table))
}

// applyTrade deletes the drifted partitions of t, then loads the planned ones.
func (o *Orchestrator) applyTrade(ctx context.Context, wh storage.Warehouse, runDir string, t partition.TradeType, ds dataset.Named, tp reconcile.TypePlan) TableResult {
	table := string(t)
	tr := TableResult{Table: table}
	log := o.log.WithField("table", table)
	if err := ctx.Err(); err != nil {
		tr.Err = err
		return tr
	}

	if len(tp.ToDelete) > 0 {
		deleted, err := o.deletePartitions(ctx, wh, table, tp.ToDelete)
		tr.Deleted = deleted
		if err != nil {
			log.Errorf("load: skipping insert, partition delete failed: %v", err)
			tr.Err = err
			tr.Skipped = true
			return tr
		}
	}

	if len(tp.ToLoad) == 0 {
		log.Info("load: nothing to load")
		tr.Skipped = true
		return tr
	}
	subset, err := ds.FilterIn(partition.PeriodColumn, tp.ToLoad)
	if err != nil {
		tr.Err = err
		return tr
	}
	if subset.Len() == 0 {
		log.Warnf("load: no source rows for planned periods=%v", tp.ToLoad)
		tr.Skipped = true
		return tr
	}
	log.Infof("load: loading periods=%v rows=%d", tp.ToLoad, subset.Len())
	tr.Rows, tr.Err = o.bulk(ctx, wh, runDir, table, subset, log)
	return tr
}

// deletePartitions removes every period in periods from table through the
// batch executor with retries. It returns the periods that were deleted.
func (o *Orchestrator) deletePartitions(ctx context.Context, wh storage.Warehouse, table string, periods []string) ([]string, error) {
	start := time.Now()
	d := wh.Dialect()
	stmts := make([]sqlscript.Statement, len(periods))
	byStmt := make(map[string]string, len(periods))
	for i, p := range periods {
		s := d.DeleteWhereEquals(o.cfg.Schema, table, partition.PeriodColumn, p)
		stmts[i] = sqlscript.Statement(s)
		byStmt[s] = p
	}

	ex := batch.New(wh, o.log, batch.WithRetry(o.cfg.DeleteRetries, o.cfg.RetryBackoff), batch.WithJob(o.cfg.Job))
	sum := ex.Run(ctx, "delete:"+table, stmts)

	failed := map[string]bool{}
	var errs []error
	for _, e := range sum.Errors {
		failed[byStmt[e.Statement]] = true
		errs = append(errs, e)
	}
	if sum.Err != nil {
		errs = append(errs, sum.Err)
	}
	var deleted []string
	for i, p := range periods {
		// statements after a cancellation never ran
		if i < sum.Executed+sum.Failed && !failed[p] {
			deleted = append(deleted, p)
		}
	}
	err := errors.Join(errs...)
	metrics.RecordStep(o.cfg.Job, "delete", err, time.Since(start))
	return deleted, err
}

// bulk stages ds and loads it into table with one BulkCopy.
func (o *Orchestrator) bulk(ctx context.Context, wh storage.Warehouse, runDir, table string, ds dataset.Named, log logger.Logger) (int64, error) {
	start := time.Now()
	ds.Name = table
	path, err := ds.Stage(runDir, o.cfg.Schema, o.cfg.Delimiter)
	if err != nil {
		return 0, err
	}
	metrics.RecordRow(o.cfg.Job, "staged", int64(ds.Len()))

	n, err := wh.BulkCopy(ctx, storage.BulkRequest{
		Schema:    o.cfg.Schema,
		Table:     table,
		Path:      path,
		Columns:   ds.Columns,
		Delimiter: o.cfg.Delimiter,
	})
	metrics.RecordStep(o.cfg.Job, "bulk_copy", err, time.Since(start))
	if err != nil {
		log.Errorf("load: bulk copy failed: %v", err)
		return n, err
	}
	metrics.RecordRow(o.cfg.Job, "inserted", n)
	if n != int64(ds.Len()) {
		log.Warnf("load: backend reported rows=%d staged=%d", n, ds.Len())
	}
	log.Infof("load: bulk copy done rows=%d elapsed=%s", n, time.Since(start).Round(time.Millisecond))
	return n, nil
}
