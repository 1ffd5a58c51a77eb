// Package pipeline wires extract, inventory, reconciliation and load into
// the commands the CLI exposes: an incremental run, a dry-run plan, schema
// initialization and ad hoc script execution.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"tradeload/internal/batch"
	"tradeload/internal/config"
	"tradeload/internal/dataset"
	"tradeload/internal/extract"
	"tradeload/internal/load"
	"tradeload/internal/logger"
	"tradeload/internal/metrics"
	"tradeload/internal/partition"
	"tradeload/internal/reconcile"
	"tradeload/internal/sqlscript"
	"tradeload/internal/storage"
)

// RunResult is the outcome of one incremental run.
type RunResult struct {
	Plan reconcile.Plan
	Load load.Result
	// Report is nil when the report script did not run.
	Report *batch.Summary
}

// Pipeline runs the load steps against one warehouse.
type Pipeline struct {
	cfg  config.Config
	wh   storage.Warehouse
	open storage.Opener
	log  logger.Logger
	ex   *extract.Extractor
}

// New returns a Pipeline. open is only used for concurrent loads and may be
// nil otherwise.
func New(cfg config.Config, wh storage.Warehouse, open storage.Opener, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		cfg:  cfg,
		wh:   wh,
		open: open,
		log:  log,
		ex:   extract.New(cfg.Source, cfg.Job, log),
	}
}

// Run performs one incremental load: it reads the sources, compares them
// with what the warehouse holds, replaces drifted partitions, adds new ones
// and runs the report script when anything new was loaded.
//
// Scripts are parsed before the warehouse is touched. Table failures do not
// stop the run; they are returned as one joined error after the report.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	var res RunResult

	report, err := p.parseScript(p.cfg.Scripts.Report)
	if err != nil {
		return res, err
	}
	if _, err := p.parseScript(p.cfg.Scripts.Init); err != nil {
		return res, err
	}

	ex, err := p.ex.Extract(ctx)
	if err != nil {
		return res, fmt.Errorf("pipeline: extract: %w", err)
	}

	plan, err := p.plan(ctx, ex)
	if err != nil {
		return res, err
	}
	res.Plan = plan
	for state, n := range plan.Counts() {
		metrics.RecordPartitions(p.cfg.Job, string(state), n)
	}
	if err := p.checkOrphans(plan); err != nil {
		return res, err
	}

	start := time.Now()
	res.Load, err = p.orchestrator().Apply(ctx, plan, inputsOf(ex))
	if err != nil {
		p.done("load", err, start)
		return res, fmt.Errorf("pipeline: load: %w", err)
	}
	loadErr := res.Load.Err()
	p.done("load", loadErr, start)
	for _, tr := range res.Load.Failed() {
		p.log.WithFields(logger.Fields{"table": tr.Table, "skipped": tr.Skipped}).Errorf("pipeline: table failed: %v", tr.Err)
	}

	switch {
	case !res.Load.AnyLoaded():
		p.log.Info("pipeline: no new trade partitions loaded, skipping report")
	case len(report) == 0:
		p.log.Debug("pipeline: no report script configured")
	default:
		start = time.Now()
		sum := p.executor().Run(ctx, "report", report)
		res.Report = &sum
		p.done("report", sum.Err, start)
		if sum.Err != nil {
			return res, fmt.Errorf("pipeline: report: %w", sum.Err)
		}
		if sum.Failed > 0 {
			p.log.Warnf("pipeline: report finished with %d failed statements", sum.Failed)
		}
	}

	if loadErr != nil {
		return res, fmt.Errorf("pipeline: %w", loadErr)
	}
	return res, nil
}

// Plan reads the sources and reconciles them with the warehouse without
// changing anything.
func (p *Pipeline) Plan(ctx context.Context) (reconcile.Plan, error) {
	ex, err := p.ex.Extract(ctx)
	if err != nil {
		return reconcile.Plan{}, fmt.Errorf("pipeline: extract: %w", err)
	}
	return p.plan(ctx, ex)
}

// Init drops and recreates the schema: the DROP statements of the init
// script run first, then every table the sources load is dropped, the
// schema is dropped and created, empty text tables shaped like the source
// datasets are created and the rest of the init script runs.
func (p *Pipeline) Init(ctx context.Context) (batch.Summary, error) {
	script, err := p.parseScript(p.cfg.Scripts.Init)
	if err != nil {
		return batch.Summary{}, err
	}
	ex, err := p.ex.Extract(ctx)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("pipeline: extract: %w", err)
	}

	d := p.wh.Dialect()
	schema := p.cfg.Schema
	tables := tablesOf(ex)

	teardown := sqlscript.Filter(script, "drop")
	for _, ds := range tables {
		teardown = append(teardown, sqlscript.Statement(d.DropTable(schema, ds.Name)))
	}
	teardown = append(teardown,
		sqlscript.Statement(d.DropSchema(schema)),
		sqlscript.Statement(d.CreateSchema(schema)),
	)

	var create []sqlscript.Statement
	for _, ds := range tables {
		create = append(create, sqlscript.Statement(d.CreateTextTable(schema, ds.Name, ds.Columns)))
	}
	create = append(create, sqlscript.Exclude(script, "drop")...)

	start := time.Now()
	exec := p.executor()
	sum := exec.Run(ctx, "init:teardown", teardown)
	if sum.Err == nil {
		sum = merge(sum, exec.Run(ctx, "init", create))
	}
	p.done("init", sum.Err, start)
	p.log.WithFields(logger.Fields{
		"tables":   len(tables),
		"executed": sum.Executed,
		"failed":   sum.Failed,
	}).Info("pipeline: schema initialized")
	if sum.Err != nil {
		return sum, fmt.Errorf("pipeline: init: %w", sum.Err)
	}
	return sum, nil
}

// ExecScript tokenizes the script at path and runs it through the batch
// executor.
func (p *Pipeline) ExecScript(ctx context.Context, path string) (batch.Summary, error) {
	stmts, err := p.parseScript(path)
	if err != nil {
		return batch.Summary{}, err
	}
	sum := p.executor().Run(ctx, path, stmts)
	if sum.Err != nil {
		return sum, fmt.Errorf("pipeline: exec %s: %w", path, sum.Err)
	}
	return sum, nil
}

// plan takes the loaded inventory snapshot, counts the source datasets and
// reconciles the two.
func (p *Pipeline) plan(ctx context.Context, ex extract.Result) (reconcile.Plan, error) {
	start := time.Now()
	var opts []partition.LoadedOption
	if p.cfg.Reconcile.StrictInventory {
		opts = append(opts, partition.StrictQueries())
	}
	loaded, err := partition.Loaded(ctx, p.wh, p.cfg.Schema, p.log, opts...)
	p.done("inventory", err, start)
	if err != nil {
		return reconcile.Plan{}, fmt.Errorf("pipeline: inventory: %w", err)
	}

	source := partition.Inventory{}
	for _, t := range partition.TradeTypes {
		inv, err := partition.Source(ex.Trade[t], t)
		if err != nil {
			return reconcile.Plan{}, fmt.Errorf("pipeline: source inventory: %w", err)
		}
		source.Merge(inv)
	}

	start = time.Now()
	plan := reconcile.Reconcile(loaded, source)
	err = plan.Validate()
	p.done("reconcile", err, start)
	if err != nil {
		return reconcile.Plan{}, fmt.Errorf("pipeline: %w", err)
	}

	counts := plan.Counts()
	p.log.WithFields(logger.Fields{
		"new":      counts[partition.StateNew],
		"drifted":  counts[partition.StateDrifted],
		"stable":   counts[partition.StateStable],
		"orphaned": counts[partition.StateOrphaned],
	}).Info("pipeline: partitions reconciled")
	return plan, nil
}

// checkOrphans fails in strict mode and warns otherwise. Orphaned
// partitions are never deleted.
func (p *Pipeline) checkOrphans(plan reconcile.Plan) error {
	if p.cfg.Reconcile.FailOnOrphans {
		if err := plan.Strict(); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	}
	for _, k := range plan.Orphans() {
		p.log.WithField("partition", k.String()).Warn("pipeline: loaded partition missing from source, leaving it in place")
	}
	return nil
}

func (p *Pipeline) parseScript(path string) ([]sqlscript.Statement, error) {
	if path == "" {
		return nil, nil
	}
	stmts, err := sqlscript.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return stmts, nil
}

func (p *Pipeline) executor() *batch.Executor {
	return batch.New(p.wh, p.log, batch.WithJob(p.cfg.Job))
}

func (p *Pipeline) orchestrator() *load.Orchestrator {
	return load.New(p.wh, p.log, load.Config{
		Schema:        p.cfg.Schema,
		StagingDir:    p.cfg.Warehouse.StagingDir,
		KeepStaging:   p.cfg.Warehouse.KeepStaging,
		Delimiter:     extract.Comma,
		DeleteRetries: p.cfg.Load.DeleteRetries,
		RetryBackoff:  p.cfg.Load.RetryBackoff.D(),
		Concurrent:    p.cfg.Load.Concurrent,
		Opener:        p.open,
		Job:           p.cfg.Job,
	})
}

// done logs and records one timed step.
func (p *Pipeline) done(step string, err error, start time.Time) {
	d := time.Since(start)
	metrics.RecordStep(p.cfg.Job, step, err, d)
	l := p.log.WithFields(logger.Fields{"step": step, "duration": d.Round(time.Millisecond).String()})
	if err != nil {
		l.Warnf("pipeline: step failed: %v", err)
		return
	}
	l.Info("pipeline: step done")
}

func inputsOf(ex extract.Result) load.Inputs {
	return load.Inputs{
		Dimensions: ex.Dimensions,
		Currency:   ex.Currency,
		Imports:    ex.Trade[partition.Imports],
		Exports:    ex.Trade[partition.Exports],
	}
}

// tablesOf lists every dataset the run loads, fact tables first.
func tablesOf(ex extract.Result) []dataset.Named {
	var out []dataset.Named
	for _, t := range partition.TradeTypes {
		if ds, ok := ex.Trade[t]; ok {
			out = append(out, ds)
		}
	}
	if ex.Currency != nil {
		out = append(out, *ex.Currency)
	}
	return append(out, ex.Dimensions...)
}

func merge(a, b batch.Summary) batch.Summary {
	a.Executed += b.Executed
	a.Failed += b.Failed
	a.Errors = append(a.Errors, b.Errors...)
	if a.Err == nil {
		a.Err = b.Err
	}
	return a
}
