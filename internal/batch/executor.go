// Package batch executes tokenized SQL scripts statement by statement. Each
// statement runs in its own autocommitted transaction; a failing statement is
// logged and recorded, and execution continues with the next one.
package batch

import (
	"context"
	"errors"
	"strings"
	"time"

	"tradeload/internal/logger"
	"tradeload/internal/metrics"
	"tradeload/internal/sqlscript"
	"tradeload/internal/storage"
)

// Summary reports the outcome of one Run.
type Summary struct {
	Executed int
	Failed   int
	Errors   []*storage.DbError
	// Err is set when the run stopped early (context cancellation).
	Err error
}

// OK reports whether every statement succeeded and the run completed.
func (s Summary) OK() bool { return s.Failed == 0 && s.Err == nil }

// Executor runs statements against an Execer.
type Executor struct {
	exec     storage.Execer
	log      logger.Logger
	attempts int
	backoff  time.Duration
	job      string
	sleep    func(context.Context, time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetry retries a failing statement up to attempts times in total,
// waiting backoff between tries.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(e *Executor) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithJob sets the job label used for step metrics.
func WithJob(job string) Option {
	return func(e *Executor) {
		if job != "" {
			e.job = job
		}
	}
}

// New returns an Executor. A nil log discards output.
func New(exec storage.Execer, log logger.Logger, opts ...Option) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	e := &Executor{exec: exec, log: log, attempts: 1, job: "tradeload", sleep: sleepCtx}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes stmts in order. It never aborts on a statement error; only
// context cancellation stops it between statements.
func (e *Executor) Run(ctx context.Context, name string, stmts []sqlscript.Statement) Summary {
	start := time.Now()
	log := e.log.WithField("script", name)

	var sum Summary
	for i, st := range stmts {
		if err := ctx.Err(); err != nil {
			sum.Err = err
			log.Warnf("batch: stopped at statement %d/%d: %v", i+1, len(stmts), err)
			break
		}
		text := strings.TrimSpace(string(st))
		if text == "" {
			continue
		}

		err := e.execWithRetry(ctx, text)
		if err == nil {
			sum.Executed++
			continue
		}

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			sum.Err = ctx.Err()
			break
		}
		dbErr := asDbError(err, text)
		sum.Failed++
		sum.Errors = append(sum.Errors, dbErr)
		if log.DebugEnabled() {
			log.WithField("statement", text).Errorf("batch: statement %d failed: %v", i+1, dbErr.Err)
		} else {
			log.Errorf("batch: statement %d failed: %v", i+1, dbErr.Err)
		}
	}

	var stepErr error
	if !sum.OK() {
		stepErr = errors.New("batch had failures")
	}
	metrics.RecordStep(e.job, "script:"+name, stepErr, time.Since(start))
	log.Infof("batch: done executed=%d failed=%d elapsed=%s", sum.Executed, sum.Failed, time.Since(start).Round(time.Millisecond))
	return sum
}

func (e *Executor) execWithRetry(ctx context.Context, text string) error {
	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if err = e.exec.Exec(ctx, text); err == nil {
			return nil
		}
		if attempt == e.attempts || ctx.Err() != nil {
			break
		}
		e.log.Debugf("batch: retry %d/%d after error: %v", attempt, e.attempts-1, err)
		if serr := e.sleep(ctx, e.backoff*time.Duration(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

// asDbError returns err as a *storage.DbError, wrapping it when the Execer
// returned a plain error.
func asDbError(err error, stmt string) *storage.DbError {
	var dbErr *storage.DbError
	if errors.As(err, &dbErr) {
		return dbErr
	}
	return &storage.DbError{Op: "exec", Statement: stmt, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
