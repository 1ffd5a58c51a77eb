// This file implements the client-side bulk path shared by backends that
// cannot point the server at a staged file: the file is streamed into
// batches and each batch is handed to the backend's CopyFn.
package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeload/internal/logger"
)

// DefaultBatchSize is used when Config.BatchSize is not set.
const DefaultBatchSize = 5000

// CopyFn inserts rows aligned to columns and returns the number inserted.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadBatches drains rows from in, groups them into batches of batchSize and
// calls copyFn per non-empty batch. It returns the total reported by copyFn
// and the first error. Progress is logged at debug level per flush.
func LoadBatches(
	ctx context.Context,
	log logger.Logger,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}

	var (
		total   int64
		batches int64
		batch   = make([][]any, 0, batchSize)
		start   = time.Now()
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n
		batch = batch[:0]
		if err != nil {
			log.Errorf("loader: copy failed after=%d total=%d err=%v", n, total, err)
			return err
		}
		batches++
		log.Debugf("loader: batch=%d inserted=%d total=%d elapsed=%s",
			batches, n, total, time.Since(start).Truncate(time.Millisecond))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case row, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}

// StreamStaged reads the headerless delimited file at path and sends one
// []any per record on out; empty fields become NULL. Every record must have
// width fields. out is closed on return.
func StreamStaged(ctx context.Context, path string, delim rune, width int, out chan<- []any) error {
	defer close(out)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	if delim == 0 {
		delim = ';'
	}
	cr := csv.NewReader(f)
	cr.Comma = delim
	cr.FieldsPerRecord = width
	cr.ReuseRecord = true

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read staged file %s: %w", path, err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			if v != "" {
				row[i] = v
			}
		}
		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CopyStaged streams req.Path through LoadBatches into copyFn.
func CopyStaged(ctx context.Context, log logger.Logger, req BulkRequest, batchSize int, copyFn CopyFn) (int64, error) {
	if len(req.Columns) == 0 {
		return 0, fmt.Errorf("bulk copy %s: columns must not be empty", req.Table)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan []any, batchSize)
	g.Go(func() error {
		return StreamStaged(gctx, req.Path, req.Delimiter, len(req.Columns), rows)
	})

	var total int64
	g.Go(func() error {
		n, err := LoadBatches(gctx, log, req.Columns, rows, batchSize, copyFn)
		total = n
		return err
	})
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}
