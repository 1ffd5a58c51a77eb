package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tradeload/internal/logger"
)

// TestLoadBatches_Basic verifies rows are grouped into batches and copyFn is
// called with the expected counts. It also checks the total equals the sum of
// all successful copyFn returns.
func TestLoadBatches_Basic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	columns := []string{"c1", "c2"}

	in := make(chan []any, 8)
	for i := 0; i < 7; i++ {
		in <- []any{i, "x"}
	}
	close(in)

	var calls int32
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return int64(len(rows)), nil
	}

	total, err := LoadBatches(ctx, logger.Nop(), columns, in, 3, copyFn)
	if err != nil {
		t.Fatalf("LoadBatches error: %v", err)
	}
	if total != 7 {
		t.Fatalf("total rows %d, want 7", total)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("copyFn calls %d, want 3 (3+3+1)", got)
	}
}

// TestLoadBatches_ErrorPropagation ensures the first copy error is propagated
// and processing stops after that batch.
func TestLoadBatches_ErrorPropagation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	columns := []string{"c"}

	in := make(chan []any, 5)
	for i := 0; i < 5; i++ {
		in <- []any{i}
	}
	close(in)

	wantErr := errors.New("copy failed")
	var batches int
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		batches++
		if batches == 2 {
			return int64(len(rows)), wantErr
		}
		return int64(len(rows)), nil
	}

	total, err := LoadBatches(ctx, logger.Nop(), columns, in, 2, copyFn)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want error %v, got %v", wantErr, err)
	}
	// Total must include rows from successful batches (at least the first 2).
	if total < 4 {
		t.Fatalf("total rows %d, want >= 4", total)
	}
}

// TestLoadBatches_ContextCancel checks the loader exits on context cancellation.
func TestLoadBatches_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	columns := []string{"c"}
	in := make(chan []any, 1)
	in <- []any{1}

	// copyFn sleeps to simulate slow I/O; cancel triggers early exit.
	copyFn := func(ctx context.Context, _ []string, rows [][]any) (int64, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(2 * time.Second):
			return int64(len(rows)), nil
		}
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := LoadBatches(ctx, logger.Nop(), columns, in, 2, copyFn)
		errCh <- err
	}()

	cancel() // cancel promptly
	close(in)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected cancellation error, got nil")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("LoadBatches did not return after context cancel")
	}
}

func writeStaged(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trade.imports.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	return path
}

// TestCopyStaged_Batches streams a staged file through LoadBatches and checks
// empty fields arrive as NULL.
func TestCopyStaged_Batches(t *testing.T) {
	t.Parallel()

	path := writeStaged(t, "a;1\nb;\nc;3\n")

	var got [][]any
	copyFn := func(_ context.Context, cols []string, rows [][]any) (int64, error) {
		if len(cols) != 2 {
			t.Errorf("columns = %v; want 2", cols)
		}
		for _, r := range rows {
			got = append(got, append([]any(nil), r...))
		}
		return int64(len(rows)), nil
	}

	req := BulkRequest{Table: "imports", Path: path, Columns: []string{"k", "v"}, Delimiter: ';'}
	n, err := CopyStaged(context.Background(), logger.Nop(), req, 2, copyFn)
	if err != nil {
		t.Fatalf("CopyStaged error: %v", err)
	}
	if n != 3 || len(got) != 3 {
		t.Fatalf("copied %d rows (%d seen); want 3", n, len(got))
	}
	if got[1][0] != "b" || got[1][1] != nil {
		t.Fatalf("row[1] = %#v; want [b <nil>]", got[1])
	}
}

// TestCopyStaged_WidthMismatch surfaces malformed staged files as errors.
func TestCopyStaged_WidthMismatch(t *testing.T) {
	t.Parallel()

	path := writeStaged(t, "a;1\nb;2;extra\n")
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		return int64(len(rows)), nil
	}
	req := BulkRequest{Table: "imports", Path: path, Columns: []string{"k", "v"}, Delimiter: ';'}
	if _, err := CopyStaged(context.Background(), logger.Nop(), req, 10, copyFn); err == nil {
		t.Fatal("expected error for record with extra field")
	}
}

func TestCopyStaged_RequiresColumns(t *testing.T) {
	t.Parallel()

	_, err := CopyStaged(context.Background(), nil, BulkRequest{Table: "t"}, 10, nil)
	if err == nil {
		t.Fatal("expected error for empty columns")
	}
}
