package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tradeload/internal/storage"
)

/*
Package-level test helpers (TB-aware)
*/

func newRepo(tb testing.TB) *Repository {
	tb.Helper()
	db, err := Open(":memory:")
	if err != nil {
		tb.Fatalf("open sqlite :memory:: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func mustExec(tb testing.TB, r *Repository, sqlStmt string) {
	tb.Helper()
	if err := r.Exec(context.Background(), sqlStmt); err != nil {
		tb.Fatalf("exec %q: %v", sqlStmt, err)
	}
}

func writeFile(tb testing.TB, name, body string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

/*
Unit tests
*/

func TestTableExists(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()

	ok, err := r.TableExists(ctx, "trade", "imports")
	if err != nil || ok {
		t.Fatalf("TableExists before create = %v, %v; want false, nil", ok, err)
	}
	mustExec(t, r, dialect.CreateTextTable("trade", "imports", []string{"period_id", "reference_id"}))
	ok, err = r.TableExists(ctx, "trade", "imports")
	if err != nil || !ok {
		t.Fatalf("TableExists after create = %v, %v; want true, nil", ok, err)
	}
}

// TestPartitionCounts checks the grouped count query runs on SQLite and
// counts only non-NULL reference ids.
func TestPartitionCounts(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	mustExec(t, r, dialect.CreateTextTable("trade", "imports", []string{"period_id", "reference_id"}))
	mustExec(t, r, `INSERT INTO "imports" VALUES ('2024-3','a'),('2024-3','b'),('2024-3',NULL),('2024-10','c')`)

	got, err := r.PartitionCounts(context.Background(), "trade", "imports", "imports")
	if err != nil {
		t.Fatalf("PartitionCounts error: %v", err)
	}
	want := map[string]int64{"2024-3": 2, "2024-10": 1}
	if len(got) != len(want) {
		t.Fatalf("PartitionCounts = %+v; want %d rows", got, len(want))
	}
	for _, pc := range got {
		if pc.TradeType != "imports" {
			t.Errorf("TradeType = %q; want imports", pc.TradeType)
		}
		if want[pc.PeriodID] != pc.Count {
			t.Errorf("count[%s] = %d; want %d", pc.PeriodID, pc.Count, want[pc.PeriodID])
		}
	}
}

func TestPartitionCounts_MissingTable(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	_, err := r.PartitionCounts(context.Background(), "trade", "exports", "exports")
	var dbErr *storage.DbError
	if !errors.As(err, &dbErr) {
		t.Fatalf("error = %v; want *storage.DbError", err)
	}
}

func TestBulkCopy(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	r.cfg.BatchSize = 2
	mustExec(t, r, dialect.CreateTextTable("trade", "moneda", []string{"codigo", "nombre"}))

	path := writeFile(t, "trade.moneda.csv", "USD;Dolar\nEUR;Euro\nCLP;\n")
	n, err := r.BulkCopy(context.Background(), storage.BulkRequest{
		Schema:    "trade",
		Table:     "moneda",
		Path:      path,
		Columns:   []string{"codigo", "nombre"},
		Delimiter: ';',
	})
	if err != nil {
		t.Fatalf("BulkCopy error: %v", err)
	}
	if n != 3 {
		t.Fatalf("BulkCopy rows = %d; want 3", n)
	}

	var nulls int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM "moneda" WHERE "nombre" IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("query: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("NULL nombre rows = %d; want 1", nulls)
	}
}

func TestBulkCopy_MissingTable(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	path := writeFile(t, "trade.exports.csv", "2024-1;x\n")
	_, err := r.BulkCopy(context.Background(), storage.BulkRequest{
		Table:     "exports",
		Path:      path,
		Columns:   []string{"period_id", "reference_id"},
		Delimiter: ';',
	})
	var dbErr *storage.DbError
	if !errors.As(err, &dbErr) || dbErr.Op != "bulk_copy" {
		t.Fatalf("error = %v; want bulk_copy DbError", err)
	}
}

func TestExec_WrapsErrors(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	if err := r.Exec(context.Background(), "   "); err != nil {
		t.Fatalf("blank Exec error = %v; want nil", err)
	}
	err := r.Exec(context.Background(), "TRUNCATE TABLE x;")
	var dbErr *storage.DbError
	if !errors.As(err, &dbErr) || dbErr.Statement != "TRUNCATE TABLE x;" {
		t.Fatalf("error = %v; want DbError carrying the statement", err)
	}
}

func TestNewRepository_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
