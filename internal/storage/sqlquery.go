package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RowQuerier is the subset of *sql.DB used by the shared query helpers.
type RowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryPartitionCounts runs a query rendered by Dialect.PartitionCountQuery
// and scans (trade_type, period_id, num_records) rows. CHAR padding on
// period_id is trimmed.
func QueryPartitionCounts(ctx context.Context, db RowQuerier, query string) ([]PartitionCount, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, &DbError{Op: "query", Statement: query, Err: err}
	}
	defer rows.Close()

	var out []PartitionCount
	for rows.Next() {
		var (
			pc     PartitionCount
			period sql.NullString
		)
		if err := rows.Scan(&pc.TradeType, &period, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan partition count: %w", err)
		}
		// NULL period ids come back as ""; callers decide what to do with them.
		pc.PeriodID = strings.TrimRight(period.String, " ")
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, &DbError{Op: "query", Statement: query, Err: err}
	}
	return out, nil
}

// QueryExists runs a single-value COUNT/EXISTS query and reports whether it
// returned a non-zero value.
func QueryExists(ctx context.Context, db RowQuerier, query string, args ...any) (bool, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, &DbError{Op: "query", Statement: query, Err: err}
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, fmt.Errorf("scan exists: %w", err)
		}
	}
	return n > 0, rows.Err()
}
