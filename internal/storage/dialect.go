package storage

import (
	"fmt"
	"strings"
)

// Dialect renders the handful of statements the pipeline issues itself. Each
// backend returns a configured value from Warehouse.Dialect.
type Dialect struct {
	Name string

	// Quote quotes a single identifier.
	Quote func(string) string

	// TextType is the column type used for tables created from dataset
	// headers; every loaded value is text.
	TextType string

	// CastType is the type period_id is cast to in the count query.
	CastType string

	// NoSchemas drops the schema qualifier from table names and turns schema
	// DDL into no-ops (SQLite).
	NoSchemas bool

	// NoTruncate means TRUNCATE TABLE is not available; Truncate returns "".
	NoTruncate bool

	// EscapeBackslash doubles backslashes inside string literals (MySQL).
	EscapeBackslash bool

	// CascadeDropSchema appends CASCADE to DROP SCHEMA (Postgres).
	CascadeDropSchema bool
}

// Table returns the qualified, quoted table name.
func (d Dialect) Table(schema, table string) string {
	if d.NoSchemas || schema == "" {
		return d.Quote(table)
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

// Literal renders s as a string literal.
func (d Dialect) Literal(s string) string {
	if d.EscapeBackslash {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Truncate returns TRUNCATE TABLE, or "" when the backend has none.
func (d Dialect) Truncate(schema, table string) string {
	if d.NoTruncate {
		return ""
	}
	return "TRUNCATE TABLE " + d.Table(schema, table) + ";"
}

// DeleteAll returns an unconditional DELETE.
func (d Dialect) DeleteAll(schema, table string) string {
	return "DELETE FROM " + d.Table(schema, table) + ";"
}

// DeleteWhereEquals deletes the rows where column equals value.
func (d Dialect) DeleteWhereEquals(schema, table, column, value string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s;",
		d.Table(schema, table), d.Quote(column), d.Literal(value))
}

// DropTable returns DROP TABLE IF EXISTS.
func (d Dialect) DropTable(schema, table string) string {
	return "DROP TABLE IF EXISTS " + d.Table(schema, table) + ";"
}

// DropSchema returns DROP SCHEMA IF EXISTS, or "" without schema support.
func (d Dialect) DropSchema(schema string) string {
	if d.NoSchemas {
		return ""
	}
	stmt := "DROP SCHEMA IF EXISTS " + d.Quote(schema)
	if d.CascadeDropSchema {
		stmt += " CASCADE"
	}
	return stmt + ";"
}

// CreateSchema returns CREATE SCHEMA, or "" without schema support.
func (d Dialect) CreateSchema(schema string) string {
	if d.NoSchemas {
		return ""
	}
	return "CREATE SCHEMA " + d.Quote(schema) + ";"
}

// CreateTextTable creates a table with one text column per entry in cols.
func (d Dialect) CreateTextTable(schema, table string, cols []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.Quote(c) + " " + d.TextType + " NULL"
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", d.Table(schema, table), strings.Join(defs, ",\n  "))
}

// PartitionCountQuery counts reference_id per period_id, labeled with the
// trade type so results from several tables can be merged.
func (d Dialect) PartitionCountQuery(schema, table, tradeType string) string {
	return fmt.Sprintf(
		"WITH cte AS (SELECT %s AS trade_type, CAST(%s AS %s) AS period_id, %s AS reference_id FROM %s) "+
			"SELECT trade_type, period_id, COUNT(reference_id) AS num_records FROM cte "+
			"GROUP BY trade_type, period_id ORDER BY trade_type, period_id",
		d.Literal(tradeType), d.Quote("period_id"), d.CastType, d.Quote("reference_id"), d.Table(schema, table),
	)
}

// QuoteWith returns an identifier quoting function using open/close runes,
// doubling the close rune inside the name.
func QuoteWith(open, close string) func(string) string {
	return func(id string) string {
		return open + strings.ReplaceAll(id, close, close+close) + close
	}
}
