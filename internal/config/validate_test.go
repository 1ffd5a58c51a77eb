package config

import (
	"strings"
	"testing"
)

// validConfig returns a config that passes Validate without errors.
func validConfig() Config {
	c := Config{
		Schema: "canola",
		Warehouse: Warehouse{
			Kind: "postgres",
			DSN:  "postgres://u:p@localhost:5432/trade",
		},
		Source: Source{
			TradeDir:      "data",
			DimensionsDir: "dims",
			CurrencyDir:   "cur",
			Imports: TradeFile{
				Columns:          []string{"NUMENCRIPTADO", "FECTRA", "NUMITEM"},
				DateColumn:       "FECTRA",
				ReferenceColumns: []string{"NUMENCRIPTADO", "NUMITEM"},
			},
			Exports: TradeFile{
				Columns:          []string{"NUMEROIDENT", "FECHAACEPT", "NUMEROITEM"},
				DateColumn:       "FECHAACEPT",
				ReferenceColumns: []string{"NUMEROIDENT", "NUMEROITEM"},
			},
		},
		Scripts: Scripts{Report: "report.sql"},
	}
	c.ApplyDefaults()
	return c
}

func findIssue(issues []Issue, path string) (Issue, bool) {
	for _, iss := range issues {
		if iss.Path == path {
			return iss, true
		}
	}
	return Issue{}, false
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	if issues := Validate(validConfig()); len(issues) != 0 {
		t.Fatalf("Validate(valid) = %v; want no issues", issues)
	}
}

func TestValidate_Issues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Config)
		path     string
		severity IssueSeverity
		contains string
	}{
		{
			name:     "schema must be an identifier",
			mutate:   func(c *Config) { c.Schema = "drop table" },
			path:     "schema",
			severity: SeverityError,
			contains: "not a plain SQL identifier",
		},
		{
			name:     "unknown warehouse kind",
			mutate:   func(c *Config) { c.Warehouse.Kind = "oracle" },
			path:     "warehouse.kind",
			severity: SeverityError,
			contains: "must be one of",
		},
		{
			name:     "missing dsn",
			mutate:   func(c *Config) { c.Warehouse.DSN = "" },
			path:     "warehouse.dsn",
			severity: SeverityError,
			contains: "must not be empty",
		},
		{
			name:     "date column not in columns",
			mutate:   func(c *Config) { c.Source.Imports.DateColumn = "FECHA" },
			path:     "source.imports.date_column",
			severity: SeverityError,
			contains: `"FECHA" is not in columns`,
		},
		{
			name:     "derived column listed",
			mutate:   func(c *Config) { c.Source.Exports.Columns = append(c.Source.Exports.Columns, "period_id") },
			path:     "source.exports.columns",
			severity: SeverityError,
			contains: "derived during extract",
		},
		{
			name:     "duplicate columns",
			mutate:   func(c *Config) { c.Source.Exports.Columns = append(c.Source.Exports.Columns, "NUMEROITEM") },
			path:     "source.exports.columns",
			severity: SeverityError,
			contains: "duplicates",
		},
		{
			name:     "bad date layout",
			mutate:   func(c *Config) { c.Source.Imports.DateLayout = "2006" },
			path:     "source.imports.date_layout",
			severity: SeverityError,
			contains: "does not carry",
		},
		{
			name:     "prompush needs a gateway",
			mutate:   func(c *Config) { c.Metrics.Backend = "prompush" },
			path:     "metrics.pushgateway_url",
			severity: SeverityError,
			contains: "required when Backend=prompush",
		},
		{
			name:     "bulk method ignored outside mssql",
			mutate:   func(c *Config) { c.Warehouse.BulkMethod = "copy_in" },
			path:     "warehouse.bulk_method",
			severity: SeverityWarning,
			contains: "only applies to mssql",
		},
		{
			name: "concurrent in-memory sqlite",
			mutate: func(c *Config) {
				c.Warehouse = Warehouse{Kind: "sqlite", DSN: ":memory:"}
				c.Load.Concurrent = true
			},
			path:     "load.concurrent",
			severity: SeverityError,
			contains: "not shared",
		},
		{
			name:     "missing report script",
			mutate:   func(c *Config) { c.Scripts.Report = "" },
			path:     "scripts.report",
			severity: SeverityWarning,
			contains: "report tables",
		},
		{
			name:     "retries out of range",
			mutate:   func(c *Config) { c.Load.DeleteRetries = 50 },
			path:     "load.delete_retries",
			severity: SeverityError,
			contains: "<= 10",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := validConfig()
			tt.mutate(&c)
			iss, ok := findIssue(Validate(c), tt.path)
			if !ok {
				t.Fatalf("no issue at %s; got %v", tt.path, Validate(c))
			}
			if iss.Severity != tt.severity {
				t.Fatalf("severity = %s; want %s", iss.Severity, tt.severity)
			}
			if !strings.Contains(iss.Message, tt.contains) {
				t.Fatalf("message = %q; want it to contain %q", iss.Message, tt.contains)
			}
		})
	}
}

func TestErrorsFiltersWarnings(t *testing.T) {
	t.Parallel()

	in := []Issue{
		{Severity: SeverityWarning, Path: "a"},
		{Severity: SeverityError, Path: "b"},
	}
	got := Errors(in)
	if len(got) != 1 || got[0].Path != "b" {
		t.Fatalf("Errors = %v; want only b", got)
	}
	if s := got[0].Error(); s != "error at b: " {
		t.Fatalf("Issue.Error() = %q", s)
	}
}

func TestInferKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dsn  string
		want string
	}{
		{"sqlserver://sa:x@db:1433?database=trade", "mssql"},
		{"postgres://u:p@localhost/trade", "postgres"},
		{"mysql://u:p@localhost/trade", "mysql"},
		{":memory:", "sqlite"},
		{"trade.db", "sqlite"},
		{"server=db;user id=sa;password=x", "mssql"},
		{"u:p@tcp(localhost:3306)/trade", "mysql"},
		{"", ""},
		{"nonsense", ""},
	}
	for _, tt := range tests {
		if got := InferKind(tt.dsn); got != tt.want {
			t.Errorf("InferKind(%q) = %q; want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, hidden string
	}{
		{"sqlserver://sa:s3cret@db:1433?database=trade", "s3cret"},
		{"server=db;user id=sa;password=s3cret;", "s3cret"},
		{"u:s3cret@tcp(localhost:3306)/trade", "s3cret"},
	}
	for _, tt := range tests {
		got := RedactDSN(tt.in)
		if strings.Contains(got, tt.hidden) || !strings.Contains(got, "xxxxx") {
			t.Errorf("RedactDSN(%q) = %q", tt.in, got)
		}
	}
}

func TestDriverDSN_PassThrough(t *testing.T) {
	t.Parallel()

	in := "sqlserver://sa:x@db:1433?database=trade"
	if got := DriverDSN("mssql", in); got != in {
		t.Fatalf("DriverDSN(mssql) = %q; want unchanged", got)
	}
	if got := DriverDSN("sqlite", ":memory:"); got != ":memory:" {
		t.Fatalf("DriverDSN(sqlite, :memory:) = %q", got)
	}
}
