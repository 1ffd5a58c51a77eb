// This file validates Config values: struct tag rules through
// go-playground/validator plus cross-field checks, all reported as Issues.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "warehouse.dsn",
// "source.imports.columns"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ValidationError carries the error-severity issues that rejected a config.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		msgs[i] = iss.Path + ": " + iss.Message
	}
	return "config: invalid: " + strings.Join(msgs, "; ")
}

// Errors returns the error-severity subset of issues.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// derived columns appended to every trade row by the extract step.
var derivedColumns = []string{"fecha", "period_id", "reference_id"}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
			return identRe.MatchString(fl.Field().String())
		})
		// Report json names so paths match the config file.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate = v
	})
	return validate
}

// Validate performs static validation of c. It does not mutate c. Callers
// decide whether warnings are fatal; Load rejects errors only. Validate
// expects ApplyDefaults to have run.
func Validate(c Config) []Issue {
	var issues []Issue
	issues = append(issues, validateTags(c)...)
	issues = append(issues, validateWarehouse(c)...)
	issues = append(issues, validateTradeFile("source.imports", c.Source.Imports)...)
	issues = append(issues, validateTradeFile("source.exports", c.Source.Exports)...)
	issues = append(issues, validateSource(c.Source)...)
	issues = append(issues, validateScripts(c.Scripts)...)
	return issues
}

// validateTags runs the struct tag rules.
func validateTags(c Config) []Issue {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Severity: SeverityError, Path: "", Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		// drop the root type name
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: tagMessage(fe)})
	}
	return issues
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", "=", 1))
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "unique":
		return "must not contain duplicates"
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "sqlident":
		return fmt.Sprintf("%q is not a plain SQL identifier", fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

// validateWarehouse adds backend-specific checks.
func validateWarehouse(c Config) []Issue {
	var issues []Issue
	w := c.Warehouse

	if w.BulkMethod != "" && w.Kind != "" && w.Kind != "mssql" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "warehouse.bulk_method",
			Message:  fmt.Sprintf("bulk_method only applies to mssql; ignored for %s", w.Kind),
		})
	}
	if w.Kind == "mssql" && w.BulkMethod == "bulk_insert" && w.ServerStagingDir == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "warehouse.server_staging_dir",
			Message:  "BULK INSERT reads staged files on the SQL Server host; set server_staging_dir unless the server shares staging_dir",
		})
	}
	if w.Kind == "sqlite" && c.Load.Concurrent && strings.Contains(w.DSN, ":memory:") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "load.concurrent",
			Message:  "concurrent loads open separate handles; an in-memory sqlite database is not shared between them",
		})
	}
	if w.Kind == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.kind",
			Message:  "could not infer kind from dsn; set warehouse.kind",
		})
	}
	return issues
}

// validateTradeFile checks that the columns referenced by f exist.
func validateTradeFile(path string, f TradeFile) []Issue {
	var issues []Issue
	cols := map[string]struct{}{}
	for _, c := range f.Columns {
		cols[c] = struct{}{}
	}
	for _, d := range derivedColumns {
		if _, ok := cols[d]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".columns",
				Message:  fmt.Sprintf("column %q is derived during extract and must not be listed", d),
			})
		}
	}
	if len(f.Columns) == 0 {
		return issues
	}

	check := func(field string, names ...string) {
		for _, n := range names {
			if _, ok := cols[n]; !ok {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + "." + field,
					Message:  fmt.Sprintf("column %q is not in columns", n),
				})
			}
		}
	}
	if f.DateColumn != "" {
		check("date_column", f.DateColumn)
	}
	check("reference_columns", f.ReferenceColumns...)
	check("numeric_columns", f.NumericColumns...)
	for k := range f.Fill {
		check("fill", k)
	}

	if f.DateLayout != "" {
		sample := time.Date(2024, time.November, 23, 0, 0, 0, 0, time.UTC)
		got, err := time.Parse(f.DateLayout, sample.Format(f.DateLayout))
		if err != nil || got.Year() != 2024 || got.Month() != time.November || got.Day() != 23 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".date_layout",
				Message:  fmt.Sprintf("layout %q does not carry year, month and day", f.DateLayout),
			})
		}
	}
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	if s.DimensionsDir == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.dimensions_dir",
			Message:  "no dimensions directory; dimension tables will not be refreshed",
		})
	}
	if s.CurrencyDir == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.currency_dir",
			Message:  "no currency directory; exchange rates will not be refreshed",
		})
	}
	if s.Imports.Prefix != "" && s.Imports.Prefix == s.Exports.Prefix {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.exports.prefix",
			Message:  "imports and exports share the same file prefix",
		})
	}
	return issues
}

func validateScripts(s Scripts) []Issue {
	if s.Report == "" {
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "scripts.report",
			Message:  "no report script; report tables will not be rebuilt after loads",
		}}
	}
	return nil
}
