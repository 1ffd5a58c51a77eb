// Package storage contains the warehouse contracts shared by every backend and
// a small factory registry. Concrete backends (mssql, postgres, mysql, sqlite)
// register themselves from init(); import storage/all to enable them.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradeload/internal/logger"
)

// Execer runs a single statement in its own autocommitted transaction.
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// PartitionCount is one row of the grouped partition count query.
type PartitionCount struct {
	TradeType string
	PeriodID  string
	Count     int64
}

// Querier exposes the read side needed to inventory loaded partitions.
type Querier interface {
	TableExists(ctx context.Context, schema, table string) (bool, error)
	// PartitionCounts returns COUNT(reference_id) per period_id for table,
	// labeled with tradeType.
	PartitionCounts(ctx context.Context, schema, table, tradeType string) ([]PartitionCount, error)
}

// BulkRequest describes one staged file to load into Schema.Table.
type BulkRequest struct {
	Schema    string
	Table     string
	Path      string   // staged file on the local filesystem
	Columns   []string // column order of the staged file
	Delimiter rune
}

// Warehouse is the full backend contract used by the pipeline.
type Warehouse interface {
	Execer
	Querier
	// BulkCopy loads the staged file in one bulk operation and returns the
	// number of rows the backend reports as inserted.
	BulkCopy(ctx context.Context, req BulkRequest) (int64, error)
	Dialect() Dialect
	Close()
}

// Opener opens an independent warehouse handle, e.g. one connection per
// concurrently loaded trade type.
type Opener func(ctx context.Context) (Warehouse, error)

// Config is the backend-agnostic connection configuration.
type Config struct {
	Kind string
	DSN  string

	// BulkMethod selects a backend-specific bulk path (mssql: "bulk_insert"
	// or "copy_in"). Empty selects the backend default.
	BulkMethod string

	// ServerStagingDir, when set, replaces the directory of staged files in
	// server-side bulk statements (BULK INSERT reads from the server host).
	ServerStagingDir string

	// BatchSize bounds rows per client-side copy batch.
	BatchSize int

	Logger logger.Logger
}

// Log returns cfg.Logger or a discarding logger.
func (c Config) Log() logger.Logger {
	if c.Logger == nil {
		return logger.Nop()
	}
	return c.Logger
}

// Factory constructs a Warehouse for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, fn Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = fn
}

// New opens a Warehouse using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Warehouse, error) {
	mu.RLock()
	fn, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return fn(ctx, cfg)
}

// NewOpener returns an Opener bound to cfg.
func NewOpener(cfg Config) Opener {
	return func(ctx context.Context) (Warehouse, error) { return New(ctx, cfg) }
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
