// This adapter wires the MSSQL backend into the storage-agnostic factory.
package mssql

import (
	"context"

	"tradeload/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Warehouse = (*wrappedRepo)(nil)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:              cfg.DSN,
			BulkMethod:       cfg.BulkMethod,
			ServerStagingDir: cfg.ServerStagingDir,
			BatchSize:        cfg.BatchSize,
			Logger:           cfg.Log(),
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}

// wrappedRepo adapts *mssql.Repository to storage.Warehouse and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() { w.closeFn() }
