package mssql

import (
	"context"
	"testing"

	"tradeload/internal/storage"
)

// TestMSSQLStorageRegistrationUsesNewRepositoryHook verifies that the "mssql"
// storage backend registered in init() uses the newRepository hook and that
// the wrappedRepo correctly propagates configuration and close behavior.
// Not parallel: it swaps the package-level hook.
func TestMSSQLStorageRegistrationUsesNewRepositoryHook(t *testing.T) {
	ctx := context.Background()

	// Save and restore global hook.
	origNewRepository := newRepository
	defer func() { newRepository = origNewRepository }()

	var (
		called   bool
		gotCfg   Config
		closed   bool
		fakeRepo = &Repository{}
	)

	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		called = true
		gotCfg = cfg
		return fakeRepo, func() { closed = true }, nil
	}

	cfg := storage.Config{
		Kind:             "mssql",
		DSN:              "sqlserver://example",
		BulkMethod:       MethodCopyIn,
		ServerStagingDir: `D:\staging`,
		BatchSize:        1000,
	}

	repo, err := storage.New(ctx, cfg)
	if err != nil {
		t.Fatalf("storage.New() error = %v, want nil", err)
	}
	if !called {
		t.Fatalf("newRepository hook was not called")
	}

	if gotCfg.DSN != cfg.DSN {
		t.Errorf("hook cfg.DSN = %q, want %q", gotCfg.DSN, cfg.DSN)
	}
	if gotCfg.BulkMethod != cfg.BulkMethod {
		t.Errorf("hook cfg.BulkMethod = %q, want %q", gotCfg.BulkMethod, cfg.BulkMethod)
	}
	if gotCfg.ServerStagingDir != cfg.ServerStagingDir {
		t.Errorf("hook cfg.ServerStagingDir = %q, want %q", gotCfg.ServerStagingDir, cfg.ServerStagingDir)
	}
	if gotCfg.BatchSize != cfg.BatchSize {
		t.Errorf("hook cfg.BatchSize = %d, want %d", gotCfg.BatchSize, cfg.BatchSize)
	}

	w, ok := repo.(*wrappedRepo)
	if !ok {
		t.Fatalf("storage.New() type = %T, want *wrappedRepo", repo)
	}
	if w.Repository != fakeRepo {
		t.Fatalf("wrappedRepo.Repository = %p, want %p", w.Repository, fakeRepo)
	}

	repo.Close()
	if !closed {
		t.Fatalf("Close did not invoke closeFn")
	}
}
