package sqlite

import "tradeload/internal/logger"

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:trade.db"
	//   ":memory:"
	DSN string

	// BatchSize bounds rows per INSERT transaction during BulkCopy.
	BatchSize int

	Logger logger.Logger
}
