package storage

import "fmt"

// DbError is a statement or bulk operation rejected by the warehouse.
type DbError struct {
	Op        string // exec, bulk_copy, query
	Statement string
	Err       error
}

func (e *DbError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *DbError) Unwrap() error { return e.Err }
