package db

import "context"

// Database defines the unified interface for relational storage.
// This abstraction allows swapping the concrete driver without changing
// repository code.
type Database interface {
	Querier

	// Transaction executes fn within a transaction, committing on nil
	// and rolling back on error
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Ping verifies the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Transaction abstracts an open database transaction
type Transaction interface {
	Querier

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}

// Rows abstracts a query result set
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row abstracts a single-row query result
type Row interface {
	Scan(dest ...interface{}) error
}

// Scanner is the common scan surface of Row and Rows, letting one scan
// helper serve both
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Result abstracts the outcome of a mutating statement
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
