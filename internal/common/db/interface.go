package db

import "context"

// Database is the connection pool the repositories talk to.
type Database interface {
	Querier
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is a Querier bound to one database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row result. Scan reports sql.ErrNoRows (see IsNoRows).
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarises an Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Scanner is satisfied by both Row and Rows so scan helpers can serve either.
type Scanner interface {
	Scan(dest ...interface{}) error
}
