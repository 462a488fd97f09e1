package ringpool

import (
	"context"
	"database/sql"
	"time"
)

// Connection is the handle handed out by a Pool. It forwards queries and
// transactions to the raw connection it wraps; Close returns it to the pool
// instead of terminating it. A standalone connection is never part of the
// ring and Close really closes it.
//
// A Connection must not be used after Close.
type Connection struct {
	pool *Pool
	raw  RawConn

	standalone bool

	// guarded by pool.mu
	inUse     bool
	idleSince time.Time
}

// ExecContext executes a query without returning any rows.
func (connection *Connection) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return connection.raw.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows, typically a SELECT.
func (connection *Connection) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return connection.raw.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that is expected to return at most one row.
// Errors are deferred until Row's Scan method is called.
func (connection *Connection) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return connection.raw.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on this connection. Commit and Rollback go
// through the returned *sql.Tx straight to the driver.
func (connection *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return connection.raw.BeginTx(ctx, opts)
}

func (connection *Connection) PingContext(ctx context.Context) error {
	return connection.raw.PingContext(ctx)
}

// IsStandalone reports whether the connection lives outside the ring.
func (connection *Connection) IsStandalone() bool {
	return connection.standalone
}

// Close releases the connection. For a pooled connection the raw connection
// stays open and the slot becomes available to the next acquirer. Closing a
// connection twice returns ErrDoubleRelease.
func (connection *Connection) Close() error {
	if connection.standalone {
		return connection.pool.releaseStandalone(connection)
	}
	return connection.pool.release(connection)
}

func (connection *Connection) useLocked() error {
	if connection.inUse {
		return ErrAlreadyInUse
	}
	connection.inUse = true
	return nil
}

func (connection *Connection) releaseLocked(now time.Time) error {
	if !connection.inUse {
		return ErrDoubleRelease
	}
	connection.inUse = false
	connection.idleSince = now
	return nil
}

func (connection *Connection) expiredLocked(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(connection.idleSince) > idleTimeout
}
