package ringpool

import (
	"context"
	"database/sql"
	"fmt"
)

// Helper runs statements against a pool, acquiring and releasing a
// connection around every call.
type Helper struct {
	pool *Pool
}

func NewHelper(pool *Pool) *Helper {
	return &Helper{pool: pool}
}

// Pool returns the pool the helper draws connections from.
func (helper *Helper) Pool() *Pool {
	return helper.pool
}

// Execute runs a statement that returns no rows and reports the number of
// rows affected.
func (helper *Helper) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	connection, err := helper.pool.AcquireContext(ctx)
	if err != nil {
		return 0, err
	}
	defer connection.Close()

	result, err := connection.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).WithField("query", query).Debug("execute failed")
		return 0, err
	}
	return result.RowsAffected()
}

// Select runs a query and calls fn once per row. Iteration stops at the first
// error fn returns.
func (helper *Helper) Select(ctx context.Context, query string, fn func(rows *sql.Rows) error, args ...interface{}) error {
	connection, err := helper.pool.AcquireContext(ctx)
	if err != nil {
		return err
	}
	defer connection.Close()

	rows, err := connection.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).WithField("query", query).Debug("select failed")
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// QueryValue scans the first column of the first row into dest. It returns
// sql.ErrNoRows if the query selects nothing.
func (helper *Helper) QueryValue(ctx context.Context, query string, dest interface{}, args ...interface{}) error {
	connection, err := helper.pool.AcquireContext(ctx)
	if err != nil {
		return err
	}
	defer connection.Close()

	return connection.QueryRowContext(ctx, query, args...).Scan(dest)
}

// Transaction runs fn inside a transaction on a standalone connection, so a
// long transaction never holds a ring slot. The transaction is committed if
// fn returns nil and rolled back otherwise.
func (helper *Helper) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	connection, err := helper.pool.Standalone(ctx)
	if err != nil {
		return err
	}
	defer connection.Close()

	tx, err := connection.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			log.WithError(rollbackErr).Warn("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// ExecBatch runs statements in one transaction. Either all of them take
// effect or, on the first failure, none. It returns the total number of rows
// affected.
func (helper *Helper) ExecBatch(ctx context.Context, statements []string) (int64, error) {
	var total int64
	err := helper.Transaction(ctx, func(tx *sql.Tx) error {
		for i, statement := range statements {
			result, err := tx.ExecContext(ctx, statement)
			if err != nil {
				return fmt.Errorf("statement %d: %w", i, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				total += n
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
