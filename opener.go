package ringpool

import (
	"context"
	"database/sql"
)

// RawConn is a single physical database connection. *sql.Conn satisfies it.
type RawConn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Opener opens raw connections to exactly one upstream.
type Opener interface {
	Open(ctx context.Context) (RawConn, error)
}

// OpenerFunc adapts an ordinary function to the Opener interface.
type OpenerFunc func(ctx context.Context) (RawConn, error)

func (f OpenerFunc) Open(ctx context.Context) (RawConn, error) {
	return f(ctx)
}

// DriverOpener opens raw connections through a registered database/sql
// driver. The underlying *sql.DB keeps no idle connections of its own, so a
// closed raw connection is really closed and the ring stays the only pool.
type DriverOpener struct {
	driverName string
	db         *sql.DB
}

// NewDriverOpener prepares an opener for driverName and dsn. No connection is
// made until Open is called.
func NewDriverOpener(driverName, dsn string) (*DriverOpener, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, configError("driver %q: %v", driverName, err)
	}
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(0)

	return &DriverOpener{driverName: driverName, db: db}, nil
}

// Open dials a new connection and checks it with a ping before handing it out.
func (driverOpener *DriverOpener) Open(ctx context.Context) (RawConn, error) {
	conn, err := driverOpener.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	log.WithField("driver", driverOpener.driverName).Trace("raw connection opened")
	return conn, nil
}

func (driverOpener *DriverOpener) DriverName() string {
	return driverOpener.driverName
}

// Close releases the connector. Close the pools built on it first.
func (driverOpener *DriverOpener) Close() error {
	return driverOpener.db.Close()
}
