package ringpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errFakeOpen = errors.New("fake: connection refused")

// fakeConn is a raw connection that only records whether it was closed.
type fakeConn struct {
	id     int
	closed int32
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if c.isClosed() {
		return nil, driver.ErrBadConn
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("fake: queries are not supported")
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (c *fakeConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, errors.New("fake: transactions are not supported")
}

func (c *fakeConn) PingContext(ctx context.Context) error {
	if c.isClosed() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *fakeConn) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}

func (c *fakeConn) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// fakeOpener hands out fakeConns and can be told to fail.
type fakeOpener struct {
	mu        sync.Mutex
	opened    []*fakeConn
	failAfter int // fail once this many connections were opened; <0 never
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{failAfter: -1}
}

func (o *fakeOpener) Open(ctx context.Context) (RawConn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failAfter >= 0 && len(o.opened) >= o.failAfter {
		return nil, errFakeOpen
	}
	conn := &fakeConn{id: len(o.opened)}
	o.opened = append(o.opened, conn)
	return conn, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) conns() []*fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeConn(nil), o.opened...)
}

// failFrom makes every open fail from now on, or never again if fail is false.
func (o *fakeOpener) failFrom(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fail {
		o.failAfter = len(o.opened)
	} else {
		o.failAfter = -1
	}
}

// fakeClock replaces nowFunc for the duration of a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func setFakeClock(t *testing.T, start time.Time) *fakeClock {
	clock := &fakeClock{now: start}
	saved := nowFunc
	nowFunc = clock.Now
	t.Cleanup(func() { nowFunc = saved })
	return clock
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func rawOf(connection *Connection) *fakeConn {
	return connection.raw.(*fakeConn)
}

// waitTimeout waits for the waitgroup for the specified max timeout.
// Returns true if waiting timed out.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})

	go func() {
		defer close(c)
		wg.Wait()
	}()

	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}
