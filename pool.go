package ringpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// nowFunc returns the current time; it's overridden in tests.
var nowFunc = time.Now

// Config holds the pool parameters.
type Config struct {
	// Size is the number of pooled connections. Must be at least 1.
	Size int
	// IdleTimeout is how long a connection may sit unused before the next
	// acquirer replaces it with a fresh one.
	IdleTimeout time.Duration
	// OpenTimeout bounds every driver open. Zero means no bound.
	OpenTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Size:        10,
		IdleTimeout: 10 * time.Minute,
		OpenTimeout: 30 * time.Second,
	}
}

// Validate reports the first invalid parameter.
func (config Config) Validate() error {
	if config.Size < 1 {
		return configError("pool size must be at least 1, got %d", config.Size)
	}
	if config.IdleTimeout <= 0 {
		return configError("idle timeout must be positive, got %v", config.IdleTimeout)
	}
	if config.OpenTimeout < 0 {
		return configError("open timeout must not be negative, got %v", config.OpenTimeout)
	}
	return nil
}

// Pool is a fixed ring of connections to one upstream. Acquirers scan the
// ring round-robin from where the previous scan stopped and block while every
// slot is in use. Idle connections are recycled lazily, on the acquire that
// finds them too old.
//
// Pool is safe for concurrent use.
type Pool struct {
	opener Opener
	config Config

	mu              deadlock.Mutex // protects following fields and every Connection's inUse and idleSince
	cond            *sync.Cond
	cursor          *circularSlot
	standaloneCount int
	closed          bool
	waitCount       int64
	waitDuration    time.Duration

	recycled int64 // atomic
}

// New opens config.Size raw connections through opener and links them into a
// ring. Invalid parameters fail with ErrConfiguration before anything is
// opened. If any open fails, connections opened so far are closed and an
// *OpenError is returned.
func New(ctx context.Context, opener Opener, config Config) (*Pool, error) {
	if opener == nil {
		return nil, configError("opener is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool := &Pool{
		opener: opener,
		config: config,
	}
	pool.cond = sync.NewCond(&pool.mu)

	conns := make([]*Connection, 0, config.Size)
	for i := 0; i < config.Size; i++ {
		raw, err := pool.openRaw(ctx)
		if err != nil {
			for _, conn := range conns {
				closeRaw(conn.raw, "fill")
			}
			log.WithError(err).WithField("opened", len(conns)).Error("unable to fill pool")
			return nil, &OpenError{Op: "fill", Err: err}
		}
		conns = append(conns, &Connection{
			pool:      pool,
			raw:       raw,
			idleSince: nowFunc(),
		})
	}
	pool.cursor = newRing(conns)

	log.WithField("size", config.Size).WithField("idle_timeout", config.IdleTimeout).Debug("pool opened")
	return pool, nil
}

// Acquire blocks until a pooled connection is free and returns it marked in
// use. It never gives up on an exhausted pool; it fails only if the pool is
// closed or a stale connection cannot be replaced.
func (pool *Pool) Acquire() (*Connection, error) {
	return pool.AcquireContext(context.Background())
}

// AcquireContext is Acquire bounded by ctx. If ctx ends while waiting for a
// free slot, ctx.Err() is returned. ctx is also used to open a replacement
// connection for a stale slot.
func (pool *Pool) AcquireContext(ctx context.Context) (*Connection, error) {
	pool.mu.Lock()
	slot, err := pool.claimLocked(ctx)
	if err != nil {
		pool.mu.Unlock()
		return nil, err
	}
	connection := slot.conn
	stale := connection.expiredLocked(nowFunc(), pool.config.IdleTimeout)
	pool.mu.Unlock()

	if stale {
		if err := pool.recycle(ctx, connection); err != nil {
			return nil, err
		}
	}

	log.Trace("connection acquired")
	return connection, nil
}

// claimLocked scans the ring until it finds a free slot, waiting on the
// condition variable after every full revolution without one.
func (pool *Pool) claimLocked(ctx context.Context) (*circularSlot, error) {
	var waitStart time.Time
	for {
		if pool.closed {
			return nil, ErrPoolClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if slot := pool.scanLocked(); slot != nil {
			if !waitStart.IsZero() {
				pool.waitDuration += nowFunc().Sub(waitStart)
			}
			return slot, nil
		}

		if waitStart.IsZero() {
			waitStart = nowFunc()
			pool.waitCount++
			log.Trace("pool exhausted, waiting for a release")
		}
		pool.waitLocked(ctx)
	}
}

// scanLocked visits every slot once, starting after the cursor, and claims
// the first free one.
func (pool *Pool) scanLocked() *circularSlot {
	slot := pool.cursor
	for i := 0; i < pool.config.Size; i++ {
		slot = slot.next
		if err := slot.conn.useLocked(); err != nil {
			continue
		}
		pool.cursor = slot
		return slot
	}
	return nil
}

// waitLocked waits for a release, or for ctx to end.
func (pool *Pool) waitLocked(ctx context.Context) {
	if ctx.Done() == nil {
		pool.cond.Wait()
		return
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pool.mu.Lock()
			pool.cond.Broadcast()
			pool.mu.Unlock()
		case <-done:
		}
	}()
	pool.cond.Wait()
	close(done)
}

// recycle replaces the raw connection of a claimed, stale connection. The
// caller owns connection exclusively, so the driver I/O runs without the
// pool lock. On failure the slot goes back into circulation untouched and
// still stale.
func (pool *Pool) recycle(ctx context.Context, connection *Connection) error {
	fresh, err := pool.openRaw(ctx)
	if err != nil {
		log.WithError(err).Error("unable to replace idle connection")

		pool.mu.Lock()
		connection.inUse = false
		closed := pool.closed
		pool.cond.Broadcast()
		pool.mu.Unlock()

		if closed {
			closeRaw(connection.raw, "recycle")
		}
		return &OpenError{Op: "recycle", Err: err}
	}

	closeRaw(connection.raw, "recycle")
	connection.raw = fresh
	atomic.AddInt64(&pool.recycled, 1)

	log.Debug("idle connection replaced")
	return nil
}

// release returns a pooled connection to the ring and wakes every waiter.
// Once the pool is closed the raw connection is closed instead.
func (pool *Pool) release(connection *Connection) error {
	pool.mu.Lock()
	if err := connection.releaseLocked(nowFunc()); err != nil {
		pool.mu.Unlock()
		log.Warn("connection returned that was never out")
		return err
	}
	closed := pool.closed
	pool.cond.Broadcast()
	pool.mu.Unlock()

	log.Trace("connection released")
	if closed {
		return connection.raw.Close()
	}
	return nil
}

// Standalone opens a connection outside the ring. It never waits for a free
// slot and is not bounded by the pool size; the caller owns it until Close,
// which terminates it.
func (pool *Pool) Standalone(ctx context.Context) (*Connection, error) {
	pool.mu.Lock()
	closed := pool.closed
	pool.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	raw, err := pool.openRaw(ctx)
	if err != nil {
		log.WithError(err).Error("unable to open standalone connection")
		return nil, &OpenError{Op: "standalone", Err: err}
	}

	connection := &Connection{
		pool:       pool,
		raw:        raw,
		standalone: true,
		inUse:      true,
	}

	pool.mu.Lock()
	pool.standaloneCount++
	count := pool.standaloneCount
	pool.mu.Unlock()

	log.WithField("standalone", count).Debug("standalone connection opened")
	return connection, nil
}

func (pool *Pool) releaseStandalone(connection *Connection) error {
	pool.mu.Lock()
	if err := connection.releaseLocked(nowFunc()); err != nil {
		pool.mu.Unlock()
		log.Warn("standalone connection closed twice")
		return err
	}
	pool.standaloneCount--
	count := pool.standaloneCount
	pool.mu.Unlock()

	log.WithField("standalone", count).Debug("standalone connection closed")
	return connection.raw.Close()
}

// StandaloneCount returns the number of standalone connections not yet closed.
func (pool *Pool) StandaloneCount() int {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.standaloneCount
}

// Size returns the number of slots in the ring.
func (pool *Pool) Size() int {
	return pool.config.Size
}

// Close stops the pool. Idle pooled connections are closed now, pooled
// connections still in use are closed when released, and blocked acquirers
// return ErrPoolClosed. Standalone connections are left to their owners.
func (pool *Pool) Close() error {
	pool.mu.Lock()
	if pool.closed {
		pool.mu.Unlock()
		return nil
	}
	pool.closed = true

	var idle []RawConn
	pool.cursor.each(func(slot *circularSlot) {
		if !slot.conn.inUse {
			idle = append(idle, slot.conn.raw)
		}
	})
	pool.cond.Broadcast()
	pool.mu.Unlock()

	var err error
	for _, raw := range idle {
		if closeErr := raw.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}

	log.WithField("closed_idle", len(idle)).Debug("pool closed")
	return err
}

func (pool *Pool) openRaw(ctx context.Context) (RawConn, error) {
	if pool.config.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pool.config.OpenTimeout)
		defer cancel()
	}
	return pool.opener.Open(ctx)
}

// closeRaw closes a raw connection the pool no longer wants. Errors are
// logged and dropped.
func closeRaw(raw RawConn, op string) {
	if err := raw.Close(); err != nil {
		log.WithError(err).WithField("op", op).Warn("unable to close raw connection")
	}
}
