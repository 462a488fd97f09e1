package ringpool

import (
	"sync/atomic"
	"time"
)

// Stats contains pool statistics.
type Stats struct {
	// Pool Status
	Size       int // The number of pooled connections, in use and idle.
	InUse      int // The number of pooled connections currently handed out.
	Idle       int // The number of pooled connections free to acquire.
	Standalone int // The number of standalone connections not yet closed.

	// Counters
	WaitCount    int64         // The total number of acquires that had to wait.
	WaitDuration time.Duration // The total time blocked waiting for a free slot.
	Recycled     int64         // The total number of idle connections replaced.
}

// Stats returns pool statistics.
func (pool *Pool) Stats() Stats {
	recycled := atomic.LoadInt64(&pool.recycled)

	pool.mu.Lock()
	defer pool.mu.Unlock()

	stats := Stats{
		Size:         pool.config.Size,
		Standalone:   pool.standaloneCount,
		WaitCount:    pool.waitCount,
		WaitDuration: pool.waitDuration,
		Recycled:     recycled,
	}
	pool.cursor.each(func(slot *circularSlot) {
		if slot.conn.inUse {
			stats.InUse++
		} else {
			stats.Idle++
		}
	})
	return stats
}
