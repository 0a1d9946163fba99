package socketpool

import (
	"container/list"
	"net"
	"sync"
	"time"
)

// PoolEntry is one idle, exported socket plus the bookkeeping needed to
// find it again and to trim it on expiry. Membership in the pool-wide
// all-idle list and the owning target's idle list is always paired (I1);
// both list elements are created and removed together under the pool
// mutex.
type PoolEntry struct {
	conn        net.Conn
	targetIndex int
	addedAt     time.Time

	allElem  *list.Element
	idleElem *list.Element
}

// trackedConn decorates a net.Conn handed out by the pool (whether freshly
// connected or imported from the idle list) with the on_close hook spec.md
// describes: closing it directly, without going through ReturnSocket,
// decrements the owning target's request count and the pool's idle-count
// reservation exactly once (I3). ReturnSocket clears the hook before
// re-exporting the socket so ownership transfers cleanly to the new
// PoolEntry.
type trackedConn struct {
	net.Conn

	pool        *Pool
	targetIndex int

	mu      sync.Mutex
	closed  bool
	cleared bool
}

func newTrackedConn(pool *Pool, conn net.Conn, targetIndex int) *trackedConn {
	return &trackedConn{Conn: conn, pool: pool, targetIndex: targetIndex}
}

// clearHook detaches the on_close hook so the wrapped conn can be reused as
// the basis of a new PoolEntry without firing the checked-out accounting.
// Returns the raw underlying conn.
func (c *trackedConn) clearHook() net.Conn {
	c.mu.Lock()
	c.cleared = true
	c.mu.Unlock()
	return c.Conn
}

func (c *trackedConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cleared := c.cleared
	c.mu.Unlock()

	err := c.Conn.Close()
	if !cleared {
		c.pool.onClose(c.targetIndex)
	}
	return err
}
