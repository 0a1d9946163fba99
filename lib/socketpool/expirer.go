package socketpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/outboundpool/socketpool/lib/metrics"
)

// expireLocked walks allIdle from the head, destroying every entry older
// than idleTimeout. Because returns append at the tail, the walk stops at
// the first non-expired entry (I6). Caller must hold p.mu.
func (p *Pool) expireLocked(now time.Time) {
	for {
		front := p.allIdle.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*PoolEntry)
		if now.Sub(entry.addedAt) < p.idleTimeout {
			return
		}

		p.allIdle.Remove(front)
		if entry.idleElem != nil {
			// entry.idleElem.Value.(*PoolEntry).target list removal happens
			// via the owning target, looked up by index.
			if entry.targetIndex >= 0 && entry.targetIndex < len(p.targets) {
				p.targets[entry.targetIndex].idleList.Remove(entry.idleElem)
			}
		}

		entry.conn.Close()
		idle := atomic.AddInt64(&p.totalIdleCount, -1)
		recordIdleGauges(idle, 0)
		metrics.ExpiredTotal.Inc()
	}
}

// runExpirer fires expireLocked every expirerPeriod under a try-lock, so a
// contended mutex never stalls the loop (§4.3). A failed try-lock skips the
// tick; there is no catch-up.
func (p *Pool) runExpirer(ctx context.Context) {
	ticker := time.NewTicker(expirerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.mu.TryLock() {
				p.expireLocked(time.Now())
				p.mu.Unlock()
			}
		}
	}
}
