package socketpool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	poolerrors "github.com/outboundpool/socketpool/lib/errors"
	"github.com/outboundpool/socketpool/lib/metrics"
)

// OnDone is invoked at most once, when an acquire completes, fails, or is
// superseded by a terminal error; see Acquire for when it never fires. err's
// Error() text is one of the
// contract strings in spec.md §7 (or the collaborator-supplied DNS error
// string) when conn is nil.
type OnDone func(conn net.Conn, err error, targetURL string)

// connectRequest is the live state for one outstanding Acquire call: the
// "ConnectRequest" of spec.md §2/§4.4, reshaped per spec.md §9's design
// note into a loop driven by explicit phase calls rather than mutual
// recursion, so stack depth stays bounded across many target retries.
type connectRequest struct {
	pool *Pool

	ctx    context.Context
	cancel context.CancelFunc

	selectedTarget int
	tried          []bool
	remainingTries int
	extra          any

	onDone OnDone
	start  time.Time

	done      sync.Once
	cancelled atomic.Bool
}

// AcquireHandle lets a caller cancel a pending Acquire before its callback
// fires.
type AcquireHandle struct {
	cr *connectRequest
}

// Cancel aborts any in-flight DNS lookup or connect attempt and guarantees
// the acquire's OnDone is never called. It is the caller's responsibility
// not to cancel after the callback has already fired.
func (h *AcquireHandle) Cancel() {
	h.cr.cancelled.Store(true)
	h.cr.cancel()
}

func (cr *connectRequest) complete(conn net.Conn, err error, targetURL string) {
	cr.done.Do(func() {
		if cr.cancelled.Load() {
			if conn != nil {
				conn.Close()
			}
			return
		}
		recordAcquireLatency(cr.start)
		if err != nil {
			metrics.AcquireFailedTotal.Inc()
		}
		cr.onDone(conn, err, targetURL)
	})
}

// Acquire begins an asynchronous acquire against targetURL (for a global
// pool) or the pool's fixed target set. onDone fires at most once: never
// after the returned handle's Cancel, and possibly not at all if ctx ends
// before the acquire completes. The returned handle may be used to cancel
// before completion.
func (p *Pool) Acquire(ctx context.Context, targetURL string, extra any, onDone OnDone) *AcquireHandle {
	metrics.AcquireTotal.Inc()

	cctx, cancel := context.WithCancel(ctx)
	cr := &connectRequest{
		pool:   p,
		ctx:    cctx,
		cancel: cancel,
		extra:  extra,
		onDone: onDone,
		start:  time.Now(),
	}

	p.mu.Lock()
	p.expireLocked(time.Now())

	var targetIndex int
	var err error
	switch {
	case p.isGlobal:
		targetIndex, err = p.lookupOrAddLocked(TargetSpec{URL: targetURL})
	case len(p.targets) == 1:
		targetIndex = 0
	default:
		targetIndex = sentinelTarget
	}
	p.mu.Unlock()

	if err != nil {
		cr.complete(nil, err, "")
		return &AcquireHandle{cr: cr}
	}

	cr.selectedTarget = targetIndex
	if targetIndex == sentinelTarget {
		p.mu.Lock()
		n := len(p.targets)
		p.mu.Unlock()
		cr.tried = make([]bool, n)
		cr.remainingTries = n
	} else {
		cr.remainingTries = 1
	}

	go p.tryConnect(cr)
	return &AcquireHandle{cr: cr}
}

// CancelAcquire is sugar for handle.Cancel(), kept as a Pool method to
// mirror the public-API table in spec.md §6.
func (p *Pool) CancelAcquire(handle *AcquireHandle) {
	handle.Cancel()
}

// tryConnect is Phase B of the state machine (§4.4): select a target if
// necessary, drain its idle list through the liveness probe, and on
// exhaustion dispatch a fresh connect attempt.
func (p *Pool) tryConnect(cr *connectRequest) {
	if cr.ctx.Err() != nil {
		return
	}
	cr.remainingTries--

	p.mu.Lock()
	var target *Target
	if cr.tried != nil {
		idx, err := p.balancer.Select(p.targets, p.balancerState, cr.tried, cr.extra)
		if err != nil || idx < 0 || idx >= len(p.targets) || cr.tried[idx] {
			p.mu.Unlock()
			cr.complete(nil, poolerrors.ErrInvalidSelection, "")
			return
		}
		cr.tried[idx] = true
		cr.selectedTarget = idx
		atomic.AddInt64(&p.targets[idx].requestCount, 1)
	}
	target = p.targets[cr.selectedTarget]
	p.mu.Unlock()

	for {
		p.mu.Lock()
		back := target.idleList.Back()
		if back == nil {
			p.mu.Unlock()
			break
		}
		entry := back.Value.(*PoolEntry)
		target.idleList.Remove(back)
		p.allIdle.Remove(entry.allElem)
		p.mu.Unlock()

		liveness, _ := p.prober(entry.conn)
		switch liveness {
		case LivenessAlive:
			recordIdleGauges(atomic.LoadInt64(&p.totalIdleCount), 0)
			metrics.AcquireHitTotal.Inc()
			tc := newTrackedConn(p, entry.conn, entry.targetIndex)
			cr.complete(tc, nil, target.URL)
			return
		case LivenessDirty:
			processWarnings.warn("idle socket had unexpected data", map[string]any{"target": target.URL})
		default:
			processWarnings.warn("idle socket was closed by peer", map[string]any{"target": target.URL})
		}
		entry.conn.Close()
		idle := atomic.AddInt64(&p.totalIdleCount, -1)
		recordIdleGauges(idle, 0)
		metrics.DeadSocketTotal.Inc()
	}

	idle := atomic.AddInt64(&p.totalIdleCount, 1)
	recordIdleGauges(idle, 0)
	metrics.AcquireConnectTotal.Inc()

	switch target.Kind {
	case KindNamed:
		if p.resolver == nil {
			idle := atomic.AddInt64(&p.totalIdleCount, -1)
			recordIdleGauges(idle, 0)
			cr.complete(nil, poolerrors.New(poolerrors.CodeInvalidInput, "resolver not configured"), "")
			return
		}
		ch := p.resolver.Getaddr(cr.ctx, target.NamedHost, target.NamedPort)
		go func() {
			select {
			case res := <-ch:
				p.onGetaddr(cr, target, res)
			case <-cr.ctx.Done():
			}
		}()
	default:
		p.startConnect(cr, target, target.Addr)
	}
}

// onGetaddr is Phase C: DNS failure is a hard error on the current target,
// never retried across targets (§4.4 Phase C, §8 P8).
func (p *Pool) onGetaddr(cr *connectRequest, target *Target, res ResolveResult) {
	if res.Err != nil {
		target.circuit.RecordFailure()
		idle := atomic.AddInt64(&p.totalIdleCount, -1)
		recordIdleGauges(idle, 0)
		cr.complete(nil, res.Err, "")
		return
	}
	addr := SelectOne(res.Addrs)
	p.startConnect(cr, target, addr)
}

// startConnect is Phase D: dispatch the non-blocking connect. A nil addr
// (no address to dial) is the only synchronous allocation failure Go's
// Dialer contract exposes; anything the dial itself rejects is handled as
// an ordinary connect failure in onConnect (Phase E).
func (p *Pool) startConnect(cr *connectRequest, target *Target, addr net.Addr) {
	if addr == nil {
		idle := atomic.AddInt64(&p.totalIdleCount, -1)
		recordIdleGauges(idle, 0)
		cr.complete(nil, poolerrors.ErrFailedToConnect, "")
		return
	}

	go func() {
		conn, err := p.dialer.DialContext(cr.ctx, target.Network, addr.String())
		p.onConnect(cr, target, conn, err)
	}()
}

// onConnect is Phase E: on success the socket's on_close hook will later
// decrement both counters; on failure the balancer-selection increment is
// reversed and, if tries remain, another target is attempted (fallback).
func (p *Pool) onConnect(cr *connectRequest, target *Target, conn net.Conn, err error) {
	if err == nil {
		target.circuit.RecordSuccess()
		tc := newTrackedConn(p, conn, cr.selectedTarget)
		cr.complete(tc, nil, target.URL)
		return
	}

	target.circuit.RecordFailure()
	if cr.tried != nil {
		atomic.AddInt64(&target.requestCount, -1)
	}
	// Unlike the source this is grounded on, the reservation made for this
	// attempt is released here rather than carried into the next one: the
	// next tryConnect call reserves its own slot, and a fully exhausted
	// request leaves total_idle_count back at its pre-acquire value, per
	// spec.md §7's counter-preservation requirement.
	idle := atomic.AddInt64(&p.totalIdleCount, -1)
	recordIdleGauges(idle, 0)

	if cr.remainingTries > 0 {
		metrics.FallbackTotal.Inc()
		p.tryConnect(cr)
		return
	}
	cr.complete(nil, poolerrors.ErrConnectionFailed, "")
}

// Dispose tears the pool down: every idle entry is destroyed (emptying the
// pool-wide list and, by I1, every target's idle list) and the balancer and
// expirer are released. Targets themselves need no teardown and are left
// in place.
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true

	for {
		front := p.allIdle.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*PoolEntry)
		p.allIdle.Remove(front)
		if entry.targetIndex >= 0 && entry.targetIndex < len(p.targets) && entry.idleElem != nil {
			p.targets[entry.targetIndex].idleList.Remove(entry.idleElem)
		}
		entry.conn.Close()
		atomic.AddInt64(&p.totalIdleCount, -1)
	}

	bal := p.balancer
	state := p.balancerState
	cancel := p.expirerCancel
	p.expirerCancel = nil
	p.mu.Unlock()

	if bal != nil {
		bal.Dispose(state)
	}
	if cancel != nil {
		cancel()
	}
	recordIdleGauges(0, 0)
}
