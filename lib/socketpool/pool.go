package socketpool

import (
	"container/list"
	"context"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	poolerrors "github.com/outboundpool/socketpool/lib/errors"
	"github.com/outboundpool/socketpool/lib/metrics"
	"github.com/outboundpool/socketpool/lib/resilience"
)

const sentinelTarget = -1

// DefaultIdleTimeout is the idle-socket expiry applied when Config.IdleTimeout
// is zero (§3: "idle_timeout_ms: default 2000").
const DefaultIdleTimeout = 2 * time.Second

const expirerPeriod = time.Second

// Config configures a Pool. Capacity is advisory and, per spec.md's §9
// open question, intentionally never enforced on Acquire.
type Config struct {
	// Capacity is the advisory upper bound on outstanding sockets. Stored
	// and reported via Stats, never enforced.
	Capacity int

	// IdleTimeout is how long an idle socket may sit in the pool before
	// the expirer trims it. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Balancer selects among targets when a pool has more than one. Required
	// for InitGlobal and for InitSpecific with more than one target; ignored
	// (a trivial zero-index selector is used instead) when there is at most
	// one target.
	Balancer Balancer

	// BalancerConfig is passed to Balancer.Init alongside the target vector.
	BalancerConfig any

	// Resolver is the asynchronous host-resolver collaborator used for
	// Named targets. There is no default: InitSpecific rejects Named
	// targets when it is nil, and an acquire that lands on a Named target of
	// a global pool fails with "resolver not configured". lib/resolve
	// provides a stdlib-backed implementation.
	Resolver Resolver

	// Dialer is the socket collaborator's connect primitive. Defaults to
	// *net.Dialer.
	Dialer Dialer

	// Prober performs the idle-socket liveness probe. Defaults to a
	// raw-fd MSG_PEEK implementation.
	Prober LivenessProber
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &netDialer{}
	}
	if c.Prober == nil {
		c.Prober = defaultLivenessProbe
	}
	return c
}

// Pool is the public façade: construct (specific or global), register/
// unregister an expirer loop, acquire, cancel acquire, return, dispose.
//
// The mutex protects target membership, the pool-wide idle list, every
// target's idle list, and PoolEntry list-link fields. totalIdleCount and
// each target's requestCount are atomic and read without the mutex (§5).
type Pool struct {
	mu       sync.Mutex
	targets  []*Target
	isGlobal bool

	capacity    int
	idleTimeout time.Duration

	allIdle        *list.List
	totalIdleCount int64 // atomic

	balancer       Balancer
	balancerState  any
	balancerConfig any

	resolver Resolver
	dialer   Dialer
	prober   LivenessProber

	expirerCancel context.CancelFunc
	disposed      bool
}

// InitSpecific builds a fixed-target pool. If more than one target is
// supplied, cfg.Balancer is engaged immediately via Init (§4.2).
func InitSpecific(specs []TargetSpec, cfg Config) (*Pool, error) {
	if len(specs) == 0 {
		return nil, poolerrors.ErrNoTargets
	}
	cfg = cfg.withDefaults()

	targets := make([]*Target, 0, len(specs))
	for _, spec := range specs {
		t, err := newTarget(spec)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}

	p := &Pool{
		targets:        targets,
		isGlobal:       false,
		capacity:       cfg.Capacity,
		idleTimeout:    cfg.IdleTimeout,
		allIdle:        list.New(),
		balancerConfig: cfg.BalancerConfig,
		resolver:       cfg.Resolver,
		dialer:         cfg.Dialer,
		prober:         cfg.Prober,
	}

	for _, t := range targets {
		if t.Kind == KindNamed && cfg.Resolver == nil {
			return nil, poolerrors.New(poolerrors.CodeInvalidInput, "resolver required for named targets")
		}
	}

	if len(targets) > 1 {
		bal := cfg.Balancer
		if bal == nil {
			return nil, poolerrors.New(poolerrors.CodeInvalidInput, "balancer required for more than one target")
		}
		state, err := bal.Init(p.targets, cfg.BalancerConfig)
		if err != nil {
			return nil, poolerrors.Wrap(poolerrors.CodeInternal, "balancer init failed", err)
		}
		p.balancer = bal
		p.balancerState = state
	} else {
		p.balancer = trivialBalancer{}
	}

	log.WithField("targets", len(targets)).Debug("socketpool: specific pool initialized")
	return p, nil
}

// InitGlobal builds a lazy-target pool: targets are appended on first
// acquire against a new URL. cfg.Balancer is engaged as soon as a second
// target is appended.
func InitGlobal(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	if cfg.Balancer == nil {
		return nil, poolerrors.New(poolerrors.CodeInvalidInput, "balancer required for a global pool")
	}

	p := &Pool{
		isGlobal:       true,
		capacity:       cfg.Capacity,
		idleTimeout:    cfg.IdleTimeout,
		allIdle:        list.New(),
		balancer:       cfg.Balancer,
		balancerConfig: cfg.BalancerConfig,
		resolver:       cfg.Resolver,
		dialer:         cfg.Dialer,
		prober:         cfg.Prober,
	}

	log.Debug("socketpool: global pool initialized")
	return p, nil
}

// RegisterLoop attaches the 1-second expirer tick. Registering twice is a
// no-op; the expirer runs until ctx is cancelled or UnregisterLoop/Dispose
// is called.
func (p *Pool) RegisterLoop(ctx context.Context) {
	p.mu.Lock()
	if p.expirerCancel != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.expirerCancel = cancel
	p.mu.Unlock()

	go p.runExpirer(loopCtx)
}

// UnregisterLoop detaches the expirer. Safe to call when no loop is
// registered.
func (p *Pool) UnregisterLoop() {
	p.mu.Lock()
	cancel := p.expirerCancel
	p.expirerCancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// CanKeepalive reports whether returning a socket to this pool is
// worthwhile: true iff the idle timeout is positive.
func (p *Pool) CanKeepalive() bool {
	return p.idleTimeout > 0
}

// lookupOrAddLocked implements the global pool's "_or_add" match (§4.2):
// scheme equality, port equality after defaulting, and host equality.
// Caller must hold p.mu.
func (p *Pool) lookupOrAddLocked(spec TargetSpec) (int, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return 0, &invalidURLError{raw: spec.URL, err: err}
	}
	for i, t := range p.targets {
		if t.matchesURL(u) {
			return i, nil
		}
	}
	t, err := newTarget(spec)
	if err != nil {
		return 0, err
	}
	p.targets = append(p.targets, t)
	idx := len(p.targets) - 1

	if len(p.targets) == 2 {
		// Second target just appeared: engage the balancer for the first time.
		state, err := p.balancer.Init(p.targets, p.balancerConfig)
		if err == nil {
			p.balancerState = state
		}
	}
	return idx, nil
}

// Stats is a read-only snapshot of pool-wide bookkeeping.
type Stats struct {
	Capacity       int
	TargetCount    int
	TotalIdleCount int64
	Targets        []TargetStats
}

// TargetStats is a per-target snapshot (§D.5 health bookkeeping).
type TargetStats struct {
	URL          string
	RequestCount int64
	IdleCount    int
	CircuitState resilience.CircuitState
}

// Stats returns a snapshot of pool and per-target bookkeeping.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Capacity:       p.capacity,
		TargetCount:    len(p.targets),
		TotalIdleCount: atomic.LoadInt64(&p.totalIdleCount),
		Targets:        make([]TargetStats, len(p.targets)),
	}
	for i, t := range p.targets {
		s.Targets[i] = TargetStats{
			URL:          t.URL,
			RequestCount: t.RequestCount(),
			IdleCount:    t.idleList.Len(),
			CircuitState: t.CircuitState(),
		}
	}
	return s
}

// onClose is the on_close hook fired by trackedConn.Close when a checked-
// out socket is closed directly rather than returned via ReturnSocket
// (I3). It decrements both counters exactly once per socket lifetime.
func (p *Pool) onClose(targetIndex int) {
	p.mu.Lock()
	var t *Target
	if targetIndex >= 0 && targetIndex < len(p.targets) {
		t = p.targets[targetIndex]
	}
	p.mu.Unlock()

	if t != nil {
		atomic.AddInt64(&t.requestCount, -1)
	}
	idle := atomic.AddInt64(&p.totalIdleCount, -1)
	recordIdleGauges(idle, 0)
}

// exporter is the optional interface a net.Conn may implement to simulate
// the source's export-to-handle step failing. Production dialers never
// need it; fake conns in tests use it to exercise the ReturnSocket export
// failure path (§4.6).
type exporter interface {
	Export() error
}

// ReturnSocket hands a socket acquired from this pool back for reuse. conn
// must be the exact net.Conn delivered to an acquire callback (§4.6).
// Returns an error on export failure, in which case the caller should
// close the socket itself; on success the pool owns the socket.
func (p *Pool) ReturnSocket(conn net.Conn) error {
	tc, ok := conn.(*trackedConn)
	if !ok {
		return poolerrors.New(poolerrors.CodeInvalidInput, "not a socket acquired from this pool")
	}

	var t *Target
	p.mu.Lock()
	if tc.targetIndex >= 0 && tc.targetIndex < len(p.targets) {
		t = p.targets[tc.targetIndex]
	}
	p.mu.Unlock()
	if t != nil {
		atomic.AddInt64(&t.requestCount, -1)
	}

	raw := tc.clearHook()
	metrics.ReturnTotal.Inc()

	if exp, ok := raw.(exporter); ok {
		if err := exp.Export(); err != nil {
			idle := atomic.AddInt64(&p.totalIdleCount, -1)
			recordIdleGauges(idle, 0)
			metrics.ReturnExportFailedTotal.Inc()
			return poolerrors.Wrap(poolerrors.CodeInternal, "failed to export socket to pool", err)
		}
	}

	entry := &PoolEntry{conn: raw, targetIndex: tc.targetIndex, addedAt: time.Now()}

	p.mu.Lock()
	p.expireLocked(time.Now())
	if t != nil {
		entry.allElem = p.allIdle.PushBack(entry)
		entry.idleElem = t.idleList.PushBack(entry)
	}
	p.mu.Unlock()

	return nil
}
