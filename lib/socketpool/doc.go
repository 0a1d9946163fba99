// Package socketpool implements an outbound connection pool for TCP-like
// byte streams to one or more upstream targets.
//
// It owns idle (keep-alive) sockets, hands them out on demand, creates new
// connections when none are idle, enforces an idle-expiration policy, and
// cooperates with a pluggable Balancer to pick among several targets and
// retry others on connect failure. The hard part is the acquire/return state
// machine: idle-socket selection with liveness probing, asynchronous target
// selection, name resolution and connection establishment, failure-driven
// target fallback, and concurrent return-to-pool and background idle
// expiration, all under a mutex whose critical sections stay small enough
// that no I/O ever happens while it is held.
//
// # Basic usage
//
//	p, err := socketpool.InitSpecific([]socketpool.TargetSpec{
//		{URL: "http://127.0.0.1:8080"},
//	}, socketpool.Config{Capacity: 64, IdleTimeout: 2 * time.Second})
//	if err != nil {
//		return err
//	}
//	defer p.Dispose()
//	p.RegisterLoop(ctx)
//
//	handle := p.Acquire(ctx, "http://127.0.0.1:8080", nil, func(conn net.Conn, err error, targetURL string) {
//		if err != nil {
//			return
//		}
//		defer p.ReturnSocket(conn)
//		// use conn
//	})
//	_ = handle
//
// # Global pools
//
// A global pool (InitGlobal) starts with no targets; each Acquire call
// matches the requested URL against existing targets by scheme, port, and
// host, appending a new Target on first sight.
//
// # Metrics
//
// Pool-shaped metrics are registered with lib/metrics the same way the
// rest of this module's packages are:
//   - socketpool_idle_total
//   - socketpool_reserved_total
//   - socketpool_acquire_total / _idle_hit_total / _connect_total / _failed_total
//   - socketpool_return_total / _export_failed_total
//   - socketpool_fallback_total
//   - socketpool_expired_total
//   - socketpool_dead_socket_total
//   - socketpool_acquire_duration_seconds
package socketpool
