package resilience

import (
	"context"
	"net"
	"sync"
	"time"
)

// TargetHealthConfig configures the background health monitor.
type TargetHealthConfig struct {
	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig

	// Health check configuration
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
}

// DefaultTargetHealthConfig returns sensible defaults.
func DefaultTargetHealthConfig() TargetHealthConfig {
	return TargetHealthConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		CheckInterval:  30 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}

// TargetHealth integrates a periodic TCP reachability probe with a circuit
// breaker for one target, run alongside lib/socketpool as an independent
// observability signal: it never gates a connect attempt, it only reports
// reachability and circuit state for cmd/socketpoolproxy to surface.
type TargetHealth struct {
	mu     sync.RWMutex
	config TargetHealthConfig

	// addr is the target address being probed.
	addr string

	// Circuit breaker
	circuit *CircuitBreaker

	// Health check state
	lastCheck   time.Time
	lastHealthy time.Time
	isHealthy   bool

	// Callbacks
	onUnhealthy func()
	onHealthy   func()
	onReconnect func() error

	// Control
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTargetHealth creates a new health monitor with an integrated circuit
// breaker for the given address.
func NewTargetHealth(name, addr string, cfg TargetHealthConfig) *TargetHealth {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultTargetHealthConfig().CheckInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultTargetHealthConfig().ProbeTimeout
	}

	th := &TargetHealth{
		config:    cfg,
		addr:      addr,
		circuit:   NewCircuitBreaker(name+"-circuit", cfg.CircuitBreaker),
		isHealthy: true, // Optimistic start
	}

	th.circuit.SetStateChangeCallback(func(from, to CircuitState) {
		log.WithField("name", name).
			WithField("from", from.String()).
			WithField("to", to.String()).
			Info("circuit state changed")
		MetricsCallback(from, to)
	})

	return th
}

// SetCallbacks sets the callbacks for health state changes.
func (th *TargetHealth) SetCallbacks(onUnhealthy, onHealthy func(), onReconnect func() error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.onUnhealthy = onUnhealthy
	th.onHealthy = onHealthy
	th.onReconnect = onReconnect
}

// Start begins health monitoring.
func (th *TargetHealth) Start(ctx context.Context) error {
	th.mu.Lock()
	if th.running {
		th.mu.Unlock()
		return nil
	}
	th.running = true
	ctx, cancel := context.WithCancel(ctx)
	th.cancel = cancel
	th.mu.Unlock()

	log.WithField("addr", th.addr).
		WithField("checkInterval", th.config.CheckInterval).
		Debug("starting target health monitor")

	th.wg.Add(1)
	go func() {
		defer th.wg.Done()
		th.monitorLoop(ctx)
	}()

	return nil
}

// Stop halts health monitoring.
func (th *TargetHealth) Stop() {
	th.mu.Lock()
	if !th.running {
		th.mu.Unlock()
		return
	}
	th.running = false
	th.cancel()
	th.mu.Unlock()

	th.wg.Wait()
	log.Debug("target health monitor stopped")
}

// monitorLoop periodically probes the target address.
func (th *TargetHealth) monitorLoop(ctx context.Context) {
	// Initial check
	th.checkHealth()

	ticker := time.NewTicker(th.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			th.checkHealth()
		}
	}
}

// checkHealth performs a health check and updates circuit breaker state.
func (th *TargetHealth) checkHealth() {
	th.mu.Lock()
	th.lastCheck = time.Now()
	wasHealthy := th.isHealthy
	onUnhealthy := th.onUnhealthy
	onHealthy := th.onHealthy
	onReconnect := th.onReconnect
	th.mu.Unlock()

	healthy := th.probeAddr()

	th.mu.Lock()
	th.isHealthy = healthy
	if healthy {
		th.lastHealthy = time.Now()
	}
	th.mu.Unlock()

	if healthy {
		th.circuit.RecordSuccess()
		if !wasHealthy && onHealthy != nil {
			log.WithField("addr", th.addr).Debug("target reachable again, invoking onHealthy callback")
			go onHealthy()
		}
	} else {
		th.circuit.RecordFailure()
		if wasHealthy && onUnhealthy != nil {
			log.WithField("addr", th.addr).Debug("target unreachable, invoking onUnhealthy callback")
			go onUnhealthy()
		}

		// Attempt reconnection while the circuit reports open (not once it
		// reports half-open)
		if th.circuit.IsOpen() && onReconnect != nil {
			log.WithField("addr", th.addr).Debug("circuit open, attempting reconnection")
			go func() {
				if err := onReconnect(); err != nil {
					log.WithError(err).Warn("reconnection attempt failed")
				}
			}()
		}
	}
}

// probeAddr attempts a bare TCP dial to the target address.
func (th *TargetHealth) probeAddr() bool {
	conn, err := net.DialTimeout("tcp", th.addr, th.config.ProbeTimeout)
	if err != nil {
		log.WithField("addr", th.addr).WithError(err).Debug("target probe failed")
		return false
	}
	conn.Close()
	return true
}

// CircuitState returns the current circuit breaker state.
func (th *TargetHealth) CircuitState() CircuitState {
	return th.circuit.State()
}

// IsHealthy returns true if the last health check passed.
func (th *TargetHealth) IsHealthy() bool {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.isHealthy
}

// LastCheck returns the time of the last health check.
func (th *TargetHealth) LastCheck() time.Time {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.lastCheck
}

// LastHealthy returns when the target was last confirmed reachable.
func (th *TargetHealth) LastHealthy() time.Time {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return th.lastHealthy
}

// Stats returns combined health and circuit breaker statistics.
func (th *TargetHealth) Stats() TargetHealthStats {
	th.mu.RLock()
	defer th.mu.RUnlock()

	return TargetHealthStats{
		IsHealthy:      th.isHealthy,
		LastCheck:      th.lastCheck,
		LastHealthy:    th.lastHealthy,
		CircuitBreaker: th.circuit.Stats(),
	}
}

// TargetHealthStats holds combined statistics.
type TargetHealthStats struct {
	IsHealthy      bool
	LastCheck      time.Time
	LastHealthy    time.Time
	CircuitBreaker CircuitBreakerStats
}

// ForceCheck triggers an immediate health check.
func (th *TargetHealth) ForceCheck() {
	th.checkHealth()
}

// Reset resets both the circuit breaker and health state.
func (th *TargetHealth) Reset() {
	th.mu.Lock()
	th.isHealthy = true
	th.mu.Unlock()
	th.circuit.Reset()
}
