package resilience

import (
	"github.com/outboundpool/socketpool/lib/metrics"
)

// Circuit breaker metrics for Prometheus exposition.
var (
	// CircuitBreakerState tracks the current state of each circuit breaker.
	// 0 = closed, 1 = open, 2 = half-open
	CircuitBreakerState = metrics.NewGauge(
		"socketpool_target_circuit_state",
		"Current state of a target's circuit breaker (0=closed, 1=open, 2=half-open)",
	)

	// CircuitBreakerTrips counts the number of times circuits have opened.
	CircuitBreakerTrips = metrics.NewCounter(
		"socketpool_target_circuit_trips_total",
		"Total number of times a target circuit breaker has opened",
	)
)

// MetricsCallback is a state change callback that updates metrics. Wired
// into every TargetHealth's circuit breaker via SetStateChangeCallback.
func MetricsCallback(from, to CircuitState) {
	CircuitBreakerState.Set(int64(to))
	if to == CircuitOpen {
		CircuitBreakerTrips.Inc()
	}
}
