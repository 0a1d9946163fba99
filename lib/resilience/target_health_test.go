package resilience

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTargetHealthDefaultConfig(t *testing.T) {
	cfg := DefaultTargetHealthConfig()
	if cfg.CheckInterval <= 0 {
		t.Error("CheckInterval should be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		t.Error("ProbeTimeout should be positive")
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		t.Error("CircuitBreaker.FailureThreshold should be positive")
	}
}

func TestTargetHealthInitialState(t *testing.T) {
	th := NewTargetHealth("test", "127.0.0.1:7656", DefaultTargetHealthConfig())
	defer th.Stop()

	if !th.IsHealthy() {
		t.Error("expected initial state to be healthy")
	}
	if th.CircuitState() != CircuitClosed {
		t.Errorf("expected initial circuit state Closed, got %v", th.CircuitState())
	}
}

func TestTargetHealthStats(t *testing.T) {
	th := NewTargetHealth("test-stats", "127.0.0.1:7656", DefaultTargetHealthConfig())
	defer th.Stop()

	stats := th.Stats()
	if !stats.IsHealthy {
		t.Error("expected initial health to be true")
	}
	if stats.CircuitBreaker.State != CircuitClosed {
		t.Errorf("expected circuit state Closed, got %v", stats.CircuitBreaker.State)
	}
}

func TestTargetHealthReset(t *testing.T) {
	cfg := TargetHealthConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 1,
			Timeout:          1 * time.Second,
		},
		CheckInterval: 1 * time.Second,
		ProbeTimeout:  100 * time.Millisecond,
	}
	th := NewTargetHealth("test", "127.0.0.1:7656", cfg)
	defer th.Stop()

	th.circuit.RecordFailure()

	if th.CircuitState() != CircuitOpen {
		t.Error("expected circuit to be open")
	}

	th.Reset()

	if !th.IsHealthy() {
		t.Error("expected IsHealthy to be true after reset")
	}
	if th.CircuitState() != CircuitClosed {
		t.Error("expected circuit to be closed after reset")
	}
}

func TestTargetHealthSetCallbacks(t *testing.T) {
	th := NewTargetHealth("test", "127.0.0.1:7656", DefaultTargetHealthConfig())
	defer th.Stop()

	unhealthyCalled := false
	healthyCalled := false
	reconnectCalled := false

	th.SetCallbacks(
		func() { unhealthyCalled = true },
		func() { healthyCalled = true },
		func() error { reconnectCalled = true; return nil },
	)

	_ = unhealthyCalled
	_ = healthyCalled
	_ = reconnectCalled
}

func TestTargetHealthStartStop(t *testing.T) {
	cfg := TargetHealthConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		CheckInterval:  50 * time.Millisecond,
		ProbeTimeout:   10 * time.Millisecond,
	}
	th := NewTargetHealth("test", "127.0.0.1:7656", cfg)

	ctx := context.Background()
	err := th.Start(ctx)
	if err != nil {
		t.Errorf("expected no error starting, got %v", err)
	}

	// Double start should be ok
	err = th.Start(ctx)
	if err != nil {
		t.Errorf("expected no error on double start, got %v", err)
	}

	th.Stop()

	// Double stop should be ok
	th.Stop()
}

func TestTargetHealthWithRealListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	cfg := TargetHealthConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 2,
			Timeout:          100 * time.Millisecond,
		},
		CheckInterval: 50 * time.Millisecond,
		ProbeTimeout:  100 * time.Millisecond,
	}

	th := NewTargetHealth("test", listener.Addr().String(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = th.Start(ctx)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer th.Stop()

	// Wait for first health check
	time.Sleep(60 * time.Millisecond)

	if !th.IsHealthy() {
		t.Error("expected healthy with listener up")
	}
	if th.CircuitState() != CircuitClosed {
		t.Errorf("expected circuit closed, got %v", th.CircuitState())
	}
}

func TestTargetHealthProbeFailure(t *testing.T) {
	cfg := TargetHealthConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 2,
			Timeout:          1 * time.Second,
		},
		CheckInterval: 50 * time.Millisecond,
		ProbeTimeout:  10 * time.Millisecond,
	}

	// Use an address that will fail.
	th := NewTargetHealth("test", "127.0.0.1:1", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := th.Start(ctx)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer th.Stop()

	// Wait for checks to fail
	time.Sleep(150 * time.Millisecond)

	if th.IsHealthy() {
		t.Error("expected unhealthy with no listener")
	}

	if th.CircuitState() != CircuitOpen {
		t.Errorf("expected circuit open, got %v", th.CircuitState())
	}
}

func TestTargetHealthForceCheck(t *testing.T) {
	cfg := TargetHealthConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		CheckInterval:  1 * time.Hour, // Long interval
		ProbeTimeout:   10 * time.Millisecond,
	}

	th := NewTargetHealth("test", "127.0.0.1:1", cfg)
	defer th.Stop()

	if th.LastCheck().IsZero() {
		th.ForceCheck()
	}

	lastCheck := th.LastCheck()
	if lastCheck.IsZero() {
		t.Error("expected LastCheck to be set after ForceCheck")
	}
}

func TestTargetHealthLastHealthy(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	cfg := TargetHealthConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		CheckInterval:  1 * time.Hour,
		ProbeTimeout:   100 * time.Millisecond,
	}

	th := NewTargetHealth("test", listener.Addr().String(), cfg)
	defer th.Stop()

	th.ForceCheck()

	lastHealthy := th.LastHealthy()
	if lastHealthy.IsZero() {
		t.Error("expected LastHealthy to be set after successful check")
	}
}
