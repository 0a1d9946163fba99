package main

import (
	"net/http"
	"testing"

	"github.com/outboundpool/socketpool/lib/config"
)

func TestClientKey(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1:54321":   "10.0.0.1",
		"[::1]:8080":       "::1",
		"not-a-valid-addr": "not-a-valid-addr",
	}
	for remote, want := range cases {
		req := &http.Request{RemoteAddr: remote}
		if got := clientKey(req); got != want {
			t.Errorf("clientKey(%q) = %q, want %q", remote, got, want)
		}
	}
}

func TestBuildPool_UnknownBalancer(t *testing.T) {
	cfg := *config.DefaultConfig()
	cfg.Pool.BalancerName = "least-loaded"

	if _, err := buildPool(cfg); err == nil {
		t.Error("expected an error for an unrecognized balancer name")
	}
}

func TestBuildPool_SingleTargetDefault(t *testing.T) {
	cfg := *config.DefaultConfig()

	p, err := buildPool(cfg)
	if err != nil {
		t.Fatalf("buildPool: %v", err)
	}
	defer p.Dispose()

	stats := p.Stats()
	if stats.TargetCount != 1 {
		t.Errorf("target count = %d, want 1", stats.TargetCount)
	}
}

func TestBuildPool_GlobalPool(t *testing.T) {
	cfg := *config.DefaultConfig()
	cfg.Pool.Global = true
	cfg.Pool.Targets = nil

	p, err := buildPool(cfg)
	if err != nil {
		t.Fatalf("buildPool: %v", err)
	}
	defer p.Dispose()

	if stats := p.Stats(); stats.TargetCount != 0 {
		t.Errorf("target count = %d, want 0 before any acquire", stats.TargetCount)
	}
}
