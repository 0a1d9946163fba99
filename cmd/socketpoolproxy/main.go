// socketpoolproxy is a demonstration HTTP reverse proxy built on top of
// lib/socketpool: every outbound connection to an upstream target is
// acquired from the pool and, once the response body is drained, returned
// for reuse instead of being closed.
//
// Usage:
//
//	socketpoolproxy [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "socketpoolproxy.toml")
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outboundpool/socketpool/lib/balancer/roundrobin"
	"github.com/outboundpool/socketpool/lib/config"
	"github.com/outboundpool/socketpool/lib/connlimit"
	"github.com/outboundpool/socketpool/lib/metrics"
	"github.com/outboundpool/socketpool/lib/ratelimit"
	"github.com/outboundpool/socketpool/lib/resilience"
	"github.com/outboundpool/socketpool/lib/resolve"
	"github.com/outboundpool/socketpool/lib/socketpool"
	"github.com/outboundpool/socketpool/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "socketpoolproxy.toml", "Path to configuration file")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "socketpoolproxy - HTTP reverse proxy backed by a pooled socket client\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  socketpoolproxy [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("socketpoolproxy version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	pool, err := buildPool(*cfg)
	if err != nil {
		logger.Error("failed to build socket pool", "error", err)
		return 1
	}
	defer pool.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.RegisterLoop(ctx)
	defer pool.UnregisterLoop()

	var limiter *ratelimit.KeyedLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewKeyed(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, time.Minute)
		defer limiter.Close()
	}

	monitors := buildHealthMonitors(*cfg, logger)
	for _, th := range monitors {
		if err := th.Start(ctx); err != nil {
			logger.Warn("failed to start target health monitor", "error", err)
		}
	}
	defer func() {
		for _, th := range monitors {
			th.Stop()
		}
	}()

	mux := buildMux(pool, monitors, limiter, logger)

	ln, err := net.Listen("tcp", cfg.Proxy.Listen)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Proxy.Listen, "error", err)
		return 1
	}
	ln = &limitedListener{Listener: ln, limiter: connlimit.NewConnectionLimiter(connlimit.DefaultMaxConnections)}

	server := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	logger.Info("socketpoolproxy started", "listen", cfg.Proxy.Listen, "targets", len(cfg.Pool.Targets), "version", version.Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}

	logger.Info("socketpoolproxy stopped")
	return 0
}

// buildPool constructs the pool named by cfg.Pool: a fixed-target pool
// unless cfg.Pool.Global is set, with the round-robin balancer engaged
// whenever more than one target is configured and lib/resolve wired in for
// any target whose host isn't a numeric literal.
func buildPool(cfg config.Config) (*socketpool.Pool, error) {
	var bal socketpool.Balancer
	switch cfg.Pool.BalancerName {
	case "", "roundrobin":
		bal = roundrobin.New()
	default:
		return nil, fmt.Errorf("unknown balancer %q", cfg.Pool.BalancerName)
	}

	poolCfg := socketpool.Config{
		Capacity:    cfg.Pool.Capacity,
		IdleTimeout: cfg.Pool.IdleTimeout,
		Balancer:    bal,
		Resolver:    resolve.New(nil),
	}

	if cfg.Pool.Global {
		return socketpool.InitGlobal(poolCfg)
	}

	specs := make([]socketpool.TargetSpec, len(cfg.Pool.Targets))
	for i, t := range cfg.Pool.Targets {
		specs[i] = socketpool.TargetSpec{URL: t.URL, BalancerState: t.Weight}
	}
	return socketpool.InitSpecific(specs, poolCfg)
}

// buildHealthMonitors starts one resilience.TargetHealth per configured
// target: a background TCP reachability probe independent of the pool's
// own connect-outcome circuit breaker, surfaced at /debug/health. Skipped
// for a global (lazy-target) pool, which has no fixed target list to probe.
func buildHealthMonitors(cfg config.Config, logger *slog.Logger) []*resilience.TargetHealth {
	if cfg.Pool.Global {
		return nil
	}

	monitors := make([]*resilience.TargetHealth, 0, len(cfg.Pool.Targets))
	for _, t := range cfg.Pool.Targets {
		addr, err := targetAddr(t.URL)
		if err != nil {
			logger.Warn("skipping health monitor for unparseable target", "url", t.URL, "error", err)
			continue
		}
		monitors = append(monitors, resilience.NewTargetHealth(t.URL, addr, resilience.DefaultTargetHealthConfig()))
	}
	return monitors
}

// targetAddr extracts the dialable host:port from a target URL.
func targetAddr(targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in target URL %q", targetURL)
	}
	return u.Host, nil
}

func buildMux(pool *socketpool.Pool, monitors []*resilience.TargetHealth, limiter *ratelimit.KeyedLimiter, logger *slog.Logger) *http.ServeMux {
	proxy := &httputil.ReverseProxy{
		Transport: &poolTransport{pool: pool, logger: logger},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("proxy request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && !limiter.Allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		proxy.ServeHTTP(w, r)
	})
	mux.HandleFunc("/debug/pool", func(w http.ResponseWriter, r *http.Request) {
		writeStats(w, pool.Stats())
	})
	mux.HandleFunc("/debug/health", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, monitors)
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// clientKey extracts the rate-limit bucket key from a request: the remote
// address without its ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeStats(w http.ResponseWriter, stats socketpool.Stats) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "capacity=%d targets=%d total_idle=%d\n", stats.Capacity, stats.TargetCount, stats.TotalIdleCount)
	for _, t := range stats.Targets {
		fmt.Fprintf(w, "target=%s request_count=%d idle=%d circuit=%s\n", t.URL, t.RequestCount, t.IdleCount, t.CircuitState)
	}
}

// writeHealth reports each target's independent background reachability
// probe, distinct from the pool's own connect-outcome circuit state.
func writeHealth(w http.ResponseWriter, monitors []*resilience.TargetHealth) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, th := range monitors {
		stats := th.Stats()
		fmt.Fprintf(w, "target=%s healthy=%t last_check=%s circuit=%s failures=%d\n",
			stats.CircuitBreaker.Name, stats.IsHealthy, stats.LastCheck.Format(time.RFC3339),
			stats.CircuitBreaker.State, stats.CircuitBreaker.FailureCount)
	}
}

// limitedListener rejects inbound connections once connlimit's cap is
// reached instead of letting them pile up ahead of the outbound pool.
type limitedListener struct {
	net.Listener
	limiter *connlimit.ConnectionLimiter
}

func (l *limitedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		accepted := l.limiter.TryAccept(conn)
		if accepted == nil {
			continue
		}
		return l.limiter.WrapConn(accepted), nil
	}
}
