package socketpool

import (
	"container/list"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/outboundpool/socketpool/lib/resilience"
)

// TargetKind classifies how a Target's address was resolved at construction
// time: Sockaddr targets carry a fully resolved address, Named targets carry
// a host string to be resolved per connect attempt.
type TargetKind int

const (
	// KindSockaddr means the target's address is already resolved: either a
	// Unix-domain socket path or a numeric IPv4/IPv6 literal.
	KindSockaddr TargetKind = iota
	// KindNamed means the host is not a numeric literal and must be
	// resolved through the Resolver collaborator on every connect attempt.
	KindNamed
)

// Target is an immutable description of one upstream endpoint: its URL,
// resolved address family, per-target balancer state, and the bookkeeping
// the pool needs to hand out and reclaim sockets against it.
//
// Everything here except requestCount and idleList is fixed at
// construction; callers must treat a *Target as read-only aside from the
// accessors below. Target indices are stable identifiers once appended to a
// Pool's target slice — they are never reordered or compacted.
type Target struct {
	// URL is the scheme+authority+host+path used to match acquire calls
	// against this target. Host and authority are lower-cased unless Kind
	// is a Unix-domain Sockaddr (I4).
	URL string

	Scheme    string
	Authority string
	Host      string
	Path      string

	Kind TargetKind

	// Addr is set when Kind == KindSockaddr: the resolved net.Addr (TCP or
	// Unix). Nil for KindNamed targets.
	Addr net.Addr

	// Network is "tcp" or "unix", the network argument passed to the
	// Dialer collaborator.
	Network string

	// NamedHost and NamedPort are set when Kind == KindNamed: the host to
	// resolve and the pre-rendered decimal port string, computed once here
	// to avoid repeated formatting on every connect attempt.
	NamedHost string
	NamedPort string

	// BalancerState is the opaque per-target datum supplied at
	// construction time and handed back to the Balancer via
	// Target.BalancerState.
	BalancerState any

	requestCount int64 // atomic; see Target.RequestCount

	idleList *list.List // guarded by the owning Pool's mutex

	// circuit trips after a run of connect failures against this target
	// (§D.5 health bookkeeping), but is never consulted to gate or skip a
	// connect attempt. It exists purely to surface reported state via
	// CircuitState and Stats.
	circuit *resilience.CircuitBreaker
}

// RequestCount returns the number of sockets currently checked out, or
// mid-connect, against this target. Mutated atomically, readable without
// the pool mutex; advisory for observability only (I3). On a single-target
// pool, idle hits and fresh connects are not counted while a direct Close or
// a ReturnSocket still decrements, so there the value can drop below zero.
func (t *Target) RequestCount() int64 {
	return atomic.LoadInt64(&t.requestCount)
}

// CircuitState reports this target's current circuit breaker state.
func (t *Target) CircuitState() resilience.CircuitState {
	return t.circuit.State()
}

// TargetSpec is the construction-time input for one target: a URL plus
// optional per-target balancer configuration.
type TargetSpec struct {
	URL           string
	BalancerState any
}

// newTarget interprets spec.URL and builds an immutable Target. The host is
// tested first as a Unix-domain socket path, then as a numeric IPv4/IPv6
// literal; anything else is treated as a name to resolve per connect (I4).
func newTarget(spec TargetSpec) (*Target, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, &invalidURLError{raw: spec.URL, err: err}
	}

	t := &Target{
		URL:           spec.URL,
		Scheme:        u.Scheme,
		Authority:     u.Host,
		Host:          u.Hostname(),
		Path:          u.Path,
		BalancerState: spec.BalancerState,
		idleList:      list.New(),
		circuit:       resilience.NewCircuitBreaker(spec.URL, resilience.DefaultCircuitBreakerConfig()),
	}

	if unixPath, ok := unixSocketPath(u); ok {
		t.Kind = KindSockaddr
		t.Network = "unix"
		t.Addr = &net.UnixAddr{Name: unixPath, Net: "unix"}
		// Unix-domain targets are exempt from lower-casing (I4).
		return t, nil
	}

	t.Authority = strings.ToLower(t.Authority)
	t.Host = strings.ToLower(t.Host)

	port := u.Port()
	if port == "" {
		port = defaultPortForScheme(t.Scheme)
	}

	if ip := net.ParseIP(t.Host); ip != nil {
		t.Kind = KindSockaddr
		t.Network = "tcp"
		tcpAddr := &net.TCPAddr{IP: ip}
		if p, err := strconv.Atoi(port); err == nil {
			tcpAddr.Port = p
		}
		t.Addr = tcpAddr
		return t, nil
	}

	t.Kind = KindNamed
	t.Network = "tcp"
	t.NamedHost = t.Host
	t.NamedPort = port
	return t, nil
}

// unixSocketPath recognizes the "unix" scheme convention used throughout
// this module: unix:///path/to.sock or unix://relative/to.sock.
func unixSocketPath(u *url.URL) (string, bool) {
	if u.Scheme != "unix" {
		return "", false
	}
	if u.Path != "" {
		return u.Path, true
	}
	return u.Host, true
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	case "http", "":
		return "80"
	default:
		return "0"
	}
}

// matchesURL implements the global pool's target-matching predicate: scheme
// equality, port equality (after defaulting), and host equality (§4.2).
func (t *Target) matchesURL(u *url.URL) bool {
	if !strings.EqualFold(t.Scheme, u.Scheme) {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.EqualFold(t.Host, host) {
		return false
	}
	port := u.Port()
	if port == "" {
		port = defaultPortForScheme(u.Scheme)
	}
	wantPort := t.NamedPort
	if t.Kind == KindSockaddr {
		if tcpAddr, ok := t.Addr.(*net.TCPAddr); ok {
			wantPort = strconv.Itoa(tcpAddr.Port)
		}
	}
	return wantPort == port
}

type invalidURLError struct {
	raw string
	err error
}

func (e *invalidURLError) Error() string {
	return "socketpool: invalid target url " + strconv.Quote(e.raw) + ": " + e.err.Error()
}

func (e *invalidURLError) Unwrap() error { return e.err }
