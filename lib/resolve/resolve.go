// Package resolve provides the default host-resolver collaborator for
// lib/socketpool: an asynchronous getaddr/cancel implementation backed by
// the standard library's net.Resolver.
//
// spec.md places DNS resolution out of the pool's scope deliberately
// (§1, §6); this package is the concrete binding the pool uses unless a
// caller supplies its own socketpool.Resolver.
package resolve

import (
	"context"
	"net"

	"github.com/go-i2p/logger"
	"github.com/outboundpool/socketpool/lib/socketpool"
)

var log = logger.GetGoI2PLogger()

// Resolver wraps *net.Resolver to satisfy socketpool.Resolver. It is safe
// for concurrent use; each Getaddr call runs in its own goroutine.
type Resolver struct {
	r *net.Resolver
}

// New returns a Resolver using the given *net.Resolver, or the package
// default resolver if r is nil.
func New(r *net.Resolver) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Resolver{r: r}
}

// Getaddr implements socketpool.Resolver. It delivers exactly one
// ResolveResult on the returned channel: the addresses, or the lookup error
// (a cancelled ctx surfaces as an error, since LookupIPAddr observes ctx).
// The channel is buffered, so the goroutine it starts never blocks on a
// receiver that has gone away.
func (rv *Resolver) Getaddr(ctx context.Context, host, port string) <-chan socketpool.ResolveResult {
	out := make(chan socketpool.ResolveResult, 1)

	go func() {
		addrs, err := rv.r.LookupIPAddr(ctx, host)
		if err != nil {
			log.WithField("host", host).WithError(err).Debug("resolve failed")
			out <- socketpool.ResolveResult{Err: err}
			return
		}

		result := make([]net.Addr, 0, len(addrs))
		for _, ip := range addrs {
			result = append(result, &net.TCPAddr{IP: ip.IP, Zone: ip.Zone, Port: portOrZero(port)})
		}

		out <- socketpool.ResolveResult{Addrs: result}
	}()

	return out
}

func portOrZero(port string) int {
	p := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return 0
		}
		p = p*10 + int(c-'0')
	}
	return p
}
