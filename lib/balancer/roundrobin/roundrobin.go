// Package roundrobin implements socketpool.Balancer as round-robin target
// selection, skipping indices already in the tried-set. Grounded on the
// round-robin dispatch pattern used for outbound HTTP transports elsewhere
// in the ecosystem.
package roundrobin

import (
	"sync/atomic"

	poolerrors "github.com/outboundpool/socketpool/lib/errors"
	"github.com/outboundpool/socketpool/lib/socketpool"
)

// Balancer is a round-robin socketpool.Balancer. Target weights, if
// present in each target's BalancerState as an int, bias selection: a
// target with weight w is offered w times as often as a target with
// weight 1 within a full round. Targets with no weight (or weight <= 0)
// default to weight 1.
type Balancer struct {
	cursor int64 // atomic
}

// New returns a fresh round-robin balancer. One instance should be shared
// across a pool's lifetime via Config.Balancer.
func New() *Balancer {
	return &Balancer{}
}

// Init builds the expanded weighted selection order once, from each
// target's BalancerState (an int weight, if present).
func (b *Balancer) Init(targets []*socketpool.Target, config any) (any, error) {
	order := make([]int, 0, len(targets))
	for i, t := range targets {
		weight := 1
		if w, ok := t.BalancerState.(int); ok && w > 0 {
			weight = w
		}
		for j := 0; j < weight; j++ {
			order = append(order, i)
		}
	}
	return order, nil
}

// Select returns the next untried index in the weighted round-robin
// order, wrapping via an atomic cursor. Called under the pool mutex; must
// not block.
func (b *Balancer) Select(targets []*socketpool.Target, state any, tried []bool, extra any) (int, error) {
	order, ok := state.([]int)
	if !ok || len(order) == 0 {
		return 0, poolerrors.ErrInvalidSelection
	}

	for attempts := 0; attempts < len(order); attempts++ {
		pos := atomic.AddInt64(&b.cursor, 1) - 1
		idx := order[int(pos)%len(order)]
		if idx >= 0 && idx < len(tried) && !tried[idx] {
			return idx, nil
		}
	}
	return 0, poolerrors.ErrInvalidSelection
}

// Dispose does nothing: the selection order holds no resources beyond
// memory.
func (b *Balancer) Dispose(state any) {}
