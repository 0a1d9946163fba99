package socketpool

import poolerrors "github.com/outboundpool/socketpool/lib/errors"

// Balancer is the externally supplied target-selection policy, invoked only
// when a pool has more than one target (§4.5). Implementations must be
// non-blocking: Select is called with the pool mutex held.
type Balancer interface {
	// Init receives the target vector and an opaque config and returns
	// balancer state threaded through every subsequent Select call.
	Init(targets []*Target, config any) (any, error)

	// Select must return an index i with tried[i] == false. Called under
	// the pool mutex; must not block.
	Select(targets []*Target, state any, tried []bool, extra any) (int, error)

	// Dispose releases any resources held by state.
	Dispose(state any)
}

// trivialBalancer is used internally when a pool has at most one target; it
// is never asked to select since the attempt loop picks index 0 on the
// first try without engaging the balancer at all.
type trivialBalancer struct{}

func (trivialBalancer) Init(targets []*Target, config any) (any, error) { return nil, nil }
func (trivialBalancer) Select(targets []*Target, state any, tried []bool, extra any) (int, error) {
	return 0, poolerrors.ErrInvalidSelection
}
func (trivialBalancer) Dispose(state any) {}
