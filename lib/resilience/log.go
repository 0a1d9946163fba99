// Package resilience provides the circuit breaker that lib/socketpool
// attaches to each target, where a run of connect failures trips the
// circuit and a successful connect closes it again, and TargetHealth, a
// separate background monitor whose periodic TCP probe drives a circuit
// breaker of its own. Neither gates a connect attempt; both are read for
// observability.
package resilience

import (
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()
