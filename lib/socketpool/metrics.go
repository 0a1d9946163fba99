package socketpool

import (
	"time"

	"github.com/outboundpool/socketpool/lib/metrics"
)

// recordIdleGauges syncs the pool-wide idle gauges with the current atomic
// counters. Called after any operation that changes idle membership or the
// reservation count.
func recordIdleGauges(idleCount, reserved int64) {
	metrics.PoolIdleTotal.Set(idleCount)
	metrics.PoolReservedTotal.Set(reserved)
}

func recordAcquireLatency(start time.Time) {
	metrics.AcquireLatency.Observe(time.Since(start).Seconds())
}
