package socketpool

import "sync"

// warnOnce rate-limits a stderr-style warning to the first occurrence per
// reason, process-wide, for the lifetime of the binary (§9 "Global state").
// Every Pool shares the same set of reasons since the invariant is
// explicitly process-wide, not per-pool.
type warnOnce struct {
	mu   sync.Mutex
	seen map[string]bool
}

var processWarnings = &warnOnce{seen: make(map[string]bool)}

// warn logs reason via the package logger exactly once per reason, ever.
func (w *warnOnce) warn(reason string, fields map[string]any) {
	w.mu.Lock()
	if w.seen[reason] {
		w.mu.Unlock()
		return
	}
	w.seen[reason] = true
	w.mu.Unlock()

	entry := log.WithField("reason", reason)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Warn("idle socket discarded")
}
