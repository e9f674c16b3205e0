package futures

import (
	"sync"
	"time"
)

// timeSync keeps a rolling offset between local and exchange clocks so
// signed requests carry a timestamp the exchange will accept without a
// round trip per request.
type timeSync struct {
	mu       sync.RWMutex
	offset   int64 // ms, server minus local
	lastSync time.Time
}

// update records a fresh server time sample, taking the midpoint of the
// round trip as the local time the sample corresponds to.
func (ts *timeSync) update(serverTime, localBefore, localAfter int64) {
	local := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()
}

// now returns the local clock adjusted by the last known offset.
func (ts *timeSync) now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// stale reports whether the offset should be refreshed.
func (ts *timeSync) stale(maxAge time.Duration) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Since(ts.lastSync) > maxAge
}
