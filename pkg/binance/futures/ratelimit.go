package futures

import (
	"strconv"
	"sync"
	"time"

	"signal-core/internal/logger"
)

// rateTracker mirrors the exchange's request-weight accounting from the
// X-MBX-USED-WEIGHT-1M response header. It never blocks requests; it only
// warns as usage approaches the ban threshold.
type rateTracker struct {
	mu        sync.Mutex
	used      int
	limit     int
	window    time.Duration
	lastReset time.Time
	log       *logger.Logger
}

func newRateTracker(limit int, window time.Duration, log *logger.Logger) *rateTracker {
	return &rateTracker{
		limit:     limit,
		window:    window,
		lastReset: time.Now(),
		log:       log,
	}
}

func (rt *rateTracker) updateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if time.Since(rt.lastReset) >= rt.window {
		rt.used = 0
		rt.lastReset = time.Now()
	}
	rt.used = weight

	pct := float64(rt.used) / float64(rt.limit) * 100
	if pct >= 90 {
		rt.log.WithComponent("binance").WithFields(map[string]any{
			"used": rt.used, "limit": rt.limit,
		}).Warn("request weight near exchange limit")
	}
}
