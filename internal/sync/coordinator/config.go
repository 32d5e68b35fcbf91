package coordinator

import (
	"math/rand/v2"
	"time"

	"github.com/stacklok/feedsync/internal/config"
)

// maxJitter caps the random offset applied to the bulk interval
const maxJitter = 30 * time.Second

// schedule holds the timing the coordinator reads from configuration
type schedule struct {
	interval     time.Duration
	initialDelay time.Duration
	staleAfter   time.Duration
}

func scheduleFrom(cfg *config.Config) schedule {
	if cfg == nil {
		return schedule{
			interval:   config.DefaultInterval,
			staleAfter: config.DefaultStaleAfter,
		}
	}
	return schedule{
		interval:     cfg.GetInterval(),
		initialDelay: cfg.GetInitialDelay(),
		staleAfter:   cfg.GetStaleAfter(),
	}
}

// jitteredInterval returns interval shifted by a random offset of at most
// ±10% of the interval, capped at maxJitter.
func jitteredInterval(interval time.Duration) time.Duration {
	jitter := min(interval/10, maxJitter)
	if jitter <= 0 {
		return interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return interval + offset
}
