package ratelimit

import (
	"context"
	"time"
)

const counterPrefix = "rl:"

// Counters owns the per-identity window counters.
type Counters struct {
	store Store
}

func NewCounters(store Store) *Counters {
	return &Counters{store: store}
}

func counterKey(id Identity, w Window) string {
	return counterPrefix + id.Key() + ":" + string(w)
}

// IncrementAndCheck counts the request against the identity's window and
// reports whether it stayed within limit. The increment happens regardless
// of the outcome, so counting stays exact for allowed and denied requests
// alike. retryAfter is the remaining window time, only meaningful when
// allowed is false.
func (c *Counters) IncrementAndCheck(ctx context.Context, id Identity, w Window, limit int) (count int64, allowed bool, retryAfter time.Duration, err error) {
	count, remaining, err := c.store.IncrWindow(ctx, counterKey(id, w), w.Duration())
	if err != nil {
		return 0, false, 0, err
	}
	return count, count <= int64(limit), remaining, nil
}

// Reset clears a window counter early. Admin/debug use only; the normal
// lifecycle is TTL expiry.
func (c *Counters) Reset(ctx context.Context, id Identity, w Window) error {
	return c.store.Delete(ctx, counterKey(id, w))
}
