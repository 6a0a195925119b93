package fx

import (
	"context"
	"sync"
	"time"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/storage/types"
)

type entry struct {
	expiresAt time.Time
	rate      float64
}

// Cached keeps rates of the wrapped source for a TTL
type Cached struct {
	source RateSource
	clock  provider.Clock
	ttl    time.Duration

	mu    sync.RWMutex
	items map[Pair]entry
}

// NewCached wraps the rate source with a TTL cache
func NewCached(source RateSource, ttl time.Duration, clock provider.Clock) *Cached {
	if clock == nil {
		clock = provider.SystemClock{}
	}

	return &Cached{
		source: source,
		clock:  clock,
		ttl:    ttl,
		items:  make(map[Pair]entry),
	}
}

func (c *Cached) GetRate(ctx context.Context, from, to types.Currency) (float64, error) {
	if c.ttl <= 0 {
		return c.source.GetRate(ctx, from, to)
	}

	key := Pair{From: from, To: to}

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && c.clock.Now().Before(e.expiresAt) {
		return e.rate, nil
	}

	rate, err := c.source.GetRate(ctx, from, to)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.items[key] = entry{
		rate:      rate,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return rate, nil
}
