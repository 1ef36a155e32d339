// Package priceprovider implements the price-provider capability set:
// name/getPrice/supports, realized by a Solana-native adapter, a
// DexScreener adapter, and a multi-chain EVM adapter. Each enforces its
// own minimum inter-request interval and a bounded linear-backoff
// retry, and caches prices for a short TTL.
package priceprovider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/recallnet/trading-simulator/internal/config"
)

// Price is what a provider returns for a successful lookup. A provider
// returns (nil, nil) — not an error — to mean "no price available".
type Price struct {
	PriceUSD      float64
	Timestamp     time.Time
	Chain         config.Chain
	SpecificChain config.SpecificChain
}

// Provider is the uniform capability set the aggregator holds as an
// ordered, polymorphic list.
type Provider interface {
	Name() string
	GetPrice(ctx context.Context, tokenAddress string, chain config.Chain, specificChain config.SpecificChain) (*Price, error)
	Supports(ctx context.Context, tokenAddress string, specificChain config.SpecificChain) bool
}

// httpStatusError lets retryWithBackoff distinguish a non-transient 4xx
// (advance to the next provider/chain) from a transient 5xx/timeout
// (retry within budget, then advance).
type httpStatusError struct {
	StatusCode int
}

func (e *httpStatusError) Error() string { return http.StatusText(e.StatusCode) }

func (e *httpStatusError) transient() bool {
	return e.StatusCode >= 500
}

// retryWithBackoff retries fn up to attempts times with a linear
// backoff (step, 2*step, ...) between tries. It stops immediately on a
// non-transient httpStatusError (a 4xx response is not transient — the
// caller should advance, not retry).
func retryWithBackoff(ctx context.Context, attempts int, step time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if se, ok := err.(*httpStatusError); ok {
			statusErr = se
			if !statusErr.transient() {
				return err
			}
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step * time.Duration(attempt)):
		}
	}
	return lastErr
}

// rateLimiter enforces a minimum interval between requests issued by one
// provider instance.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.last)
	if elapsed < r.interval {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval - elapsed):
		}
	}
	r.last = time.Now()
	return nil
}

// priceCacheKey identifies a cached price by specific chain and token.
type priceCacheKey struct {
	specificChain config.SpecificChain
	token         string
}

type cachedEntry struct {
	price   Price
	fetched time.Time
}

// providerCache is a small, time-bounded per-provider cache keyed by
// (specificChain, tokenAddress).
type providerCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[priceCacheKey]cachedEntry
}

func newProviderCache(ttl time.Duration) *providerCache {
	return &providerCache{ttl: ttl, m: map[priceCacheKey]cachedEntry{}}
}

func (c *providerCache) get(specificChain config.SpecificChain, token string) (Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[priceCacheKey{specificChain, token}]
	if !ok || time.Since(e.fetched) >= c.ttl {
		return Price{}, false
	}
	return e.price, true
}

func (c *providerCache) set(specificChain config.SpecificChain, token string, p Price) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[priceCacheKey{specificChain, token}] = cachedEntry{price: p, fetched: time.Now()}
}

const (
	minRequestInterval = 100 * time.Millisecond
	retryAttempts      = 3
	retryStep          = 1 * time.Second
)
