// Package aggregator resolves a token's USD price given its address and
// optional chain hints, trying in order the in-memory cache, the
// database freshness check, and then a fan-out across configured
// providers per chain. It resolves to nil rather than erroring when no
// provider can price the token.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/recallnet/trading-simulator/internal/chainaddr"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/metrics"
	"github.com/recallnet/trading-simulator/internal/priceprovider"
	"github.com/recallnet/trading-simulator/internal/store"
)

// priceRecorder is the subset of store.Store the aggregator needs,
// narrowed for testability.
type priceRecorder interface {
	GetLatestPrice(token string, specificChain config.SpecificChain) (*store.PriceRecord, error)
	InsertPriceRecord(r store.PriceRecord) error
}

type cacheEntry struct {
	price   float64
	chain   config.Chain
	sc      config.SpecificChain
	fetched time.Time
}

// Aggregator fans out across providers for SVM and EVM addresses,
// coalescing concurrent lookups for the same key via singleflight and
// remembering, per token, which specific EVM chain last produced a
// price.
type Aggregator struct {
	cfg   *config.Config
	db    priceRecorder
	svm   []priceprovider.Provider
	evm   []priceprovider.Provider
	group singleflight.Group

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry

	memoMu sync.RWMutex
	memo   map[string]memoEntry
}

type memoEntry struct {
	specificChain config.SpecificChain
	recordedAt    time.Time
}

// New builds an aggregator from already-constructed providers, ordered
// as the caller wants them tried.
func New(cfg *config.Config, db priceRecorder, svmProviders, evmProviders []priceprovider.Provider) *Aggregator {
	return &Aggregator{
		cfg:   cfg,
		db:    db,
		svm:   svmProviders,
		evm:   evmProviders,
		cache: map[string]cacheEntry{},
		memo:  map[string]memoEntry{},
	}
}

// Result is the outcome of a price lookup.
type Result struct {
	PriceUSD      float64
	Chain         config.Chain
	SpecificChain config.SpecificChain
}

// GetPrice resolves tokenAddress to a USD price. chainHint/specificChainHint
// may be empty, in which case the aggregator classifies and/or discovers
// the chain itself. Returns (nil, nil) if no provider has a price — the
// aggregator never returns an error to the caller for upstream failure.
func (a *Aggregator) GetPrice(ctx context.Context, tokenAddress string, chainHint config.Chain, specificChainHint config.SpecificChain) (*Result, error) {
	key := normalizeKey(tokenAddress, chainHint)

	if cached, ok := a.readCache(key); ok {
		metrics.PriceLookupsTotal.WithLabelValues("cache_hit").Inc()
		return &Result{PriceUSD: cached.price, Chain: cached.chain, SpecificChain: cached.sc}, nil
	}

	if rec, err := a.db.GetLatestPrice(key, specificChainHint); err == nil && rec != nil {
		if time.Since(rec.Timestamp) < a.cfg.PriceFreshness {
			a.writeCache(key, rec.PriceUSD, rec.Chain, rec.SpecificChain)
			metrics.PriceLookupsTotal.WithLabelValues("db_fresh").Inc()
			return &Result{PriceUSD: rec.PriceUSD, Chain: rec.Chain, SpecificChain: rec.SpecificChain}, nil
		}
	}

	// Coalesce concurrent lookups for the same key so N callers produce
	// at most one upstream fan-out.
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		return a.resolve(ctx, tokenAddress, key, chainHint, specificChainHint)
	})
	if err != nil || v == nil {
		metrics.PriceLookupsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	metrics.PriceLookupsTotal.WithLabelValues("resolved").Inc()
	return v.(*Result), nil
}

func (a *Aggregator) resolve(ctx context.Context, tokenAddress, key string, chainHint config.Chain, specificChainHint config.SpecificChain) (*Result, error) {
	chain := chainHint
	if chain == "" {
		chain = chainaddr.Classify(tokenAddress)
	}

	var providers []priceprovider.Provider
	var candidates []config.SpecificChain

	switch chain {
	case config.ChainSVM:
		providers = a.svm
		candidates = []config.SpecificChain{config.SpecificSVM}
	default:
		providers = a.evm
		candidates = a.evmCandidates(key, specificChainHint)
	}

	for _, sc := range candidates {
		for _, p := range providers {
			price, err := p.GetPrice(ctx, tokenAddress, chain, sc)
			if err != nil {
				log.Debug().Err(err).Str("provider", p.Name()).Str("token", tokenAddress).Msg("provider error, advancing")
				continue
			}
			if price == nil || price.PriceUSD <= 0 {
				continue
			}

			resolvedChain := price.Chain
			if resolvedChain == "" {
				resolvedChain = chain
			}
			resolvedSC := price.SpecificChain
			if resolvedSC == "" {
				resolvedSC = sc
			}

			if chain == config.ChainEVM {
				a.memoSet(key, resolvedSC)
			}
			a.writeCache(key, price.PriceUSD, resolvedChain, resolvedSC)
			if err := a.db.InsertPriceRecord(store.PriceRecord{
				Token: key, Chain: resolvedChain, SpecificChain: resolvedSC,
				PriceUSD: price.PriceUSD, Timestamp: time.Now(),
			}); err != nil {
				log.Warn().Err(err).Str("token", key).Msg("failed to persist price record")
			}
			return &Result{PriceUSD: price.PriceUSD, Chain: resolvedChain, SpecificChain: resolvedSC}, nil
		}
	}
	return nil, nil
}

// evmCandidates returns the specific-chain try order for an EVM token:
// only the explicit hint if one is given; otherwise the chain memo (if
// fresh) followed by the configured evmChains in order. The memoized chain is tried first
// even when it also appears in evmChains, and is not duplicated.
func (a *Aggregator) evmCandidates(key string, hint config.SpecificChain) []config.SpecificChain {
	if hint != "" {
		return []config.SpecificChain{hint}
	}

	out := make([]config.SpecificChain, 0, len(a.cfg.EVMChains)+1)
	seen := map[config.SpecificChain]bool{}

	if memoized, ok := a.memoGet(key); ok {
		out = append(out, memoized)
		seen[memoized] = true
	}
	for _, sc := range a.cfg.EVMChains {
		if !seen[sc] {
			out = append(out, sc)
			seen[sc] = true
		}
	}
	return out
}

func (a *Aggregator) memoGet(key string) (config.SpecificChain, bool) {
	a.memoMu.RLock()
	defer a.memoMu.RUnlock()
	e, ok := a.memo[key]
	if !ok || time.Since(e.recordedAt) >= a.cfg.ChainMemoTTL {
		return "", false
	}
	return e.specificChain, true
}

func (a *Aggregator) memoSet(key string, sc config.SpecificChain) {
	a.memoMu.Lock()
	defer a.memoMu.Unlock()
	a.memo[key] = memoEntry{specificChain: sc, recordedAt: time.Now()}
}

func (a *Aggregator) readCache(key string) (cacheEntry, bool) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	e, ok := a.cache[key]
	if !ok || time.Since(e.fetched) >= a.cfg.PriceCacheTTL {
		return cacheEntry{}, false
	}
	return e, true
}

func (a *Aggregator) writeCache(key string, price float64, chain config.Chain, sc config.SpecificChain) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.cache[key] = cacheEntry{price: price, chain: chain, sc: sc, fetched: time.Now()}
}

func normalizeKey(tokenAddress string, chainHint config.Chain) string {
	chain := chainHint
	if chain == "" {
		chain = chainaddr.Classify(tokenAddress)
	}
	if chain == config.ChainEVM {
		return chainaddr.Normalize(tokenAddress)
	}
	return tokenAddress
}
