package priceprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/config"
)

// dexScreenerChainIDs translates our specific-chain enum to DexScreener's
// own chain identifiers.
var dexScreenerChainIDs = map[config.SpecificChain]string{
	config.SpecificEth:       "ethereum",
	config.SpecificPolygon:   "polygon",
	config.SpecificBSC:       "bsc",
	config.SpecificArbitrum:  "arbitrum",
	config.SpecificOptimism:  "optimism",
	config.SpecificAvalanche: "avalanche",
	config.SpecificBase:      "base",
	config.SpecificLinea:     "linea",
	config.SpecificZkSync:    "zksync",
	config.SpecificScroll:    "scroll",
	config.SpecificMantle:    "mantle",
	config.SpecificSVM:       "solana",
}

// DexScreenerProvider implements the uniform Provider contract against
// DexScreener: it accepts both SVM and EVM addresses but requires a
// specificChain, which it translates to DexScreener's own chain
// identifier.
type DexScreenerProvider struct {
	baseURL string
	client  *http.Client
	limiter *rateLimiter
	cache   *providerCache
}

func NewDexScreenerProvider(baseURL string, cacheTTL time.Duration) *DexScreenerProvider {
	return &DexScreenerProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 8 * time.Second},
		limiter: newRateLimiter(minRequestInterval),
		cache:   newProviderCache(cacheTTL),
	}
}

func (p *DexScreenerProvider) Name() string { return "dexscreener" }

func (p *DexScreenerProvider) Supports(ctx context.Context, tokenAddress string, specificChain config.SpecificChain) bool {
	if specificChain == "" {
		return false
	}
	price, err := p.GetPrice(ctx, tokenAddress, "", specificChain)
	return err == nil && price != nil
}

type dexScreenerPair struct {
	PriceUSD string `json:"priceUsd"`
}

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

func (p *DexScreenerProvider) GetPrice(ctx context.Context, tokenAddress string, chain config.Chain, specificChain config.SpecificChain) (*Price, error) {
	chainID, ok := dexScreenerChainIDs[specificChain]
	if !ok {
		return nil, nil
	}

	if cached, ok := p.cache.get(specificChain, tokenAddress); ok {
		return &cached, nil
	}

	url := fmt.Sprintf("%s/%s/%s", p.baseURL, chainID, tokenAddress)

	var result dexScreenerResponse
	err := retryWithBackoff(ctx, retryAttempts, retryStep, func() error {
		body, fetchErr := p.fetch(ctx, url)
		if fetchErr != nil {
			return fetchErr
		}
		if unmarshalErr := json.Unmarshal(body, &result); unmarshalErr != nil {
			// Malformed payload is treated as "no price", not an error worth retrying.
			result = dexScreenerResponse{}
			return nil
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("provider", p.Name()).Str("token", tokenAddress).Msg("price lookup failed")
		return nil, nil
	}

	for _, pair := range result.Pairs {
		price, parseErr := strconv.ParseFloat(pair.PriceUSD, 64)
		if parseErr == nil && price > 0 {
			out := Price{PriceUSD: price, Timestamp: time.Now(), Chain: chain, SpecificChain: specificChain}
			if chain == "" {
				if specificChain == config.SpecificSVM {
					out.Chain = config.ChainSVM
				} else {
					out.Chain = config.ChainEVM
				}
			}
			p.cache.set(specificChain, tokenAddress, out)
			return &out, nil
		}
	}
	return nil, nil
}

func (p *DexScreenerProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}
