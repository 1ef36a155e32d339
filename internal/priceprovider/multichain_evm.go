package priceprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/chainaddr"
	"github.com/recallnet/trading-simulator/internal/config"
)

// MultiChainEVMProvider queries a multi-chain EVM price upstream and adds
// its own EVM chain discovery: given no specificChain hint it tries each of
// evmChains in order itself, instead of requiring the aggregator to
// supply one. Its upstream responds per-chain with {price:{amount},
// priceStatus}; a priceStatus of "inProgress" is treated as absence,
// retried within the provider's own budget, then advanced past.
type MultiChainEVMProvider struct {
	baseURL   string
	apiKey    string
	evmChains []config.SpecificChain
	client    *http.Client
	limiter   *rateLimiter
	cache     *providerCache
}

func NewMultiChainEVMProvider(baseURL, apiKey string, evmChains []config.SpecificChain, cacheTTL time.Duration) *MultiChainEVMProvider {
	return &MultiChainEVMProvider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		evmChains: evmChains,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   newRateLimiter(minRequestInterval),
		cache:     newProviderCache(cacheTTL),
	}
}

func (p *MultiChainEVMProvider) Name() string { return "multichain-evm" }

func (p *MultiChainEVMProvider) Supports(ctx context.Context, tokenAddress string, specificChain config.SpecificChain) bool {
	if !common.IsHexAddress(tokenAddress) {
		return false
	}
	price, err := p.GetPrice(ctx, tokenAddress, config.ChainEVM, specificChain)
	return err == nil && price != nil
}

type multiChainPriceResponse struct {
	Price struct {
		Amount float64 `json:"amount"`
	} `json:"price"`
	PriceStatus string `json:"priceStatus"`
}

func (p *MultiChainEVMProvider) GetPrice(ctx context.Context, tokenAddress string, chain config.Chain, specificChain config.SpecificChain) (*Price, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, nil
	}
	token := chainaddr.Normalize(tokenAddress)

	candidates := p.evmChains
	if specificChain != "" {
		candidates = []config.SpecificChain{specificChain}
	}

	for _, sc := range candidates {
		if cached, ok := p.cache.get(sc, token); ok {
			return &cached, nil
		}

		price, err := p.fetchOneChain(ctx, token, sc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if price != nil {
			p.cache.set(sc, token, *price)
			return price, nil
		}
	}
	return nil, nil
}

func (p *MultiChainEVMProvider) fetchOneChain(ctx context.Context, token string, sc config.SpecificChain) (*Price, error) {
	url := fmt.Sprintf("%s/chains/%s/tokens/%s/price", p.baseURL, sc, token)

	var result multiChainPriceResponse
	err := retryWithBackoff(ctx, retryAttempts, retryStep, func() error {
		body, fetchErr := p.fetch(ctx, url)
		if fetchErr != nil {
			return fetchErr
		}
		if unmarshalErr := json.Unmarshal(body, &result); unmarshalErr != nil {
			result = multiChainPriceResponse{}
			return nil
		}
		if result.PriceStatus == "inProgress" {
			return &httpStatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("provider", p.Name()).Str("chain", string(sc)).Str("token", token).Msg("price lookup failed")
		return nil, nil
	}
	if result.PriceStatus == "inProgress" || result.Price.Amount <= 0 {
		return nil, nil
	}
	return &Price{PriceUSD: result.Price.Amount, Timestamp: time.Now(), Chain: config.ChainEVM, SpecificChain: sc}, nil
}

func (p *MultiChainEVMProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
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
