package priceprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/config"
)

// SolanaProvider only serves SVM addresses, rejecting anything that does
// not even decode as a base58 Solana public key before issuing any
// upstream request.
type SolanaProvider struct {
	apiBaseURL string
	apiKey     string
	client     *http.Client
	limiter    *rateLimiter
	cache      *providerCache
}

func NewSolanaProvider(apiBaseURL, apiKey string, cacheTTL time.Duration) *SolanaProvider {
	return &SolanaProvider{
		apiBaseURL: apiBaseURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 8 * time.Second},
		limiter:    newRateLimiter(minRequestInterval),
		cache:      newProviderCache(cacheTTL),
	}
}

func (p *SolanaProvider) Name() string { return "solana-native" }

func (p *SolanaProvider) Supports(ctx context.Context, tokenAddress string, specificChain config.SpecificChain) bool {
	if specificChain != "" && specificChain != config.SpecificSVM {
		return false
	}
	if _, err := solana.PublicKeyFromBase58(tokenAddress); err != nil {
		return false
	}
	price, err := p.GetPrice(ctx, tokenAddress, config.ChainSVM, config.SpecificSVM)
	return err == nil && price != nil
}

func (p *SolanaProvider) GetPrice(ctx context.Context, tokenAddress string, chain config.Chain, specificChain config.SpecificChain) (*Price, error) {
	if chain != "" && chain != config.ChainSVM {
		return nil, nil
	}
	if specificChain != "" && specificChain != config.SpecificSVM {
		return nil, nil
	}
	if _, err := solana.PublicKeyFromBase58(tokenAddress); err != nil {
		// Not even a syntactically valid Solana address — no price, no
		// network call.
		return nil, nil
	}

	if cached, ok := p.cache.get(config.SpecificSVM, tokenAddress); ok {
		return &cached, nil
	}

	url := fmt.Sprintf("%s/price?ids=%s", p.apiBaseURL, tokenAddress)

	var result struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	err := retryWithBackoff(ctx, retryAttempts, retryStep, func() error {
		body, fetchErr := p.fetch(ctx, url)
		if fetchErr != nil {
			return fetchErr
		}
		if unmarshalErr := json.Unmarshal(body, &result); unmarshalErr != nil {
			result.Data = nil
			return nil
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("provider", p.Name()).Str("token", tokenAddress).Msg("price lookup failed")
		return nil, nil
	}

	entry, ok := result.Data[tokenAddress]
	if !ok || entry.Price <= 0 {
		return nil, nil
	}

	out := Price{PriceUSD: entry.Price, Timestamp: time.Now(), Chain: config.ChainSVM, SpecificChain: config.SpecificSVM}
	p.cache.set(config.SpecificSVM, tokenAddress, out)
	return &out, nil
}

func (p *SolanaProvider) fetch(ctx context.Context, url string) ([]byte, error) {
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

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}
