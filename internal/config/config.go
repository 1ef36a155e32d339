// Package config loads the process-wide, immutable-after-boot
// configuration for the trading simulator: EVM chain order, seeded
// balances, known token addresses per chain, cache TTLs, and the
// per-provider API keys that decide which price providers are live.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Chain is the general, coarse classification of a token address.
type Chain string

const (
	ChainSVM Chain = "SVM"
	ChainEVM Chain = "EVM"
)

// SpecificChain is the fine-grained identity of a network. EVM tokens
// resolve to one of the named chains empirically; every SVM token's
// specific chain is SpecificSVM.
type SpecificChain string

const (
	SpecificEth       SpecificChain = "eth"
	SpecificPolygon   SpecificChain = "polygon"
	SpecificBSC       SpecificChain = "bsc"
	SpecificArbitrum  SpecificChain = "arbitrum"
	SpecificOptimism  SpecificChain = "optimism"
	SpecificAvalanche SpecificChain = "avalanche"
	SpecificBase      SpecificChain = "base"
	SpecificLinea     SpecificChain = "linea"
	SpecificZkSync    SpecificChain = "zksync"
	SpecificScroll    SpecificChain = "scroll"
	SpecificMantle    SpecificChain = "mantle"
	SpecificSVM       SpecificChain = "svm"
)

// DefaultEVMChains is the order in which the aggregator tries specific
// EVM chains when it has no memoized or hinted chain for a token.
func DefaultEVMChains() []SpecificChain {
	return []SpecificChain{
		SpecificEth, SpecificPolygon, SpecificBSC, SpecificArbitrum,
		SpecificOptimism, SpecificAvalanche, SpecificBase, SpecificLinea,
		SpecificZkSync, SpecificScroll, SpecificMantle,
	}
}

// Config is initialized once at startup and never mutated afterward.
type Config struct {
	EVMChains []SpecificChain

	// InitialBalances[specificChain][symbol] = amount, seeded on team registration.
	InitialBalances map[SpecificChain]map[string]float64
	// SpecificChainTokens[specificChain][symbol] = tokenAddress, used both
	// to seed balances and to classify a known token without a network call.
	SpecificChainTokens map[SpecificChain]map[string]string

	PriceCacheTTL time.Duration
	ChainMemoTTL  time.Duration

	SnapshotInterval time.Duration
	PriceFreshness   time.Duration

	AllowCrossChainTrading bool
	MaxPortfolioFraction   float64
	MinTradeFromAmount     float64

	// Provider API keys. A provider whose key is empty is absent from
	// the aggregator's provider list.
	DexScreenerBaseURL string
	HeliusAPIKey       string
	AlchemyAPIKey      string
	MultiChainBaseURL  string

	DBPath        string
	HTTPAddr      string
	MetricsAddr   string
	SchedulerTest bool // stop scheduler on first tick error, for tests
}

// tokensFile is the optional YAML overlay shape for the two nested maps
// that are impractical to express as flat env vars.
type tokensFile struct {
	InitialBalances     map[string]map[string]float64 `yaml:"initialBalances"`
	SpecificChainTokens map[string]map[string]string  `yaml:"specificChainTokens"`
}

// Load reads configuration from the environment (via .env if present)
// and, when TOKENS_CONFIG_FILE is set, overlays the nested token/balance
// maps from a YAML file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		EVMChains: DefaultEVMChains(),

		PriceCacheTTL: time.Duration(envInt("PRICE_CACHE_TTL_SECONDS", 30)) * time.Second,
		ChainMemoTTL:  time.Duration(envInt("CHAIN_MEMO_TTL_SECONDS", 3600)) * time.Second,

		SnapshotInterval: time.Duration(envInt("SNAPSHOT_INTERVAL_MS", 120000)) * time.Millisecond,
		PriceFreshness:   time.Duration(envInt("PRICE_FRESHNESS_MS", 600000)) * time.Millisecond,

		AllowCrossChainTrading: envOr("ALLOW_CROSS_CHAIN_TRADING", "false") == "true",
		MaxPortfolioFraction:   envFloat("MAX_PORTFOLIO_FRACTION", 0.25),
		MinTradeFromAmount:     envFloat("MIN_TRADE_FROM_AMOUNT", 1e-6),

		DexScreenerBaseURL: envOr("DEXSCREENER_API", "https://api.dexscreener.com"),
		HeliusAPIKey:       os.Getenv("HELIUS_API_KEY"),
		AlchemyAPIKey:      os.Getenv("ALCHEMY_API_KEY"),
		MultiChainBaseURL:  envOr("MULTICHAIN_API_URL", "https://api.g.alchemy.com/prices/v1/tokens"),

		DBPath:      envOr("DB_PATH", "trading_simulator.db"),
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
	}

	cfg.InitialBalances = defaultInitialBalances()
	cfg.SpecificChainTokens = defaultSpecificChainTokens()

	if path := os.Getenv("TOKENS_CONFIG_FILE"); path != "" {
		if err := overlayTokensFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load tokens config: %w", err)
		}
	}

	return cfg, nil
}

func overlayTokensFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var tf tokensFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	for chain, symbols := range tf.InitialBalances {
		sc := SpecificChain(chain)
		if cfg.InitialBalances[sc] == nil {
			cfg.InitialBalances[sc] = map[string]float64{}
		}
		for sym, amt := range symbols {
			cfg.InitialBalances[sc][sym] = amt
		}
	}
	for chain, symbols := range tf.SpecificChainTokens {
		sc := SpecificChain(chain)
		if cfg.SpecificChainTokens[sc] == nil {
			cfg.SpecificChainTokens[sc] = map[string]string{}
		}
		for sym, addr := range symbols {
			// base58 (SVM) addresses are case-sensitive; only EVM ones are lowercased.
			if sc != SpecificSVM {
				addr = strings.ToLower(addr)
			}
			cfg.SpecificChainTokens[sc][sym] = addr
		}
	}
	return nil
}

// defaultSpecificChainTokens seeds a small well-known set so the server
// runs out of the box without a tokens.yaml overlay.
func defaultSpecificChainTokens() map[SpecificChain]map[string]string {
	return map[SpecificChain]map[string]string{
		SpecificBase: {
			"USDC":  "0xd9aaec86b65d86f6a7b5b1b0c42ffa531710b6ca",
			"DEGEN": "0x3992b27da26848c2b19cea6fd25ad5568b68ab98",
		},
		SpecificEth: {
			"USDC": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			"WETH": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		},
		SpecificSVM: {
			"SOL":  "So11111111111111111111111111111111111111112",
			"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		},
	}
}

func defaultInitialBalances() map[SpecificChain]map[string]float64 {
	return map[SpecificChain]map[string]float64{
		SpecificBase: {"USDC": 5000},
		SpecificSVM:  {"SOL": 10, "USDC": 1000},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
