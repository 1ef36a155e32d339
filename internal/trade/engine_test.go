package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recallnet/trading-simulator/internal/aggregator"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/portfolio"
	"github.com/recallnet/trading-simulator/internal/priceprovider"
	"github.com/recallnet/trading-simulator/internal/store"
)

const (
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	sol  = "So11111111111111111111111111111111111111112"
)

type fixedProvider struct {
	prices map[string]float64
}

func (f *fixedProvider) Name() string { return "fixed" }

func (f *fixedProvider) GetPrice(ctx context.Context, tokenAddress string, chain config.Chain, specificChain config.SpecificChain) (*priceprovider.Price, error) {
	p, ok := f.prices[tokenAddress]
	if !ok {
		return nil, nil
	}
	return &priceprovider.Price{PriceUSD: p, Timestamp: time.Now(), Chain: chain, SpecificChain: config.SpecificSVM}, nil
}

func (f *fixedProvider) Supports(ctx context.Context, tokenAddress string, specificChain config.SpecificChain) bool {
	return true
}

func testCfg() *config.Config {
	return &config.Config{
		EVMChains:              config.DefaultEVMChains(),
		PriceCacheTTL:          time.Minute,
		ChainMemoTTL:           time.Hour,
		PriceFreshness:         time.Minute,
		AllowCrossChainTrading: false,
		MaxPortfolioFraction:   0.25,
		MinTradeFromAmount:     1e-6,
	}
}

func newHarness(t *testing.T, cfg *config.Config, prices map[string]float64) (*Engine, *store.Store, int64) {
	t.Helper()
	db, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	team, err := db.CreateTeam("team-a")
	require.NoError(t, err)

	agg := aggregator.New(cfg, db, []priceprovider.Provider{&fixedProvider{prices: prices}}, nil)
	val := portfolio.New(db, agg)
	eng := New(cfg, db, agg, val)
	return eng, db, team.ID
}

func TestExecuteTrade_RejectsBelowMinimum(t *testing.T) {
	cfg := testCfg()
	eng, _, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, sol: 150.0})

	_, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 0, Reason: "test",
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindValidation))
}

func TestExecuteTrade_RejectsSameToken(t *testing.T) {
	cfg := testCfg()
	eng, _, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0})

	_, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: usdc, FromAmount: 1, Reason: "test",
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindValidation))
}

func TestExecuteTrade_RejectsInsufficientBalance(t *testing.T) {
	cfg := testCfg()
	eng, _, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, sol: 150.0})

	_, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 100, Reason: "test",
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindInsufficientBalance))
}

func TestExecuteTrade_RejectsNoPrice(t *testing.T) {
	cfg := testCfg()
	eng, db, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0})
	require.NoError(t, db.SetBalance(teamID, usdc, 1000, config.SpecificSVM))

	_, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 10, Reason: "test",
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindNoPrice))
}

func TestExecuteTrade_RejectsCrossChainWhenDisallowed(t *testing.T) {
	cfg := testCfg()
	cfg.AllowCrossChainTrading = false
	eng, db, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, "0x3992B27dA26848C2b19CeA6Fd25ad5568B68AB98": 1.0})
	require.NoError(t, db.SetBalance(teamID, usdc, 1000, config.SpecificSVM))

	_, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: "0x3992B27dA26848C2b19CeA6Fd25ad5568B68AB98", FromAmount: 10, Reason: "test",
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindCrossChainDisallow))
}

func TestExecuteTrade_SucceedsAndMutatesBalancesAtomically(t *testing.T) {
	cfg := testCfg()
	cfg.AllowCrossChainTrading = true
	eng, db, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, sol: 150.0})
	require.NoError(t, db.SetBalance(teamID, usdc, 1000, config.SpecificSVM))

	trade, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 10, Reason: "rebalance",
	})
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.True(t, trade.Success)
	require.Greater(t, trade.ToAmount, 0.0)

	fromBal, err := db.GetBalance(teamID, usdc)
	require.NoError(t, err)
	require.InDelta(t, 990, fromBal, 1e-9)

	toBal, err := db.GetBalance(teamID, sol)
	require.NoError(t, err)
	require.InDelta(t, trade.ToAmount, toBal, 1e-9)
}

func TestExecuteTrade_RejectsExceedingPortfolioFraction(t *testing.T) {
	cfg := testCfg()
	cfg.AllowCrossChainTrading = true
	cfg.MaxPortfolioFraction = 0.01
	eng, db, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, sol: 150.0})
	require.NoError(t, db.SetBalance(teamID, usdc, 1000, config.SpecificSVM))

	_, err := eng.ExecuteTrade(context.Background(), ExecuteParams{
		TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 500, Reason: "too big",
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindExceedsMaxSize))
}

func TestExecuteTrade_ConcurrentTradesNeverGoNegative(t *testing.T) {
	cfg := testCfg()
	cfg.AllowCrossChainTrading = true
	cfg.MaxPortfolioFraction = 1.0
	eng, db, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, sol: 150.0})
	require.NoError(t, db.SetBalance(teamID, usdc, 100, config.SpecificSVM))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.ExecuteTrade(context.Background(), ExecuteParams{
				TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 10, Reason: "concurrent",
			})
		}()
	}
	wg.Wait()

	bal, err := db.GetBalance(teamID, usdc)
	require.NoError(t, err)
	require.GreaterOrEqual(t, bal, 0.0)
}

func TestQuote_DoesNotMutateBalances(t *testing.T) {
	cfg := testCfg()
	cfg.AllowCrossChainTrading = true
	eng, db, teamID := newHarness(t, cfg, map[string]float64{usdc: 1.0, sol: 150.0})
	require.NoError(t, db.SetBalance(teamID, usdc, 1000, config.SpecificSVM))

	q, err := eng.Quote(context.Background(), QuoteParams{
		TeamID: teamID, FromToken: usdc, ToToken: sol, FromAmount: 10,
	})
	require.NoError(t, err)
	require.Greater(t, q.ToAmount, 0.0)

	bal, err := db.GetBalance(teamID, usdc)
	require.NoError(t, err)
	require.InDelta(t, 1000, bal, 1e-9)
}
