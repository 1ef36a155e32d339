// Package trade validates a proposed swap, prices it with a
// size-dependent randomized slippage model, and atomically mutates two
// balances while persisting a trade record. Quote shares the same
// pricing/slippage math without mutating state.
package trade

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/aggregator"
	"github.com/recallnet/trading-simulator/internal/chainaddr"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/metrics"
	"github.com/recallnet/trading-simulator/internal/portfolio"
	"github.com/recallnet/trading-simulator/internal/store"
)

const recentTradesWindow = 100

// ChainOptions lets a caller override the chain/specific-chain the
// engine would otherwise derive from the classifier.
type ChainOptions struct {
	FromChain         config.Chain
	ToChain           config.Chain
	FromSpecificChain config.SpecificChain
	ToSpecificChain   config.SpecificChain
}

// ExecuteParams is the input to ExecuteTrade.
type ExecuteParams struct {
	TeamID                  int64
	CompetitionID           int64
	FromToken               string
	ToToken                 string
	FromAmount              float64
	Reason                  string
	SlippageToleranceCap    *float64 // advisory: trade fails if actual slippage exceeds this
	ChainOptions            ChainOptions
}

// QuoteParams is the input to Quote; it mirrors ExecuteParams minus the
// fields only meaningful at execution time (reason, slippage cap).
type QuoteParams struct {
	TeamID        int64
	FromToken     string
	ToToken       string
	FromAmount    float64
	ChainOptions  ChainOptions
}

// QuoteResult is the read-only outcome of the Quote operation.
type QuoteResult struct {
	FromToken     string
	ToToken       string
	FromAmount    float64
	ToAmount      float64
	ExchangeRate  float64
	Slippage      float64
	FromPriceUSD  float64
	ToPriceUSD    float64
	FromChain     config.Chain
	ToChain       config.Chain
}

type Engine struct {
	cfg       *config.Config
	db        *store.Store
	agg       *aggregator.Aggregator
	valuator  *portfolio.Valuator

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	recentMu     sync.Mutex
	recentTrades map[int64][]store.Trade
}

func New(cfg *config.Config, db *store.Store, agg *aggregator.Aggregator, valuator *portfolio.Valuator) *Engine {
	return &Engine{
		cfg:          cfg,
		db:           db,
		agg:          agg,
		valuator:     valuator,
		locks:        map[int64]*sync.Mutex{},
		recentTrades: map[int64][]store.Trade{},
	}
}

func (e *Engine) teamLock(teamID int64) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[teamID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[teamID] = m
	}
	return m
}

// resolvedChains applies explicit overrides or falls back to the
// classifier, per precondition 4.
func resolvedChains(fromToken, toToken string, opts ChainOptions) (fromChain, toChain config.Chain) {
	fromChain, toChain = opts.FromChain, opts.ToChain
	if fromChain == "" {
		fromChain = chainaddr.Classify(fromToken)
	}
	if toChain == "" {
		toChain = chainaddr.Classify(toToken)
	}
	return
}

func crossChainViolation(cfg *config.Config, fromChain, toChain config.Chain, fromSC, toSC config.SpecificChain) bool {
	if cfg.AllowCrossChainTrading {
		return false
	}
	if fromChain != toChain {
		return true
	}
	if fromSC != "" && toSC != "" && fromSC != toSC {
		return true
	}
	return false
}

// priceBoth resolves both legs' USD prices via the aggregator.
func (e *Engine) priceBoth(ctx context.Context, fromToken, toToken string, fromChain, toChain config.Chain, fromSC, toSC config.SpecificChain) (*aggregator.Result, *aggregator.Result, error) {
	fromPrice, err := e.agg.GetPrice(ctx, fromToken, fromChain, fromSC)
	if err != nil {
		return nil, nil, err
	}
	toPrice, err := e.agg.GetPrice(ctx, toToken, toChain, toSC)
	if err != nil {
		return nil, nil, err
	}
	return fromPrice, toPrice, nil
}

// slippageAdjusted applies the size-dependent randomized slippage
// model: base = (fromValueUsd / 1e4) * 5bp, scaled by a uniform random
// factor in [0.9, 1.1].
func slippageAdjusted(fromValueUsd, toPriceUsd float64) (toAmount, slippageActual float64) {
	base := (fromValueUsd / 1e4) * 0.0005
	factor := 0.9 + rand.Float64()*0.2
	slippageActual = base * factor
	effective := fromValueUsd * (1 - slippageActual)
	toAmount = effective / toPriceUsd
	return
}

// Quote runs preconditions 1-2 and 4-7 and returns pricing, never
// mutating balances.
func (e *Engine) Quote(ctx context.Context, p QuoteParams) (*QuoteResult, error) {
	if p.FromAmount < e.cfg.MinTradeFromAmount {
		return nil, newError(KindValidation, fmt.Sprintf("amount must be at least %g", e.cfg.MinTradeFromAmount))
	}
	if p.FromToken == p.ToToken {
		return nil, newError(KindValidation, "fromToken and toToken must differ")
	}

	fromChain, toChain := resolvedChains(p.FromToken, p.ToToken, p.ChainOptions)
	fromSC, toSC := p.ChainOptions.FromSpecificChain, p.ChainOptions.ToSpecificChain
	if crossChainViolation(e.cfg, fromChain, toChain, fromSC, toSC) {
		return nil, newError(KindCrossChainDisallow, "cross-chain trading is disabled for this trade's chains")
	}

	fromPrice, toPrice, err := e.priceBoth(ctx, p.FromToken, p.ToToken, fromChain, toChain, fromSC, toSC)
	if err != nil {
		return nil, newError(KindDatabaseError, "price lookup failed")
	}
	if fromPrice == nil || toPrice == nil {
		return nil, newError(KindNoPrice, "Unable to determine price")
	}

	fromValueUsd := p.FromAmount * fromPrice.PriceUSD
	portfolioUsd, err := e.valuator.Value(ctx, p.TeamID)
	if err != nil {
		return nil, newError(KindDatabaseError, "portfolio valuation failed")
	}
	if fromValueUsd > e.cfg.MaxPortfolioFraction*portfolioUsd {
		return nil, newError(KindExceedsMaxSize, "trade exceeds maximum size for this portfolio")
	}

	toAmount, slippageActual := slippageAdjusted(fromValueUsd, toPrice.PriceUSD)

	return &QuoteResult{
		FromToken: p.FromToken, ToToken: p.ToToken, FromAmount: p.FromAmount, ToAmount: toAmount,
		ExchangeRate: toAmount / p.FromAmount, Slippage: slippageActual,
		FromPriceUSD: fromPrice.PriceUSD, ToPriceUSD: toPrice.PriceUSD,
		FromChain: fromChain, ToChain: toChain,
	}, nil
}

// ExecuteTrade runs preconditions 1-7 in order, first failure wins with
// no side effects, then applies slippage and performs the atomic
// balance mutation and trade persistence under the team's mutex.
func (e *Engine) ExecuteTrade(ctx context.Context, p ExecuteParams) (*store.Trade, error) {
	if p.FromAmount < e.cfg.MinTradeFromAmount {
		return e.fail(KindValidation, fmt.Sprintf("amount must be at least %g", e.cfg.MinTradeFromAmount))
	}
	if p.FromToken == p.ToToken {
		return e.fail(KindValidation, "fromToken and toToken must differ")
	}
	if p.Reason == "" {
		return e.fail(KindValidation, "reason is required")
	}

	lock := e.teamLock(p.TeamID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := e.db.GetBalance(p.TeamID, p.FromToken)
	if err != nil {
		return e.fail(KindDatabaseError, "failed to read balance")
	}
	if balance < p.FromAmount {
		return e.fail(KindInsufficientBalance, "insufficient balance for trade")
	}

	fromChain, toChain := resolvedChains(p.FromToken, p.ToToken, p.ChainOptions)
	fromSC, toSC := p.ChainOptions.FromSpecificChain, p.ChainOptions.ToSpecificChain
	if crossChainViolation(e.cfg, fromChain, toChain, fromSC, toSC) {
		return e.fail(KindCrossChainDisallow, "cross-chain trading is disabled for this trade's chains")
	}

	fromPrice, toPrice, err := e.priceBoth(ctx, p.FromToken, p.ToToken, fromChain, toChain, fromSC, toSC)
	if err != nil {
		return e.fail(KindDatabaseError, "price lookup failed")
	}
	if fromPrice == nil || toPrice == nil {
		return e.fail(KindNoPrice, "Unable to determine price")
	}
	if fromSC == "" {
		fromSC = fromPrice.SpecificChain
	}
	if toSC == "" {
		toSC = toPrice.SpecificChain
	}

	fromValueUsd := p.FromAmount * fromPrice.PriceUSD
	portfolioUsd, err := e.valuator.Value(ctx, p.TeamID)
	if err != nil {
		return e.fail(KindDatabaseError, "portfolio valuation failed")
	}
	if fromValueUsd > e.cfg.MaxPortfolioFraction*portfolioUsd {
		return e.fail(KindExceedsMaxSize, "trade exceeds maximum size for this portfolio")
	}

	toAmount, slippageActual := slippageAdjusted(fromValueUsd, toPrice.PriceUSD)
	if p.SlippageToleranceCap != nil && slippageActual > *p.SlippageToleranceCap {
		return e.fail(KindValidation, "slippage tolerance exceeded")
	}

	trade := store.Trade{
		TeamID: p.TeamID, CompetitionID: p.CompetitionID,
		FromToken: p.FromToken, ToToken: p.ToToken,
		FromAmount: p.FromAmount, ToAmount: toAmount,
		Price:   toAmount / p.FromAmount,
		Success: true, Reason: p.Reason,
		FromChain: fromChain, ToChain: toChain,
		FromSpecificChain: fromSC, ToSpecificChain: toSC,
		Timestamp: time.Now().UTC(),
	}

	err = e.db.WithTx(func(tx *sql.Tx) error {
		if err := e.db.AdjustBalanceTx(tx, p.TeamID, p.FromToken, -p.FromAmount, fromSC); err != nil {
			return err
		}
		if err := e.db.AdjustBalanceTx(tx, p.TeamID, p.ToToken, toAmount, toSC); err != nil {
			return err
		}
		id, err := e.db.InsertTradeTx(tx, trade)
		if err != nil {
			return err
		}
		trade.ID = id
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("teamId", p.TeamID).Msg("trade transaction failed, rolled back")
		return e.fail(KindDatabaseError, "trade could not be completed")
	}

	metrics.TradesTotal.WithLabelValues("success").Inc()
	e.rememberTrade(trade)
	return &trade, nil
}

// fail records the failure metric and returns the structured error.
func (e *Engine) fail(kind Kind, message string) (*store.Trade, error) {
	metrics.TradesTotal.WithLabelValues("failure").Inc()
	metrics.TradeFailuresTotal.WithLabelValues(string(kind)).Inc()
	return nil, newError(kind, message)
}

func (e *Engine) rememberTrade(t store.Trade) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	list := append([]store.Trade{t}, e.recentTrades[t.TeamID]...)
	if len(list) > recentTradesWindow {
		list = list[:recentTradesWindow]
	}
	e.recentTrades[t.TeamID] = list
}

// RecentTrades returns the in-memory bounded trade cache for a team,
// most recent first.
func (e *Engine) RecentTrades(teamID int64) []store.Trade {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	out := make([]store.Trade, len(e.recentTrades[teamID]))
	copy(out, e.recentTrades[teamID])
	return out
}
