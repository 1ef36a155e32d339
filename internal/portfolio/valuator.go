// Package portfolio values a team's holdings: the sum, over every
// balance row it holds, of amount times the aggregator's current USD
// price for that token. A token the aggregator cannot price contributes
// zero rather than failing the whole valuation.
package portfolio

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/aggregator"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/store"
)

type Valuator struct {
	db  *store.Store
	agg *aggregator.Aggregator
}

func New(db *store.Store, agg *aggregator.Aggregator) *Valuator {
	return &Valuator{db: db, agg: agg}
}

// Value sums amount*priceUSD across every balance the team holds.
func (v *Valuator) Value(ctx context.Context, teamID int64) (float64, error) {
	balances, err := v.db.GetBalances(teamID)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, b := range balances {
		if b.Amount == 0 {
			continue
		}
		price, err := v.agg.GetPrice(ctx, b.TokenAddress, "", b.SpecificChain)
		if err != nil {
			log.Warn().Err(err).Str("token", b.TokenAddress).Msg("price lookup failed during valuation")
			continue
		}
		if price == nil {
			log.Debug().Str("token", b.TokenAddress).Msg("no price available, contributing zero to portfolio value")
			continue
		}
		total += b.Amount * price.PriceUSD
	}
	return total, nil
}

// Breakdown is the per-token detail behind a Value call, used by the
// account/portfolio endpoint and the snapshotter.
type Breakdown struct {
	TokenAddress  string
	Amount        float64
	PriceUSD      float64
	ValueUSD      float64
	SpecificChain config.SpecificChain
}

// ValueWithBreakdown is Value plus the per-token contributions, used
// where callers need to show or persist the detail (account endpoint,
// snapshotter).
func (v *Valuator) ValueWithBreakdown(ctx context.Context, teamID int64) (float64, []Breakdown, error) {
	balances, err := v.db.GetBalances(teamID)
	if err != nil {
		return 0, nil, err
	}

	var total float64
	breakdown := make([]Breakdown, 0, len(balances))
	for _, b := range balances {
		var priceUSD float64
		if b.Amount != 0 {
			price, err := v.agg.GetPrice(ctx, b.TokenAddress, "", b.SpecificChain)
			if err != nil {
				log.Warn().Err(err).Str("token", b.TokenAddress).Msg("price lookup failed during valuation")
			} else if price != nil {
				priceUSD = price.PriceUSD
			}
		}
		valueUSD := b.Amount * priceUSD
		total += valueUSD
		breakdown = append(breakdown, Breakdown{
			TokenAddress: b.TokenAddress, Amount: b.Amount, PriceUSD: priceUSD,
			ValueUSD: valueUSD, SpecificChain: b.SpecificChain,
		})
	}
	return total, breakdown, nil
}
