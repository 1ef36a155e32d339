// Package metrics holds the process-wide Prometheus collectors. Every
// other package takes these as already-registered globals rather than
// constructing its own registry, the same way the rest of this module
// shares a single zerolog logger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_simulator_trades_total",
		Help: "Trades executed, by outcome.",
	}, []string{"outcome"})

	TradeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_simulator_trade_failures_total",
		Help: "Trade execution failures, by error kind.",
	}, []string{"kind"})

	PriceLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_simulator_price_lookups_total",
		Help: "Aggregator price lookups, by result.",
	}, []string{"result"})

	SnapshotTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_simulator_snapshot_ticks_total",
		Help: "Snapshot scheduler ticks, by outcome.",
	}, []string{"outcome"})
)
