// report is the read-only operator CLI: a leaderboard and per-team
// portfolio breakdown for whichever competition is ACTIVE, rendered
// straight from the same store and valuator the server uses.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonez/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/aggregator"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/portfolio"
	"github.com/recallnet/trading-simulator/internal/priceprovider"
	"github.com/recallnet/trading-simulator/internal/store"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	defer db.Close()

	svmProviders := []priceprovider.Provider{priceprovider.NewDexScreenerProvider(cfg.DexScreenerBaseURL, cfg.PriceCacheTTL)}
	evmProviders := []priceprovider.Provider{priceprovider.NewDexScreenerProvider(cfg.DexScreenerBaseURL, cfg.PriceCacheTTL)}
	agg := aggregator.New(cfg, db, svmProviders, evmProviders)
	val := portfolio.New(db, agg)

	comp, err := db.GetActiveCompetition()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load active competition")
	}
	if comp == nil {
		color.Yellow("no active competition")
		return
	}

	teams, err := db.GetEnrolledTeams(comp.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load enrolled teams")
	}

	type row struct {
		name  string
		value float64
	}
	rows := make([]row, 0, len(teams))
	ctx := context.Background()
	for _, t := range teams {
		v, err := val.Value(ctx, t.ID)
		if err != nil {
			log.Warn().Err(err).Int64("teamId", t.ID).Msg("failed to value team, skipping")
			continue
		}
		rows = append(rows, row{name: t.Name, value: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].value > rows[j].value })

	color.Cyan("competition: %s (%s)\n", comp.Name, comp.Status)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Rank", "Team", "Portfolio Value (USD)"})
	for i, r := range rows {
		table.Append([]string{strconv.Itoa(i + 1), r.name, fmt.Sprintf("%.2f", r.value)})
	}
	table.Render()
}
