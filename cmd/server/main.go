package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/aggregator"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/httpapi"
	"github.com/recallnet/trading-simulator/internal/portfolio"
	"github.com/recallnet/trading-simulator/internal/priceprovider"
	"github.com/recallnet/trading-simulator/internal/snapshot"
	"github.com/recallnet/trading-simulator/internal/store"
	"github.com/recallnet/trading-simulator/internal/team"
	"github.com/recallnet/trading-simulator/internal/trade"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	log.Info().Msg("trading simulator starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer db.Close()

	var svmProviders, evmProviders []priceprovider.Provider
	if cfg.HeliusAPIKey != "" {
		svmProviders = append(svmProviders, priceprovider.NewSolanaProvider(cfg.DexScreenerBaseURL, cfg.HeliusAPIKey, cfg.PriceCacheTTL))
	}
	svmProviders = append(svmProviders, priceprovider.NewDexScreenerProvider(cfg.DexScreenerBaseURL, cfg.PriceCacheTTL))
	if cfg.AlchemyAPIKey != "" {
		evmProviders = append(evmProviders, priceprovider.NewMultiChainEVMProvider(cfg.MultiChainBaseURL, cfg.AlchemyAPIKey, cfg.EVMChains, cfg.PriceCacheTTL))
	}
	evmProviders = append(evmProviders, priceprovider.NewDexScreenerProvider(cfg.DexScreenerBaseURL, cfg.PriceCacheTTL))

	agg := aggregator.New(cfg, db, svmProviders, evmProviders)
	val := portfolio.New(db, agg)
	engine := trade.New(cfg, db, agg, val)
	registry := team.New(cfg, db)
	sched := snapshot.New(cfg, db, val)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
	}()

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("snapshot scheduler failed to start")
	}
	defer sched.Stop()

	server := httpapi.New(cfg, db, agg, engine, val, registry)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler()}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	printSummary(cfg)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("goodbye")
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("  TRADING SIMULATOR - RUNNING")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  HTTP:      %s\n", cfg.HTTPAddr)
	fmt.Printf("  Metrics:   %s/metrics\n", cfg.HTTPAddr)
	fmt.Printf("  DB:        %s\n", cfg.DBPath)
	fmt.Printf("  EVM chains: %v\n", cfg.EVMChains)
	fmt.Println(strings.Repeat("=", 60) + "\n")
}
