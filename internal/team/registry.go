// Package team handles team registration and bearer-token authentication,
// the one entry point that turns configured initial balances into seeded
// rows for a new team.
package team

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/store"
)

type Registry struct {
	cfg *config.Config
	db  *store.Store
}

func New(cfg *config.Config, db *store.Store) *Registry {
	return &Registry{cfg: cfg, db: db}
}

// Register creates a team, mints its bearer token, and seeds balances
// from config.InitialBalances, resolving each symbol to a token address
// via config.SpecificChainTokens.
func (r *Registry) Register(name string) (*store.Team, error) {
	t, err := r.db.CreateTeam(name)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}

	for specificChain, symbols := range r.cfg.InitialBalances {
		tokens := r.cfg.SpecificChainTokens[specificChain]
		for symbol, amount := range symbols {
			addr, ok := tokens[symbol]
			if !ok {
				log.Warn().Str("chain", string(specificChain)).Str("symbol", symbol).
					Msg("initial balance configured for unknown token symbol, skipping")
				continue
			}
			if err := r.db.SetBalance(t.ID, addr, amount, specificChain); err != nil {
				return nil, fmt.Errorf("seed balance %s/%s: %w", specificChain, symbol, err)
			}
		}
	}

	log.Info().Int64("teamId", t.ID).Str("name", name).Msg("team registered")
	return t, nil
}

// Authenticate resolves a bearer token to its team. httpapi's auth
// middleware is the only caller.
func (r *Registry) Authenticate(token string) (*store.Team, error) {
	t, err := r.db.GetTeamByToken(token)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, store.ErrNotFound
	}
	return t, nil
}
