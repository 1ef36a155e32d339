// Package snapshot runs a process-wide cron tick that, while a
// competition is ACTIVE, values every enrolled team's portfolio and
// persists the snapshot plus its per-token breakdown in one transaction.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/metrics"
	"github.com/recallnet/trading-simulator/internal/portfolio"
	"github.com/recallnet/trading-simulator/internal/store"
)

type state int

const (
	stateInit state = iota
	stateRunning
	stateStopped
)

// Scheduler owns the cron entry that drives periodic portfolio
// snapshots. Start/Stop are idempotent; a tick already in progress
// when Stop is called is allowed to finish.
type Scheduler struct {
	cfg      *config.Config
	db       *store.Store
	valuator *portfolio.Valuator

	cron *cron.Cron

	mu       sync.Mutex
	st       state
	tickMu   sync.Mutex // serializes ticks so they never overlap
	lastErr  error
	tickDone chan struct{} // not created or closed by the scheduler; nothing reads it
}

func New(cfg *config.Config, db *store.Store, valuator *portfolio.Valuator) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		valuator: valuator,
		st:       stateInit,
	}
}

// Start schedules the recurring tick at cfg.SnapshotInterval through a
// cron "@every" entry. That schedule has one-second granularity: the
// interval is truncated to whole seconds, and an interval under one
// second ticks once a second. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == stateRunning {
		return nil
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.SnapshotInterval)
	_, err := s.cron.AddFunc(spec, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule snapshot tick: %w", err)
	}
	s.cron.Start()
	s.st = stateRunning
	log.Info().Str("interval", s.cfg.SnapshotInterval.String()).Msg("snapshot scheduler started")
	return nil
}

// Stop cancels the cron entry and waits for any in-flight tick to
// finish. Calling Stop twice, or before Start, is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateRunning {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.st = stateStopped
	log.Info().Msg("snapshot scheduler stopped")
}

// tick runs one snapshot pass. Ticks never overlap: if a previous tick
// is still running when the cron fires again, the new one is skipped.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		log.Warn().Msg("snapshot tick skipped, previous tick still running")
		return
	}
	defer s.tickMu.Unlock()

	err := s.runOnce(ctx)
	s.mu.Lock()
	s.lastErr = err
	testMode := s.cfg.SchedulerTest
	s.mu.Unlock()

	if err != nil {
		metrics.SnapshotTicksTotal.WithLabelValues("failure").Inc()
		log.Error().Err(err).Msg("snapshot tick failed")
		if testMode {
			// Stop waits for the running cron job to finish, so it must not
			// be called synchronously from inside that same job.
			go s.Stop()
		}
		return
	}
	metrics.SnapshotTicksTotal.WithLabelValues("success").Inc()
}

// runOnce values every team enrolled in the active competition and
// writes one snapshot row (plus token breakdown rows) per team.
func (s *Scheduler) runOnce(ctx context.Context) error {
	comp, err := s.db.GetActiveCompetition()
	if err != nil {
		return fmt.Errorf("load active competition: %w", err)
	}
	if comp == nil {
		log.Debug().Msg("no active competition, skipping snapshot tick")
		return nil
	}

	teams, err := s.db.GetEnrolledTeams(comp.ID)
	if err != nil {
		return fmt.Errorf("load enrolled teams: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, team := range teams {
		team := team
		g.Go(func() error {
			return s.snapshotTeam(gctx, comp.ID, team.ID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Int64("competitionId", comp.ID).Int("teams", len(teams)).Msg("portfolio snapshot tick complete")
	return nil
}

func (s *Scheduler) snapshotTeam(ctx context.Context, competitionID, teamID int64) error {
	total, breakdown, err := s.valuator.ValueWithBreakdown(ctx, teamID)
	if err != nil {
		return fmt.Errorf("value team %d: %w", teamID, err)
	}

	return s.db.WithTx(func(tx *sql.Tx) error {
		id, err := s.db.InsertSnapshotTx(tx, store.PortfolioSnapshot{
			TeamID: teamID, CompetitionID: competitionID,
			Timestamp: time.Now().UTC(), TotalValueUSD: total,
		})
		if err != nil {
			return err
		}
		for _, b := range breakdown {
			if err := s.db.InsertSnapshotTokenValueTx(tx, store.PortfolioTokenValue{
				SnapshotID: id, TokenAddress: b.TokenAddress, Amount: b.Amount,
				PriceUSD: b.PriceUSD, ValueUSD: b.ValueUSD, SpecificChain: b.SpecificChain,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastError returns the error from the most recently completed tick,
// nil if the last tick succeeded or none has run yet.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
