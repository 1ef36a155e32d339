// Package store is the single persistence layer for the trading
// simulator: one SQLite-backed Store type sectioned by entity.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/recallnet/trading-simulator/internal/config"
)

var ErrNotFound = errors.New("store: not found")
var ErrInsufficientBalance = errors.New("store: insufficient balance")

const schema = `
CREATE TABLE IF NOT EXISTS teams (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    api_token TEXT NOT NULL UNIQUE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS balances (
    team_id INTEGER NOT NULL REFERENCES teams(id),
    token_address TEXT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    specific_chain TEXT,
    PRIMARY KEY (team_id, token_address)
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id INTEGER NOT NULL REFERENCES teams(id),
    competition_id INTEGER NOT NULL,
    from_token TEXT NOT NULL,
    to_token TEXT NOT NULL,
    from_amount REAL NOT NULL,
    to_amount REAL NOT NULL,
    price REAL NOT NULL,
    success BOOLEAN NOT NULL,
    reason TEXT,
    error TEXT,
    from_chain TEXT,
    to_chain TEXT,
    from_specific_chain TEXT,
    to_specific_chain TEXT,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS competitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    start_date TIMESTAMP,
    end_date TIMESTAMP
);

CREATE TABLE IF NOT EXISTS competition_teams (
    competition_id INTEGER NOT NULL REFERENCES competitions(id),
    team_id INTEGER NOT NULL REFERENCES teams(id),
    enrolled_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (competition_id, team_id)
);

CREATE TABLE IF NOT EXISTS prices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    token TEXT NOT NULL,
    chain TEXT NOT NULL,
    specific_chain TEXT NOT NULL,
    price_usd REAL NOT NULL,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id INTEGER NOT NULL REFERENCES teams(id),
    competition_id INTEGER NOT NULL,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    total_value_usd REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_token_values (
    snapshot_id INTEGER NOT NULL REFERENCES portfolio_snapshots(id),
    token_address TEXT NOT NULL,
    amount REAL NOT NULL,
    price_usd REAL NOT NULL,
    value_usd REAL NOT NULL,
    specific_chain TEXT
);

CREATE INDEX IF NOT EXISTS idx_prices_token ON prices(token);
CREATE INDEX IF NOT EXISTS idx_prices_token_chain ON prices(token, specific_chain);
CREATE INDEX IF NOT EXISTS idx_balances_team_token ON balances(team_id, token_address);
CREATE INDEX IF NOT EXISTS idx_trades_team_time ON trades(team_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_comp_team_time ON portfolio_snapshots(competition_id, team_id, timestamp DESC);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under the trade engine's
	// per-team mutex + transaction discipline.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, rolling back on any error from fn
// or panic, committing otherwise.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- Teams ----

func (s *Store) CreateTeam(name string) (*Team, error) {
	token := uuid.NewString()
	res, err := s.db.Exec(`INSERT INTO teams (name, api_token) VALUES (?, ?)`, name, token)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetTeam(id)
}

func (s *Store) GetTeam(id int64) (*Team, error) {
	var t Team
	err := s.db.QueryRow(`SELECT id, name, api_token, active, created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.APIToken, &t.Active, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTeamByToken(token string) (*Team, error) {
	var t Team
	err := s.db.QueryRow(`SELECT id, name, api_token, active, created_at FROM teams WHERE api_token=?`, token).
		Scan(&t.ID, &t.Name, &t.APIToken, &t.Active, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- Balances ----

// SetBalance sets an absolute amount, used for initial seeding and
// administrative reset. It is not used by the trade engine, which must
// mutate balances atomically via AdjustBalanceTx.
func (s *Store) SetBalance(teamID int64, token string, amount float64, specificChain config.SpecificChain) error {
	_, err := s.db.Exec(`
		INSERT INTO balances (team_id, token_address, amount, specific_chain) VALUES (?, ?, ?, ?)
		ON CONFLICT(team_id, token_address) DO UPDATE SET amount=excluded.amount, specific_chain=excluded.specific_chain`,
		teamID, token, amount, string(specificChain))
	return err
}

func (s *Store) GetBalance(teamID int64, token string) (float64, error) {
	var amt float64
	err := s.db.QueryRow(`SELECT amount FROM balances WHERE team_id=? AND token_address=?`, teamID, token).Scan(&amt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amt, err
}

func (s *Store) GetBalances(teamID int64) ([]Balance, error) {
	rows, err := s.db.Query(`SELECT team_id, token_address, amount, COALESCE(specific_chain,'') FROM balances WHERE team_id=?`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var b Balance
		var sc string
		if err := rows.Scan(&b.TeamID, &b.TokenAddress, &b.Amount, &sc); err != nil {
			return nil, err
		}
		b.SpecificChain = config.SpecificChain(sc)
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBalanceTx reads a balance for update within an existing transaction.
func (s *Store) GetBalanceTx(tx *sql.Tx, teamID int64, token string) (float64, error) {
	var amt float64
	err := tx.QueryRow(`SELECT amount FROM balances WHERE team_id=? AND token_address=?`, teamID, token).Scan(&amt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amt, err
}

// AdjustBalanceTx applies delta (positive or negative) to a team's
// balance of token within tx, creating the row if absent. It refuses to
// let the resulting amount drop below zero.
func (s *Store) AdjustBalanceTx(tx *sql.Tx, teamID int64, token string, delta float64, specificChain config.SpecificChain) error {
	current, err := s.GetBalanceTx(tx, teamID, token)
	if err != nil {
		return err
	}
	next := current + delta
	if next < -1e-12 {
		return ErrInsufficientBalance
	}
	if next < 0 {
		next = 0
	}
	_, err = tx.Exec(`
		INSERT INTO balances (team_id, token_address, amount, specific_chain) VALUES (?, ?, ?, ?)
		ON CONFLICT(team_id, token_address) DO UPDATE SET amount=excluded.amount`,
		teamID, token, next, string(specificChain))
	return err
}

// ---- Trades ----

func (s *Store) InsertTradeTx(tx *sql.Tx, t Trade) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO trades (team_id, competition_id, from_token, to_token, from_amount, to_amount, price,
			success, reason, error, from_chain, to_chain, from_specific_chain, to_specific_chain, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.TeamID, t.CompetitionID, t.FromToken, t.ToToken, t.FromAmount, t.ToAmount, t.Price,
		t.Success, t.Reason, t.Error, string(t.FromChain), string(t.ToChain),
		string(t.FromSpecificChain), string(t.ToSpecificChain), t.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetTradesForTeam(teamID int64, limit int) ([]Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, team_id, competition_id, from_token, to_token, from_amount, to_amount, price,
			success, COALESCE(reason,''), COALESCE(error,''), COALESCE(from_chain,''), COALESCE(to_chain,''),
			COALESCE(from_specific_chain,''), COALESCE(to_specific_chain,''), timestamp
		FROM trades WHERE team_id=? ORDER BY timestamp DESC LIMIT ?`, teamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var fc, tc, fsc, tsc string
		if err := rows.Scan(&t.ID, &t.TeamID, &t.CompetitionID, &t.FromToken, &t.ToToken, &t.FromAmount,
			&t.ToAmount, &t.Price, &t.Success, &t.Reason, &t.Error, &fc, &tc, &fsc, &tsc, &t.Timestamp); err != nil {
			return nil, err
		}
		t.FromChain, t.ToChain = config.Chain(fc), config.Chain(tc)
		t.FromSpecificChain, t.ToSpecificChain = config.SpecificChain(fsc), config.SpecificChain(tsc)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- Competitions ----

func (s *Store) CreateCompetition(name string) (*Competition, error) {
	res, err := s.db.Exec(`INSERT INTO competitions (name, status) VALUES (?, ?)`, name, CompetitionPending)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetCompetition(id)
}

func (s *Store) GetCompetition(id int64) (*Competition, error) {
	var c Competition
	var status string
	err := s.db.QueryRow(`SELECT id, name, status, start_date, end_date FROM competitions WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &status, &c.StartDate, &c.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = CompetitionStatus(status)
	return &c, nil
}

// ActivateCompetition sets id ACTIVE and every other competition out of
// ACTIVE, preserving the at-most-one-ACTIVE invariant the snapshotter
// depends on.
func (s *Store) ActivateCompetition(id int64) error {
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE competitions SET status=? WHERE status=?`, CompetitionCompleted, CompetitionActive); err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err := tx.Exec(`UPDATE competitions SET status=?, start_date=? WHERE id=?`, CompetitionActive, now, id)
		return err
	})
}

// GetActiveCompetition returns (nil, nil) when no competition is ACTIVE.
func (s *Store) GetActiveCompetition() (*Competition, error) {
	var c Competition
	var status string
	err := s.db.QueryRow(`SELECT id, name, status, start_date, end_date FROM competitions WHERE status=? LIMIT 1`, CompetitionActive).
		Scan(&c.ID, &c.Name, &status, &c.StartDate, &c.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Status = CompetitionStatus(status)
	return &c, nil
}

func (s *Store) EnrollTeam(competitionID, teamID int64) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO competition_teams (competition_id, team_id) VALUES (?, ?)`, competitionID, teamID)
	return err
}

func (s *Store) GetEnrolledTeams(competitionID int64) ([]Team, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, t.api_token, t.active, t.created_at
		FROM teams t JOIN competition_teams ct ON ct.team_id = t.id
		WHERE ct.competition_id=?`, competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name, &t.APIToken, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- Prices ----

// InsertPriceRecord appends a price observation. Best-effort: callers in
// the aggregator ignore its error rather than fail a price lookup over it.
func (s *Store) InsertPriceRecord(r PriceRecord) error {
	_, err := s.db.Exec(`INSERT INTO prices (token, chain, specific_chain, price_usd, timestamp) VALUES (?,?,?,?,?)`,
		r.Token, string(r.Chain), string(r.SpecificChain), r.PriceUSD, r.Timestamp)
	return err
}

// GetLatestPrice returns the most recent price for token, optionally
// restricted to a specific chain. Returns (nil, nil) if none exists.
func (s *Store) GetLatestPrice(token string, specificChain config.SpecificChain) (*PriceRecord, error) {
	var rec PriceRecord
	var chain, sc string
	var query string
	var args []interface{}
	if specificChain != "" {
		query = `SELECT token, chain, specific_chain, price_usd, timestamp FROM prices
			WHERE token=? AND specific_chain=? ORDER BY timestamp DESC LIMIT 1`
		args = []interface{}{token, string(specificChain)}
	} else {
		query = `SELECT token, chain, specific_chain, price_usd, timestamp FROM prices
			WHERE token=? ORDER BY timestamp DESC LIMIT 1`
		args = []interface{}{token}
	}
	err := s.db.QueryRow(query, args...).Scan(&rec.Token, &chain, &sc, &rec.PriceUSD, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Chain, rec.SpecificChain = config.Chain(chain), config.SpecificChain(sc)
	return &rec, nil
}

// ---- Portfolio snapshots ----

func (s *Store) InsertSnapshotTx(tx *sql.Tx, snap PortfolioSnapshot) (int64, error) {
	res, err := tx.Exec(`INSERT INTO portfolio_snapshots (team_id, competition_id, timestamp, total_value_usd) VALUES (?,?,?,?)`,
		snap.TeamID, snap.CompetitionID, snap.Timestamp, snap.TotalValueUSD)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) InsertSnapshotTokenValueTx(tx *sql.Tx, row PortfolioTokenValue) error {
	_, err := tx.Exec(`INSERT INTO portfolio_token_values (snapshot_id, token_address, amount, price_usd, value_usd, specific_chain) VALUES (?,?,?,?,?,?)`,
		row.SnapshotID, row.TokenAddress, row.Amount, row.PriceUSD, row.ValueUSD, string(row.SpecificChain))
	return err
}

func (s *Store) GetSnapshotsForTeam(teamID, competitionID int64, limit int) ([]PortfolioSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, team_id, competition_id, timestamp, total_value_usd FROM portfolio_snapshots
		WHERE team_id=? AND competition_id=? ORDER BY timestamp DESC LIMIT ?`, teamID, competitionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PortfolioSnapshot
	for rows.Next() {
		var p PortfolioSnapshot
		if err := rows.Scan(&p.ID, &p.TeamID, &p.CompetitionID, &p.Timestamp, &p.TotalValueUSD); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
