package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"frontier/internal/portfolio"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one saved analysis: the inputs and the allocations it produced.
type Run struct {
	ID           string                     `json:"id"`
	CreatedAt    time.Time                  `json:"created_at"`
	Tickers      []string                   `json:"tickers"`
	Start        time.Time                  `json:"start"`
	End          time.Time                  `json:"end"`
	Periods      int                        `json:"periods"`
	RiskFreeRate float64                    `json:"risk_free_rate"`
	Strategies   []portfolio.StrategyResult `json:"strategies"`
	AssetStats   []portfolio.AssetStats     `json:"asset_stats,omitempty"`
}

// Strategy returns the named strategy result.
func (r *Run) Strategy(name string) (portfolio.StrategyResult, bool) {
	for _, s := range r.Strategies {
		if s.Name == name {
			return s, true
		}
	}
	return portfolio.StrategyResult{}, false
}

type runRow struct {
	ID           string  `db:"id"`
	CreatedAt    string  `db:"created_at"`
	Tickers      string  `db:"tickers"`
	StartDate    string  `db:"start_date"`
	EndDate      string  `db:"end_date"`
	Periods      int     `db:"periods"`
	RiskFreeRate float64 `db:"risk_free_rate"`
	Strategies   string  `db:"strategies"`
	AssetStats   string  `db:"asset_stats"`
}

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists runs in SQLite.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db, timeout: 5 * time.Second}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	log.Debug().Str("path", path).Msg("run store opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	version := 0
	// Fresh databases have no schema_version table yet.
	_ = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS runs (
				id             TEXT PRIMARY KEY,
				created_at     TEXT NOT NULL,
				tickers        TEXT NOT NULL,
				start_date     TEXT NOT NULL,
				end_date       TEXT NOT NULL,
				periods        INTEGER NOT NULL DEFAULT 0,
				risk_free_rate REAL NOT NULL DEFAULT 0,
				strategies     TEXT NOT NULL,
				asset_stats    TEXT NOT NULL DEFAULT '[]'
			);

			CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveRun inserts run, assigning an id and creation time when missing.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	row, err := toRow(run)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, created_at, tickers, start_date, end_date, periods, risk_free_rate, strategies, asset_stats)
		VALUES (:id, :created_at, :tickers, :start_date, :end_date, :periods, :risk_free_rate, :strategies, :asset_stats)`,
		row)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return fromRow(row)
}

// ListRuns returns the most recent runs first, at most limit of them
// (all when limit <= 0).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*Run, 0, len(rows))
	for _, row := range rows {
		run, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// DeleteRun removes one run.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func toRow(run *Run) (runRow, error) {
	tickers, err := json.Marshal(run.Tickers)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to marshal tickers: %w", err)
	}
	strategies, err := json.Marshal(run.Strategies)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to marshal strategies: %w", err)
	}
	stats, err := json.Marshal(run.AssetStats)
	if err != nil {
		return runRow{}, fmt.Errorf("failed to marshal asset stats: %w", err)
	}
	return runRow{
		ID:           run.ID,
		CreatedAt:    run.CreatedAt.UTC().Format(timeLayout),
		Tickers:      string(tickers),
		StartDate:    run.Start.UTC().Format(timeLayout),
		EndDate:      run.End.UTC().Format(timeLayout),
		Periods:      run.Periods,
		RiskFreeRate: run.RiskFreeRate,
		Strategies:   string(strategies),
		AssetStats:   string(stats),
	}, nil
}

func fromRow(row runRow) (*Run, error) {
	run := &Run{
		ID:           row.ID,
		Periods:      row.Periods,
		RiskFreeRate: row.RiskFreeRate,
	}
	var err error
	if run.CreatedAt, err = time.Parse(timeLayout, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("run %s: bad created_at: %w", row.ID, err)
	}
	if run.Start, err = time.Parse(timeLayout, row.StartDate); err != nil {
		return nil, fmt.Errorf("run %s: bad start_date: %w", row.ID, err)
	}
	if run.End, err = time.Parse(timeLayout, row.EndDate); err != nil {
		return nil, fmt.Errorf("run %s: bad end_date: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Tickers), &run.Tickers); err != nil {
		return nil, fmt.Errorf("run %s: bad tickers: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Strategies), &run.Strategies); err != nil {
		return nil, fmt.Errorf("run %s: bad strategies: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.AssetStats), &run.AssetStats); err != nil {
		return nil, fmt.Errorf("run %s: bad asset stats: %w", row.ID, err)
	}
	return run, nil
}
