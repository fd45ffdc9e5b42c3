// Package db owns the SQLite store: the warehouse input tables the feeds
// read, the four backtest result tables, the run log and the run lease.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database used by the feeds and the result writers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}

	// A single connection keeps :memory: databases coherent and is enough
	// for the strictly sequential batch runner.
	database.SetMaxOpenConns(1)
	database.SetConnMaxLifetime(1 * time.Hour)

	store := &Store{db: database}
	if err := store.ensureSchema(); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return store, nil
}

// DB exposes the underlying handle for the read-only feeds.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a transaction; one transaction covers one factor's run.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResolvePath normalizes a database path relative to a base directory.
func ResolvePath(base, path string) string {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func (s *Store) ensureSchema() error {
	queries := []string{
		// Input feeds. In production these are loaded by the fetch jobs;
		// the engine only reads them.
		`CREATE TABLE IF NOT EXISTS dws_stock_score_daily (
            trade_date      TEXT NOT NULL,
            ts_code         TEXT NOT NULL,
            total_score     REAL,
            total_score_ind REAL,
            score_profit    REAL,
            score_operation REAL,
            score_growth    REAL,
            score_safety    REAL,
            score_cashflow  REAL,
            score_valuation REAL,
            score_dividend  REAL,
            score_size      REAL,
            PRIMARY KEY (trade_date, ts_code)
        )`,
		`CREATE TABLE IF NOT EXISTS dwd_kline_daily_raw (
            code        TEXT NOT NULL,
            trade_date  TEXT NOT NULL,
            close       REAL,
            tradestatus INTEGER,
            is_st       INTEGER,
            PRIMARY KEY (code, trade_date)
        )`,
		`CREATE TABLE IF NOT EXISTS dwd_stock_basic_all (
            code     TEXT PRIMARY KEY,
            name     TEXT,
            sec_type INTEGER,
            status   INTEGER
        )`,

		// Result tables, exclusively written by this module.
		`CREATE TABLE IF NOT EXISTS dws_factor_ic_daily (
            factor_name TEXT    NOT NULL,
            horizon     INTEGER NOT NULL,
            trade_date  TEXT    NOT NULL,
            ic          REAL,
            rank_ic     REAL,
            n           INTEGER NOT NULL,
            mean_ret    REAL,
            std_ret     REAL,
            updated_at  TEXT    NOT NULL DEFAULT (datetime('now')),
            PRIMARY KEY (factor_name, horizon, trade_date)
        )`,
		`CREATE TABLE IF NOT EXISTS dws_factor_layer_ret_daily (
            factor_name TEXT    NOT NULL,
            horizon     INTEGER NOT NULL,
            trade_date  TEXT    NOT NULL,
            layer       INTEGER NOT NULL,
            n           INTEGER NOT NULL,
            avg_ret     REAL,
            updated_at  TEXT    NOT NULL DEFAULT (datetime('now')),
            PRIMARY KEY (factor_name, horizon, trade_date, layer)
        )`,
		`CREATE TABLE IF NOT EXISTS dws_portfolio_nav_daily (
            portfolio_code TEXT NOT NULL,
            trade_date     TEXT NOT NULL,
            nav            REAL NOT NULL,
            daily_ret      REAL,
            hold_cnt       INTEGER,
            updated_at     TEXT NOT NULL DEFAULT (datetime('now')),
            PRIMARY KEY (portfolio_code, trade_date)
        )`,
		`CREATE TABLE IF NOT EXISTS dws_portfolio_holdings_daily (
            portfolio_code TEXT NOT NULL,
            trade_date     TEXT NOT NULL,
            ts_code        TEXT NOT NULL,
            weight         REAL NOT NULL,
            rank_in_day    INTEGER,
            updated_at     TEXT NOT NULL DEFAULT (datetime('now')),
            PRIMARY KEY (portfolio_code, trade_date, ts_code)
        )`,
		`CREATE TABLE IF NOT EXISTS sys_backtest_run_log (
            run_id       INTEGER PRIMARY KEY AUTOINCREMENT,
            run_ts       TEXT NOT NULL DEFAULT (datetime('now')),
            module       TEXT NOT NULL,
            params_json  TEXT,
            ok           INTEGER NOT NULL,
            duration_sec REAL,
            msg          TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS sys_backtest_run_lease (
            lease_key   TEXT PRIMARY KEY,
            holder      TEXT NOT NULL,
            acquired_at TEXT NOT NULL,
            expires_at  TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_factor_ic_date
            ON dws_factor_ic_daily (trade_date, factor_name, horizon)`,
		`CREATE INDEX IF NOT EXISTS idx_layer_ret_date
            ON dws_factor_layer_ret_daily (trade_date, factor_name, horizon, layer)`,
		`CREATE INDEX IF NOT EXISTS idx_nav_date
            ON dws_portfolio_nav_daily (trade_date, portfolio_code)`,
		`CREATE INDEX IF NOT EXISTS idx_holdings_date
            ON dws_portfolio_holdings_daily (trade_date, portfolio_code)`,
		`CREATE INDEX IF NOT EXISTS idx_run_log_ts
            ON sys_backtest_run_log (run_ts)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("exec query failed: %w", err)
		}
	}
	return nil
}
