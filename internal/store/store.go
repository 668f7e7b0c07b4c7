// Package store owns the DuckDB schema and all persisted state of the
// trading core. Components read through it; mutating the ledger-owned
// tables (balance, positions, trades) is reserved for the Ledger, which
// drives its writes through the transaction helpers here.
package store

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/jlindberg/omxtrader/internal/logger"
)

type Store struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// Open opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store in tests.
func Open(path string, log *logger.Logger) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = ""
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the schema and seeds the balance row when absent.
func (s *Store) Initialize(startingCash float64) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS learning_id_seq`,
		`CREATE TABLE IF NOT EXISTS companies (
			ticker TEXT PRIMARY KEY,
			name TEXT,
			sector TEXT,
			industry TEXT,
			description TEXT,
			extras TEXT,
			schema_version INTEGER,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS input_dependencies (
			ticker TEXT,
			input_name TEXT,
			macro_symbol TEXT,
			direction TEXT,
			strength DOUBLE,
			PRIMARY KEY (ticker, input_name)
		)`,
		`CREATE TABLE IF NOT EXISTS macro (
			symbol TEXT,
			date DATE,
			value DOUBLE,
			change_pct DOUBLE,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS prices (
			ticker TEXT,
			date DATE,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume BIGINT,
			PRIMARY KEY (ticker, date)
		)`,
		`CREATE TABLE IF NOT EXISTS fundamentals (
			ticker TEXT,
			date DATE,
			pe_ratio DOUBLE,
			pb_ratio DOUBLE,
			eps DOUBLE,
			dividend_yield DOUBLE,
			market_cap DOUBLE,
			profit_margin DOUBLE,
			PRIMARY KEY (ticker, date)
		)`,
		`CREATE TABLE IF NOT EXISTS balance (
			id INTEGER PRIMARY KEY,
			cash DOUBLE,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			ticker TEXT PRIMARY KEY,
			sector TEXT,
			shares DOUBLE,
			avg_price DOUBLE,
			opened_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			ticker TEXT,
			sector TEXT,
			side TEXT,
			shares DOUBLE,
			price DOUBLE,
			total_value DOUBLE,
			reasoning TEXT,
			hypothesis TEXT,
			confidence DOUBLE,
			stop_loss_pct DOUBLE,
			target_pct DOUBLE,
			reason_code TEXT,
			reason_message TEXT,
			executed_at TIMESTAMP,
			closed_at TIMESTAMP,
			pnl DOUBLE,
			outcome_correct BOOLEAN
		)`,
		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			trade_id TEXT,
			check_date DATE,
			price DOUBLE,
			pnl_pct DOUBLE,
			pnl_amount DOUBLE,
			hypothesis_correct BOOLEAN,
			days_since_entry INTEGER,
			PRIMARY KEY (trade_id, check_date)
		)`,
		`CREATE TABLE IF NOT EXISTS learnings (
			id INTEGER PRIMARY KEY DEFAULT nextval('learning_id_seq'),
			category TEXT,
			content TEXT,
			sector TEXT,
			confidence DOUBLE,
			times_validated INTEGER,
			times_refuted INTEGER,
			active BOOLEAN,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			week_start DATE PRIMARY KEY,
			week_end DATE,
			total_trades INTEGER,
			winning_trades INTEGER,
			losing_trades INTEGER,
			total_pnl DOUBLE,
			win_rate DOUBLE,
			best_trade_id TEXT,
			worst_trade_id TEXT,
			patterns TEXT,
			adjustments TEXT,
			reflection TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			snapshot_date DATE PRIMARY KEY,
			cash DOUBLE,
			positions_value DOUBLE,
			total_value DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS skipped_intents (
			ticker TEXT,
			side TEXT,
			value DOUBLE,
			reason_code TEXT,
			message TEXT,
			recorded_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS run_lease (
			id INTEGER PRIMARY KEY,
			owner TEXT,
			expires_at TIMESTAMP
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// Seed the single balance row on first initialization only.
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM balance`).Scan(&count); err != nil {
		return fmt.Errorf("failed to check balance row: %w", err)
	}

	if count == 0 {
		insert := s.sq.
			Insert("balance").
			Columns("id", "cash", "updated_at").
			Values(1, startingCash, squirrel.Expr("CURRENT_TIMESTAMP")).
			RunWith(s.db)
		if _, err := insert.Exec(); err != nil {
			return fmt.Errorf("failed to seed balance: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for the ledger's transactional writes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Builder exposes the statement builder used for all queries.
func (s *Store) Builder() squirrel.StatementBuilderType {
	return s.sq
}
