package store

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

// InsertMacroObservation appends one macro point. Re-inserting the same
// (symbol, date) replaces the value, so a rerun of ingestion is safe.
func (s *Store) InsertMacroObservation(obs types.MacroObservation) error {
	insert := s.sq.
		Insert("macro").
		Columns("symbol", "date", "value", "change_pct").
		Values(obs.Symbol, obs.Date, obs.Value, obs.ChangePct).
		Suffix(`ON CONFLICT (symbol, date) DO UPDATE SET
			value = excluded.value,
			change_pct = excluded.change_pct`).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to insert macro observation %s: %w", obs.Symbol, err)
	}

	return nil
}

// LatestMacro returns the most recent observation for a symbol.
func (s *Store) LatestMacro(symbol string) (types.MacroObservation, error) {
	query := s.sq.
		Select("symbol", "date", "value", "change_pct").
		From("macro").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("date DESC").
		Limit(1).
		RunWith(s.db)

	var obs types.MacroObservation
	err := query.QueryRow().Scan(&obs.Symbol, &obs.Date, &obs.Value, &obs.ChangePct)
	if err == sql.ErrNoRows {
		return types.MacroObservation{}, errors.Newf(errors.ErrCodeMacroNotFound, "no observations for macro symbol %s", symbol)
	}
	if err != nil {
		return types.MacroObservation{}, fmt.Errorf("failed to query macro %s: %w", symbol, err)
	}

	return obs, nil
}

// InsertPrice appends one daily bar, replacing on rerun.
func (s *Store) InsertPrice(bar types.PriceObservation) error {
	insert := s.sq.
		Insert("prices").
		Columns("ticker", "date", "open", "high", "low", "close", "volume").
		Values(bar.Ticker, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume).
		Suffix(`ON CONFLICT (ticker, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume`).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to insert price %s: %w", bar.Ticker, err)
	}

	return nil
}

// LatestPrice returns the most recent bar for a ticker.
func (s *Store) LatestPrice(ticker string) (types.PriceObservation, error) {
	query := s.sq.
		Select("ticker", "date", "open", "high", "low", "close", "volume").
		From("prices").
		Where(squirrel.Eq{"ticker": ticker}).
		OrderBy("date DESC").
		Limit(1).
		RunWith(s.db)

	var bar types.PriceObservation
	err := query.QueryRow().Scan(&bar.Ticker, &bar.Date, &bar.Open, &bar.High,
		&bar.Low, &bar.Close, &bar.Volume)
	if err == sql.ErrNoRows {
		return types.PriceObservation{}, errors.Newf(errors.ErrCodePriceNotFound, "no price history for %s", ticker)
	}
	if err != nil {
		return types.PriceObservation{}, fmt.Errorf("failed to query price %s: %w", ticker, err)
	}

	return bar, nil
}

// PriceHistory returns up to limit bars for a ticker, newest first.
func (s *Store) PriceHistory(ticker string, limit uint64) ([]types.PriceObservation, error) {
	query := s.sq.
		Select("ticker", "date", "open", "high", "low", "close", "volume").
		From("prices").
		Where(squirrel.Eq{"ticker": ticker}).
		OrderBy("date DESC").
		Limit(limit).
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query price history %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []types.PriceObservation
	for rows.Next() {
		var bar types.PriceObservation
		if err := rows.Scan(&bar.Ticker, &bar.Date, &bar.Open, &bar.High,
			&bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		bars = append(bars, bar)
	}

	return bars, rows.Err()
}

// UpsertFundamentals stores the fundamental snapshot for a ticker/date.
func (s *Store) UpsertFundamentals(f types.Fundamentals) error {
	insert := s.sq.
		Insert("fundamentals").
		Columns("ticker", "date", "pe_ratio", "pb_ratio", "eps", "dividend_yield", "market_cap", "profit_margin").
		Values(f.Ticker, f.Date, f.PERatio, f.PBRatio, f.EPS, f.DividendYield, f.MarketCap, f.ProfitMargin).
		Suffix(`ON CONFLICT (ticker, date) DO UPDATE SET
			pe_ratio = excluded.pe_ratio,
			pb_ratio = excluded.pb_ratio,
			eps = excluded.eps,
			dividend_yield = excluded.dividend_yield,
			market_cap = excluded.market_cap,
			profit_margin = excluded.profit_margin`).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to upsert fundamentals %s: %w", f.Ticker, err)
	}

	return nil
}

// LatestFundamentals returns the most recent fundamental snapshot.
func (s *Store) LatestFundamentals(ticker string) (types.Fundamentals, error) {
	query := s.sq.
		Select("ticker", "date", "pe_ratio", "pb_ratio", "eps", "dividend_yield", "market_cap", "profit_margin").
		From("fundamentals").
		Where(squirrel.Eq{"ticker": ticker}).
		OrderBy("date DESC").
		Limit(1).
		RunWith(s.db)

	var f types.Fundamentals
	err := query.QueryRow().Scan(&f.Ticker, &f.Date, &f.PERatio, &f.PBRatio,
		&f.EPS, &f.DividendYield, &f.MarketCap, &f.ProfitMargin)
	if err == sql.ErrNoRows {
		return types.Fundamentals{}, errors.Newf(errors.ErrCodeDataUnavailable, "no fundamentals for %s", ticker)
	}
	if err != nil {
		return types.Fundamentals{}, fmt.Errorf("failed to query fundamentals %s: %w", ticker, err)
	}

	return f, nil
}
