package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/moznion/go-optional"

	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

// The balance, positions and trades tables are owned by the ledger.
// Write helpers take a squirrel.BaseRunner so the ledger can compose
// them inside a single transaction; reads run against the database
// directly.

// GetCash returns the current cash balance.
func (s *Store) GetCash(run squirrel.BaseRunner) (float64, error) {
	if run == nil {
		run = s.db
	}

	query := s.sq.
		Select("cash").
		From("balance").
		Where(squirrel.Eq{"id": 1}).
		RunWith(run)

	var cash float64
	if err := query.QueryRow().Scan(&cash); err != nil {
		return 0, fmt.Errorf("failed to query balance: %w", err)
	}

	return cash, nil
}

// SetCash overwrites the cash balance.
func (s *Store) SetCash(run squirrel.BaseRunner, cash float64) error {
	if run == nil {
		run = s.db
	}

	update := s.sq.
		Update("balance").
		Set("cash", cash).
		Set("updated_at", squirrel.Expr("CURRENT_TIMESTAMP")).
		Where(squirrel.Eq{"id": 1}).
		RunWith(run)
	if _, err := update.Exec(); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	return nil
}

// GetPosition returns the holding for a ticker.
func (s *Store) GetPosition(ticker string) (types.Position, error) {
	query := s.sq.
		Select("ticker", "sector", "shares", "avg_price", "opened_at").
		From("positions").
		Where(squirrel.Eq{"ticker": ticker}).
		RunWith(s.db)

	var pos types.Position
	err := query.QueryRow().Scan(&pos.Ticker, &pos.Sector, &pos.Shares, &pos.AvgPrice, &pos.OpenedAt)
	if err == sql.ErrNoRows {
		return types.Position{}, errors.Newf(errors.ErrCodePositionNotFound, "no position in %s", ticker)
	}
	if err != nil {
		return types.Position{}, fmt.Errorf("failed to query position %s: %w", ticker, err)
	}

	return pos, nil
}

// ListPositions returns every open position, ordered by ticker.
func (s *Store) ListPositions() ([]types.Position, error) {
	query := s.sq.
		Select("ticker", "sector", "shares", "avg_price", "opened_at").
		From("positions").
		OrderBy("ticker").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var pos types.Position
		if err := rows.Scan(&pos.Ticker, &pos.Sector, &pos.Shares, &pos.AvgPrice, &pos.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	return positions, rows.Err()
}

// UpsertPosition inserts or replaces the single row for a ticker.
func (s *Store) UpsertPosition(run squirrel.BaseRunner, pos types.Position) error {
	if run == nil {
		run = s.db
	}

	insert := s.sq.
		Insert("positions").
		Columns("ticker", "sector", "shares", "avg_price", "opened_at").
		Values(pos.Ticker, pos.Sector, pos.Shares, pos.AvgPrice, pos.OpenedAt).
		Suffix(`ON CONFLICT (ticker) DO UPDATE SET
			sector = excluded.sector,
			shares = excluded.shares,
			avg_price = excluded.avg_price,
			opened_at = excluded.opened_at`).
		RunWith(run)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.Ticker, err)
	}

	return nil
}

// DeletePosition removes a fully sold position.
func (s *Store) DeletePosition(run squirrel.BaseRunner, ticker string) error {
	if run == nil {
		run = s.db
	}

	del := s.sq.
		Delete("positions").
		Where(squirrel.Eq{"ticker": ticker}).
		RunWith(run)
	if _, err := del.Exec(); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", ticker, err)
	}

	return nil
}

// InsertTrade appends one immutable trade row.
func (s *Store) InsertTrade(run squirrel.BaseRunner, trade types.Trade) error {
	if run == nil {
		run = s.db
	}

	insert := s.sq.
		Insert("trades").
		Columns("id", "ticker", "sector", "side", "shares", "price", "total_value",
			"reasoning", "hypothesis", "confidence", "stop_loss_pct", "target_pct",
			"reason_code", "reason_message", "executed_at").
		Values(trade.ID, trade.Ticker, trade.Sector, string(trade.Side), trade.Shares,
			trade.Price, trade.TotalValue, trade.Reasoning, trade.Hypothesis,
			trade.Confidence, trade.StopLossPct, trade.TargetPct,
			trade.Reason.Code, trade.Reason.Message, trade.ExecutedAt).
		RunWith(run)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
	}

	return nil
}

// CloseTrade applies the one permitted transition OPEN -> CLOSED.
// Closing an already closed trade is an invariant violation.
func (s *Store) CloseTrade(run squirrel.BaseRunner, tradeID string, closedAt time.Time, pnl float64, outcomeCorrect bool) error {
	if run == nil {
		run = s.db
	}

	update := s.sq.
		Update("trades").
		Set("closed_at", closedAt).
		Set("pnl", pnl).
		Set("outcome_correct", outcomeCorrect).
		Where(squirrel.Eq{"id": tradeID}).
		Where("closed_at IS NULL").
		RunWith(run)

	result, err := update.Exec()
	if err != nil {
		return fmt.Errorf("failed to close trade %s: %w", tradeID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read close result for %s: %w", tradeID, err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrCodeLedgerInvariant, "trade %s is not open", tradeID)
	}

	return nil
}

// GetTrade fetches one trade by id.
func (s *Store) GetTrade(tradeID string) (types.Trade, error) {
	trades, err := s.queryTrades(squirrel.Eq{"id": tradeID}, "")
	if err != nil {
		return types.Trade{}, err
	}
	if len(trades) == 0 {
		return types.Trade{}, errors.Newf(errors.ErrCodeTradeNotFound, "trade %s not found", tradeID)
	}

	return trades[0], nil
}

// OpenBuyTrades returns all BUY entries that have not been closed,
// oldest first. These carry the live stop/target levels.
func (s *Store) OpenBuyTrades() ([]types.Trade, error) {
	return s.queryTrades(squirrel.And{
		squirrel.Eq{"side": string(types.SideBuy)},
		squirrel.Expr("closed_at IS NULL"),
	}, "executed_at ASC")
}

// OpenBuyTradesFor returns the open BUY entries for one ticker.
func (s *Store) OpenBuyTradesFor(ticker string) ([]types.Trade, error) {
	return s.queryTrades(squirrel.And{
		squirrel.Eq{"ticker": ticker},
		squirrel.Eq{"side": string(types.SideBuy)},
		squirrel.Expr("closed_at IS NULL"),
	}, "executed_at ASC")
}

// TradesBetween returns trades executed in [start, end), oldest first.
func (s *Store) TradesBetween(start, end time.Time) ([]types.Trade, error) {
	return s.queryTrades(squirrel.And{
		squirrel.GtOrEq{"executed_at": start},
		squirrel.Lt{"executed_at": end},
	}, "executed_at ASC")
}

// ClosedTradesBetween returns trades closed in [start, end), oldest first.
func (s *Store) ClosedTradesBetween(start, end time.Time) ([]types.Trade, error) {
	return s.queryTrades(squirrel.And{
		squirrel.GtOrEq{"closed_at": start},
		squirrel.Lt{"closed_at": end},
	}, "closed_at ASC")
}

// UpdateTradeStop rewrites the stored stop-loss offset on an open entry
// trade. Used by trailing-stop tightening only; closed trades are left
// alone.
func (s *Store) UpdateTradeStop(tradeID string, stopLossPct float64) error {
	update := s.sq.
		Update("trades").
		Set("stop_loss_pct", stopLossPct).
		Where(squirrel.Eq{"id": tradeID}).
		Where("closed_at IS NULL").
		RunWith(s.db)
	if _, err := update.Exec(); err != nil {
		return fmt.Errorf("failed to update stop for trade %s: %w", tradeID, err)
	}

	return nil
}

// RealizedPnL sums realized profit across all SELL trades. Closed BUY
// entries carry a mirrored pnl for display and are excluded here to
// avoid double counting.
func (s *Store) RealizedPnL() (float64, error) {
	query := s.sq.
		Select("COALESCE(SUM(pnl), 0)").
		From("trades").
		Where(squirrel.Eq{"side": string(types.SideSell)}).
		Where("pnl IS NOT NULL").
		RunWith(s.db)

	var total float64
	if err := query.QueryRow().Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}

	return total, nil
}

func (s *Store) queryTrades(pred any, orderBy string) ([]types.Trade, error) {
	query := s.sq.
		Select("id", "ticker", "sector", "side", "shares", "price", "total_value",
			"reasoning", "hypothesis", "confidence", "stop_loss_pct", "target_pct",
			"reason_code", "reason_message", "executed_at", "closed_at", "pnl", "outcome_correct").
		From("trades").
		Where(pred)
	if orderBy != "" {
		query = query.OrderBy(orderBy)
	}

	rows, err := query.RunWith(s.db).Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		var trade types.Trade
		var side string
		var closedAt sql.NullTime
		var pnl sql.NullFloat64
		var outcomeCorrect sql.NullBool
		if err := rows.Scan(&trade.ID, &trade.Ticker, &trade.Sector, &side,
			&trade.Shares, &trade.Price, &trade.TotalValue, &trade.Reasoning,
			&trade.Hypothesis, &trade.Confidence, &trade.StopLossPct, &trade.TargetPct,
			&trade.Reason.Code, &trade.Reason.Message, &trade.ExecutedAt,
			&closedAt, &pnl, &outcomeCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		trade.Side = types.TradeSide(side)
		if closedAt.Valid {
			trade.ClosedAt = optional.Some(closedAt.Time)
		}
		if pnl.Valid {
			trade.PnL = optional.Some(pnl.Float64)
		}
		if outcomeCorrect.Valid {
			trade.OutcomeCorrect = optional.Some(outcomeCorrect.Bool)
		}
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}
