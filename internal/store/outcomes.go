package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/moznion/go-optional"

	"github.com/jlindberg/omxtrader/internal/types"
)

// InsertTradeOutcome records one checkpoint of an open trade. The
// (trade, check date) key makes a same-day rerun a no-op.
func (s *Store) InsertTradeOutcome(outcome types.TradeOutcome) error {
	insert := s.sq.
		Insert("trade_outcomes").
		Columns("trade_id", "check_date", "price", "pnl_pct", "pnl_amount", "hypothesis_correct", "days_since_entry").
		Values(outcome.TradeID, outcome.CheckDate, outcome.Price, outcome.PnLPct,
			outcome.PnLAmount, outcome.HypothesisCorrect, outcome.DaysSinceEntry).
		Suffix(`ON CONFLICT (trade_id, check_date) DO NOTHING`).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to insert trade outcome %s: %w", outcome.TradeID, err)
	}

	return nil
}

// LatestOutcome returns the most recent checkpoint for a trade, if any.
func (s *Store) LatestOutcome(tradeID string) (optional.Option[types.TradeOutcome], error) {
	query := s.sq.
		Select("trade_id", "check_date", "price", "pnl_pct", "pnl_amount", "hypothesis_correct", "days_since_entry").
		From("trade_outcomes").
		Where(squirrel.Eq{"trade_id": tradeID}).
		OrderBy("check_date DESC").
		Limit(1).
		RunWith(s.db)

	var outcome types.TradeOutcome
	err := query.QueryRow().Scan(&outcome.TradeID, &outcome.CheckDate, &outcome.Price,
		&outcome.PnLPct, &outcome.PnLAmount, &outcome.HypothesisCorrect, &outcome.DaysSinceEntry)
	if err == sql.ErrNoRows {
		return optional.None[types.TradeOutcome](), nil
	}
	if err != nil {
		return optional.None[types.TradeOutcome](), fmt.Errorf("failed to query outcome %s: %w", tradeID, err)
	}

	return optional.Some(outcome), nil
}

// InsertLearning stores a new learning and returns its id.
func (s *Store) InsertLearning(learning types.Learning) (int64, error) {
	insert := s.sq.
		Insert("learnings").
		Columns("category", "content", "sector", "confidence", "times_validated", "times_refuted", "active", "created_at").
		Values(string(learning.Category), learning.Content, learning.Sector, learning.Confidence,
			learning.TimesValidated, learning.TimesRefuted, learning.Active, learning.CreatedAt).
		Suffix("RETURNING id").
		RunWith(s.db)

	var id int64
	if err := insert.QueryRow().Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert learning: %w", err)
	}

	return id, nil
}

// UpdateLearning rewrites the mutable fields of a learning.
func (s *Store) UpdateLearning(learning types.Learning) error {
	update := s.sq.
		Update("learnings").
		Set("confidence", learning.Confidence).
		Set("times_validated", learning.TimesValidated).
		Set("times_refuted", learning.TimesRefuted).
		Set("active", learning.Active).
		Where(squirrel.Eq{"id": learning.ID}).
		RunWith(s.db)
	if _, err := update.Exec(); err != nil {
		return fmt.Errorf("failed to update learning %d: %w", learning.ID, err)
	}

	return nil
}

// ActiveLearnings returns active learnings ordered by confidence,
// strongest first.
func (s *Store) ActiveLearnings() ([]types.Learning, error) {
	return s.queryLearnings(squirrel.Eq{"active": true})
}

// ActiveLearningsForSector returns active learnings keyed on a sector.
func (s *Store) ActiveLearningsForSector(sector string) ([]types.Learning, error) {
	return s.queryLearnings(squirrel.And{
		squirrel.Eq{"active": true},
		squirrel.Eq{"sector": sector},
	})
}

func (s *Store) queryLearnings(pred any) ([]types.Learning, error) {
	query := s.sq.
		Select("id", "category", "content", "sector", "confidence", "times_validated", "times_refuted", "active", "created_at").
		From("learnings").
		Where(pred).
		OrderBy("confidence DESC", "id ASC").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	var learnings []types.Learning
	for rows.Next() {
		var learning types.Learning
		var category string
		if err := rows.Scan(&learning.ID, &category, &learning.Content, &learning.Sector,
			&learning.Confidence, &learning.TimesValidated, &learning.TimesRefuted,
			&learning.Active, &learning.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		learning.Category = types.LearningCategory(category)
		learnings = append(learnings, learning)
	}

	return learnings, rows.Err()
}

// InsertReview appends one weekly review. The week-start key makes a
// rerun of the same week a no-op.
func (s *Store) InsertReview(review types.Review) error {
	insert := s.sq.
		Insert("reviews").
		Columns("week_start", "week_end", "total_trades", "winning_trades", "losing_trades",
			"total_pnl", "win_rate", "best_trade_id", "worst_trade_id",
			"patterns", "adjustments", "reflection").
		Values(review.WeekStart, review.WeekEnd, review.TotalTrades, review.WinningTrades,
			review.LosingTrades, review.TotalPnL, review.WinRate,
			review.BestTradeID.TakeOr(""), review.WorstTradeID.TakeOr(""),
			strings.Join(review.PatternsIdentified, "\n"),
			strings.Join(review.StrategyAdjustments, "\n"),
			review.Reflection).
		Suffix(`ON CONFLICT (week_start) DO NOTHING`).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}

	return nil
}

// GetReview returns the review for a given week start, if present.
func (s *Store) GetReview(weekStart time.Time) (optional.Option[types.Review], error) {
	query := s.sq.
		Select("week_start", "week_end", "total_trades", "winning_trades", "losing_trades",
			"total_pnl", "win_rate", "best_trade_id", "worst_trade_id",
			"patterns", "adjustments", "reflection").
		From("reviews").
		Where(squirrel.Eq{"week_start": weekStart}).
		RunWith(s.db)

	var review types.Review
	var best, worst, patterns, adjustments string
	err := query.QueryRow().Scan(&review.WeekStart, &review.WeekEnd, &review.TotalTrades,
		&review.WinningTrades, &review.LosingTrades, &review.TotalPnL, &review.WinRate,
		&best, &worst, &patterns, &adjustments, &review.Reflection)
	if err == sql.ErrNoRows {
		return optional.None[types.Review](), nil
	}
	if err != nil {
		return optional.None[types.Review](), fmt.Errorf("failed to query review: %w", err)
	}

	if best != "" {
		review.BestTradeID = optional.Some(best)
	}
	if worst != "" {
		review.WorstTradeID = optional.Some(worst)
	}
	if patterns != "" {
		review.PatternsIdentified = strings.Split(patterns, "\n")
	}
	if adjustments != "" {
		review.StrategyAdjustments = strings.Split(adjustments, "\n")
	}

	return optional.Some(review), nil
}

// ListReviews returns all weekly reviews, newest first.
func (s *Store) ListReviews() ([]types.Review, error) {
	query := s.sq.
		Select("week_start", "week_end", "total_trades", "winning_trades", "losing_trades",
			"total_pnl", "win_rate", "best_trade_id", "worst_trade_id",
			"patterns", "adjustments", "reflection").
		From("reviews").
		OrderBy("week_start DESC").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []types.Review
	for rows.Next() {
		var review types.Review
		var best, worst, patterns, adjustments string
		if err := rows.Scan(&review.WeekStart, &review.WeekEnd, &review.TotalTrades,
			&review.WinningTrades, &review.LosingTrades, &review.TotalPnL, &review.WinRate,
			&best, &worst, &patterns, &adjustments, &review.Reflection); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		if best != "" {
			review.BestTradeID = optional.Some(best)
		}
		if worst != "" {
			review.WorstTradeID = optional.Some(worst)
		}
		if patterns != "" {
			review.PatternsIdentified = strings.Split(patterns, "\n")
		}
		if adjustments != "" {
			review.StrategyAdjustments = strings.Split(adjustments, "\n")
		}
		reviews = append(reviews, review)
	}

	return reviews, rows.Err()
}

// InsertSkippedIntent records a dropped or clamped intent for audit.
func (s *Store) InsertSkippedIntent(skipped types.SkippedIntent) error {
	insert := s.sq.
		Insert("skipped_intents").
		Columns("ticker", "side", "value", "reason_code", "message", "recorded_at").
		Values(skipped.Ticker, string(skipped.Side), skipped.Value,
			skipped.ReasonCode, skipped.Message, skipped.RecordedAt).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to insert skipped intent: %w", err)
	}

	return nil
}

// ListSkippedIntents returns skip records since a cutoff, newest first.
func (s *Store) ListSkippedIntents(since time.Time) ([]types.SkippedIntent, error) {
	query := s.sq.
		Select("ticker", "side", "value", "reason_code", "message", "recorded_at").
		From("skipped_intents").
		Where(squirrel.GtOrEq{"recorded_at": since}).
		OrderBy("recorded_at DESC").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped intents: %w", err)
	}
	defer rows.Close()

	var skips []types.SkippedIntent
	for rows.Next() {
		var skipped types.SkippedIntent
		var side string
		if err := rows.Scan(&skipped.Ticker, &side, &skipped.Value,
			&skipped.ReasonCode, &skipped.Message, &skipped.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan skipped intent: %w", err)
		}
		skipped.Side = types.TradeSide(side)
		skips = append(skips, skipped)
	}

	return skips, rows.Err()
}

// UpsertSnapshot records the end-of-run portfolio valuation, replacing
// any snapshot already taken the same day.
func (s *Store) UpsertSnapshot(date time.Time, value types.PortfolioValue) error {
	insert := s.sq.
		Insert("portfolio_snapshots").
		Columns("snapshot_date", "cash", "positions_value", "total_value").
		Values(date, value.Cash, value.PositionsValue, value.TotalValue).
		Suffix(`ON CONFLICT (snapshot_date) DO UPDATE SET
			cash = excluded.cash,
			positions_value = excluded.positions_value,
			total_value = excluded.total_value`).
		RunWith(s.db)
	if _, err := insert.Exec(); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (s *Store) ListSnapshots(limit uint64) ([]types.PortfolioValue, []time.Time, error) {
	query := s.sq.
		Select("snapshot_date", "cash", "positions_value", "total_value").
		From("portfolio_snapshots").
		OrderBy("snapshot_date DESC").
		Limit(limit).
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var values []types.PortfolioValue
	var dates []time.Time
	for rows.Next() {
		var value types.PortfolioValue
		var date time.Time
		if err := rows.Scan(&date, &value.Cash, &value.PositionsValue, &value.TotalValue); err != nil {
			return nil, nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		values = append(values, value)
		dates = append(dates, date)
	}

	return values, dates, rows.Err()
}
