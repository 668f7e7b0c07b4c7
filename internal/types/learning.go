package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type LearningCategory string

const (
	LearningPattern LearningCategory = "pattern"
	LearningMistake LearningCategory = "mistake"
	LearningInsight LearningCategory = "insight"
	LearningRule    LearningCategory = "rule"
)

// Learning is a persisted, confidence-weighted behavioral rule derived
// from aggregated trade outcomes. Consumed read-only by the decision
// engine as a bias signal.
type Learning struct {
	ID             int64            `yaml:"id" json:"id"`
	Category       LearningCategory `yaml:"category" json:"category"`
	Content        string           `yaml:"content" json:"content"`
	// Sector is the feature the learning keys on; empty for
	// free-text insights that never match candidates mechanically.
	Sector         string    `yaml:"sector" json:"sector"`
	Confidence     float64   `yaml:"confidence" json:"confidence"`
	TimesValidated int       `yaml:"times_validated" json:"times_validated"`
	TimesRefuted   int       `yaml:"times_refuted" json:"times_refuted"`
	Active         bool      `yaml:"active" json:"active"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
}

// TradeOutcome is a periodic checkpoint of an open trade against its
// hypothesis. Unique per (trade, check date), never mutated after insert.
type TradeOutcome struct {
	TradeID           string    `yaml:"trade_id" json:"trade_id"`
	CheckDate         time.Time `yaml:"check_date" json:"check_date"`
	Price             float64   `yaml:"price" json:"price"`
	PnLPct            float64   `yaml:"pnl_pct" json:"pnl_pct"`
	PnLAmount         float64   `yaml:"pnl_amount" json:"pnl_amount"`
	HypothesisCorrect bool      `yaml:"hypothesis_correct" json:"hypothesis_correct"`
	DaysSinceEntry    int       `yaml:"days_since_entry" json:"days_since_entry"`
}

// Review is the weekly aggregate of trading performance. Append-only,
// one per week.
type Review struct {
	WeekStart           time.Time               `yaml:"week_start" json:"week_start"`
	WeekEnd             time.Time               `yaml:"week_end" json:"week_end"`
	TotalTrades         int                     `yaml:"total_trades" json:"total_trades"`
	WinningTrades       int                     `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades        int                     `yaml:"losing_trades" json:"losing_trades"`
	TotalPnL            float64                 `yaml:"total_pnl" json:"total_pnl"`
	WinRate             float64                 `yaml:"win_rate" json:"win_rate"`
	BestTradeID         optional.Option[string] `yaml:"best_trade_id" json:"best_trade_id"`
	WorstTradeID        optional.Option[string] `yaml:"worst_trade_id" json:"worst_trade_id"`
	PatternsIdentified  []string                `yaml:"patterns_identified" json:"patterns_identified"`
	StrategyAdjustments []string                `yaml:"strategy_adjustments" json:"strategy_adjustments"`
	Reflection          string                  `yaml:"reflection" json:"reflection"`
}

// SkippedIntent records an intent that was dropped, clamped away or
// rejected, with its reason code, so reporting can distinguish a
// deliberate pass from a blocked trade.
type SkippedIntent struct {
	Ticker     string    `yaml:"ticker" json:"ticker"`
	Side       TradeSide `yaml:"side" json:"side"`
	Value      float64   `yaml:"value" json:"value"`
	ReasonCode string    `yaml:"reason_code" json:"reason_code"`
	Message    string    `yaml:"message" json:"message"`
	RecordedAt time.Time `yaml:"recorded_at" json:"recorded_at"`
}
