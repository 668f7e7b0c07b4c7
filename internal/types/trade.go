package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/jlindberg/omxtrader/pkg/errors"
)

type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Reason codes attached to intents and skipped-intent records. The
// reporting layer and the learning loop use them to tell "agent chose
// not to trade" apart from "trade was blocked".
const (
	ReasonExposureBuy    string = "exposure_buy"
	ReasonProposalBuy    string = "proposal_buy"
	ReasonConfidenceExit string = "confidence_exit"
	ReasonThesisFlip     string = "thesis_flip"
	ReasonStopLoss       string = "stop_loss"
	ReasonTakeProfit     string = "take_profit"
	ReasonTimeStop       string = "time_stop"

	ReasonClampedPositionCap string = "clamped_position_cap"
	ReasonClampedRunBudget   string = "clamped_run_budget"
	ReasonBelowMinValue      string = "below_min_trade_value"
	ReasonMaxPositions       string = "max_positions_reached"
	ReasonSectorCap          string = "sector_cap_reached"
	ReasonRiskOff            string = "index_risk_off"
	ReasonInsufficientCash   string = "insufficient_cash"
	ReasonRunDeadline        string = "run_deadline"
	ReasonDataUnavailable    string = "data_unavailable"
	ReasonProviderTimeout    string = "provider_timeout"
)

// Reason is a machine-readable code plus a human-readable message.
type Reason struct {
	Code    string `yaml:"code" json:"code" validate:"required"`
	Message string `yaml:"message" json:"message"`
}

// TradeIntent is a sized candidate trade produced by the decision engine
// or the risk manager and applied by the ledger.
type TradeIntent struct {
	ID         string    `yaml:"id" json:"id" validate:"required,uuid"`
	Ticker     string    `yaml:"ticker" json:"ticker" validate:"required"`
	Sector     string    `yaml:"sector" json:"sector"`
	Side       TradeSide `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Shares     float64   `yaml:"shares" json:"shares" validate:"required,gt=0"`
	Price      float64   `yaml:"price" json:"price" validate:"required,gt=0"`
	Value      float64   `yaml:"value" json:"value" validate:"required,gt=0"`
	Confidence float64   `yaml:"confidence" json:"confidence" validate:"gte=0,lte=100"`
	// Reasoning and Hypothesis are opaque text from the rationale
	// service, stored verbatim and never branched on.
	Reasoning  string `yaml:"reasoning" json:"reasoning"`
	Hypothesis string `yaml:"hypothesis" json:"hypothesis"`
	// StopLossPct and TargetPct are signed percentage offsets from the
	// entry price (e.g. -5 and +10).
	StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TargetPct   float64 `yaml:"target_pct" json:"target_pct"`
	// Forced marks risk-manager exits that bypass discretionary logic.
	Forced bool   `yaml:"forced" json:"forced"`
	Reason Reason `yaml:"reason" json:"reason" validate:"required"`
}

// Validate validates the TradeIntent struct.
func (i *TradeIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(i); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidIntent, "invalid trade intent", err)
	}

	return nil
}

// Trade is an immutable ledger entry. The only post-insert transition is
// OPEN -> CLOSED, which sets ClosedAt, PnL and OutcomeCorrect exactly once.
type Trade struct {
	ID          string    `yaml:"id" json:"id"`
	Ticker      string    `yaml:"ticker" json:"ticker"`
	Sector      string    `yaml:"sector" json:"sector"`
	Side        TradeSide `yaml:"side" json:"side"`
	Shares      float64   `yaml:"shares" json:"shares"`
	Price       float64   `yaml:"price" json:"price"`
	TotalValue  float64   `yaml:"total_value" json:"total_value"`
	Reasoning   string    `yaml:"reasoning" json:"reasoning"`
	Hypothesis  string    `yaml:"hypothesis" json:"hypothesis"`
	Confidence  float64   `yaml:"confidence" json:"confidence"`
	StopLossPct float64   `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TargetPct   float64   `yaml:"target_pct" json:"target_pct"`
	Reason      Reason    `yaml:"reason" json:"reason"`
	ExecutedAt  time.Time `yaml:"executed_at" json:"executed_at"`

	ClosedAt       optional.Option[time.Time] `yaml:"closed_at" json:"closed_at"`
	PnL            optional.Option[float64]   `yaml:"pnl" json:"pnl"`
	OutcomeCorrect optional.Option[bool]      `yaml:"outcome_correct" json:"outcome_correct"`
}

// IsOpen reports whether the trade has not reached its terminal state.
func (t *Trade) IsOpen() bool {
	return t.ClosedAt.IsNone()
}

// StopLevel returns the absolute stop-loss price for this entry trade.
func (t *Trade) StopLevel() float64 {
	return t.Price * (1 + t.StopLossPct/100)
}

// TargetLevel returns the absolute take-profit price for this entry trade.
func (t *Trade) TargetLevel() float64 {
	return t.Price * (1 + t.TargetPct/100)
}

// Position is the current holding for one ticker: shares and
// volume-weighted average cost. At most one row per ticker; shares are
// always > 0 (a fully sold position is removed, never zeroed).
type Position struct {
	Ticker   string    `yaml:"ticker" json:"ticker"`
	Sector   string    `yaml:"sector" json:"sector"`
	Shares   float64   `yaml:"shares" json:"shares"`
	AvgPrice float64   `yaml:"avg_price" json:"avg_price"`
	OpenedAt time.Time `yaml:"opened_at" json:"opened_at"`
}

// MarketValue returns the position value at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Shares * price
}

// UnrealizedPnLPct returns the percent gain/loss versus average cost.
func (p *Position) UnrealizedPnLPct(price float64) float64 {
	if p.AvgPrice == 0 {
		return 0
	}

	return (price/p.AvgPrice - 1) * 100
}

// PortfolioValue is the derived valuation of the whole portfolio.
type PortfolioValue struct {
	Cash           float64 `yaml:"cash" json:"cash"`
	PositionsValue float64 `yaml:"positions_value" json:"positions_value"`
	TotalValue     float64 `yaml:"total_value" json:"total_value"`
	PnL            float64 `yaml:"pnl" json:"pnl"`
	PnLPct         float64 `yaml:"pnl_pct" json:"pnl_pct"`
}
