// Package ledger is the single writer of cash and position state. Every
// Apply is one atomic transaction: debit or credit cash, resize the
// position, append the trade row. Nothing else in the program mutates
// those tables.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

// ReconcileEpsilon is the rounding tolerance, in currency units, for the
// cash-plus-positions reconciliation check.
const ReconcileEpsilon = 0.01

// shareEpsilon absorbs float noise when deciding whether a SELL empties
// a position.
const shareEpsilon = 1e-9

type Ledger struct {
	store        *store.Store
	logger       *logger.Logger
	startingCash float64
	now          func() time.Time
}

func New(s *store.Store, log *logger.Logger, startingCash float64) *Ledger {
	return &Ledger{
		store:        s,
		logger:       log,
		startingCash: startingCash,
		now:          time.Now,
	}
}

// SetClock overrides the ledger clock. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Apply executes one intent atomically. Rejections (insufficient funds,
// oversold position) leave cash and positions untouched. A SELL that
// fully closes a position also patches its entry trades to CLOSED.
func (l *Ledger) Apply(ctx context.Context, intent types.TradeIntent) (types.Trade, error) {
	if err := ctx.Err(); err != nil {
		return types.Trade{}, errors.Wrap(errors.ErrCodeRunDeadline, "run cancelled before apply", err)
	}

	if err := intent.Validate(); err != nil {
		return types.Trade{}, err
	}

	switch intent.Side {
	case types.SideBuy:
		return l.applyBuy(intent)
	case types.SideSell:
		return l.applySell(intent)
	default:
		return types.Trade{}, errors.Newf(errors.ErrCodeInvalidIntent, "unknown trade side %q", intent.Side)
	}
}

func (l *Ledger) applyBuy(intent types.TradeIntent) (types.Trade, error) {
	executedAt := l.now().UTC()

	tx, err := l.store.DB().Begin()
	if err != nil {
		return types.Trade{}, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to begin apply transaction", err)
	}
	defer tx.Rollback()

	cash, err := l.store.GetCash(tx)
	if err != nil {
		return types.Trade{}, err
	}

	// Reject rather than clamp: sizing upstream must already respect
	// cash, so a shortfall here is an invariant failure worth surfacing.
	if intent.Value > cash {
		return types.Trade{}, errors.Newf(errors.ErrCodeInsufficientFunds,
			"buy %s for %.2f exceeds cash %.2f", intent.Ticker, intent.Value, cash)
	}

	pos, err := l.store.GetPosition(intent.Ticker)
	switch {
	case err == nil:
		pos.AvgPrice = weightedAverage(pos.Shares, pos.AvgPrice, intent.Shares, intent.Price)
		pos.Shares += intent.Shares
	case errors.HasCode(err, errors.ErrCodePositionNotFound):
		pos = types.Position{
			Ticker:   intent.Ticker,
			Sector:   intent.Sector,
			Shares:   intent.Shares,
			AvgPrice: intent.Price,
			OpenedAt: executedAt,
		}
	default:
		return types.Trade{}, err
	}

	if err := l.store.UpsertPosition(tx, pos); err != nil {
		return types.Trade{}, err
	}
	if err := l.store.SetCash(tx, roundMoney(cash-intent.Value)); err != nil {
		return types.Trade{}, err
	}

	trade := tradeFromIntent(intent, executedAt)
	if err := l.store.InsertTrade(tx, trade); err != nil {
		return types.Trade{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Trade{}, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to commit buy", err)
	}

	l.logger.Info("applied buy",
		zap.String("ticker", intent.Ticker),
		zap.Float64("shares", intent.Shares),
		zap.Float64("price", intent.Price),
		zap.Float64("value", intent.Value),
	)

	return trade, nil
}

func (l *Ledger) applySell(intent types.TradeIntent) (types.Trade, error) {
	executedAt := l.now().UTC()

	pos, err := l.store.GetPosition(intent.Ticker)
	if err != nil {
		return types.Trade{}, err
	}

	// Reject, never clamp: an oversized SELL is an upstream logic
	// defect, not a legitimate risk adjustment.
	if intent.Shares > pos.Shares+shareEpsilon {
		return types.Trade{}, errors.Newf(errors.ErrCodeOversoldPosition,
			"sell %.4f shares of %s exceeds held %.4f", intent.Shares, intent.Ticker, pos.Shares)
	}

	tx, err := l.store.DB().Begin()
	if err != nil {
		return types.Trade{}, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to begin apply transaction", err)
	}
	defer tx.Rollback()

	cash, err := l.store.GetCash(tx)
	if err != nil {
		return types.Trade{}, err
	}

	realized := realizedPnL(intent.Shares, intent.Price, pos.AvgPrice)
	remaining := pos.Shares - intent.Shares
	fullClose := remaining <= shareEpsilon

	if fullClose {
		if err := l.store.DeletePosition(tx, intent.Ticker); err != nil {
			return types.Trade{}, err
		}
	} else {
		pos.Shares = remaining
		if err := l.store.UpsertPosition(tx, pos); err != nil {
			return types.Trade{}, err
		}
	}

	if err := l.store.SetCash(tx, roundMoney(cash+intent.Value)); err != nil {
		return types.Trade{}, err
	}

	trade := tradeFromIntent(intent, executedAt)
	if err := l.store.InsertTrade(tx, trade); err != nil {
		return types.Trade{}, err
	}

	// A SELL row is terminal from birth.
	if err := l.store.CloseTrade(tx, trade.ID, executedAt, realized, realized > 0); err != nil {
		return types.Trade{}, err
	}

	// A full close also settles the ticker's open entry trades: the one
	// permitted OPEN -> CLOSED transition.
	if fullClose {
		entries, err := l.store.OpenBuyTradesFor(intent.Ticker)
		if err != nil {
			return types.Trade{}, err
		}
		for _, entry := range entries {
			entryPnL := realizedPnL(entry.Shares, intent.Price, entry.Price)
			if err := l.store.CloseTrade(tx, entry.ID, executedAt, entryPnL, entryPnL > 0); err != nil {
				return types.Trade{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Trade{}, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to commit sell", err)
	}

	l.logger.Info("applied sell",
		zap.String("ticker", intent.Ticker),
		zap.Float64("shares", intent.Shares),
		zap.Float64("price", intent.Price),
		zap.Float64("pnl", realized),
		zap.Bool("full_close", fullClose),
		zap.String("reason", intent.Reason.Code),
	)

	return trade, nil
}

// PortfolioValue values the portfolio at the given latest prices.
// Positions without a quote are valued at average cost.
func (l *Ledger) PortfolioValue(latestPrices map[string]float64) (types.PortfolioValue, error) {
	cash, err := l.store.GetCash(nil)
	if err != nil {
		return types.PortfolioValue{}, err
	}

	positions, err := l.store.ListPositions()
	if err != nil {
		return types.PortfolioValue{}, err
	}

	var positionsValue float64
	for _, pos := range positions {
		price, ok := latestPrices[pos.Ticker]
		if !ok {
			price = pos.AvgPrice
		}
		positionsValue += pos.MarketValue(price)
	}

	total := roundMoney(cash + positionsValue)
	pnl := roundMoney(total - l.startingCash)
	value := types.PortfolioValue{
		Cash:           cash,
		PositionsValue: roundMoney(positionsValue),
		TotalValue:     total,
		PnL:            pnl,
	}
	if l.startingCash > 0 {
		value.PnLPct = pnl / l.startingCash * 100
	}

	return value, nil
}

// Reconcile verifies the ledger books: cash is non-negative, and cash
// plus positions at cost equals starting cash plus realized profit
// within epsilon. The identity is price-independent, so a violation is
// always a bookkeeping fault and fatal for the run. Supplied quotes
// only add the current unrealized drift to the audit log; a nil map
// skips that report.
func (l *Ledger) Reconcile(latestPrices map[string]float64) error {
	cash, err := l.store.GetCash(nil)
	if err != nil {
		return err
	}

	if cash < 0 {
		return errors.Newf(errors.ErrCodeLedgerInvariant, "cash balance is negative: %.2f", cash)
	}

	positions, err := l.store.ListPositions()
	if err != nil {
		return err
	}

	var atCost float64
	for _, pos := range positions {
		atCost += pos.Shares * pos.AvgPrice
	}

	realized, err := l.store.RealizedPnL()
	if err != nil {
		return err
	}

	books := cash + atCost
	expected := l.startingCash + realized
	if diff := books - expected; diff > ReconcileEpsilon || diff < -ReconcileEpsilon {
		return errors.Newf(errors.ErrCodeLedgerInvariant,
			"books %.2f diverge from expected %.2f (cash %.2f, cost basis %.2f, realized %.2f)",
			books, expected, cash, atCost, realized)
	}

	if len(latestPrices) > 0 && len(positions) > 0 {
		var atMarket float64
		for _, pos := range positions {
			price, ok := latestPrices[pos.Ticker]
			if !ok || price <= 0 {
				price = pos.AvgPrice
			}
			atMarket += pos.Shares * price
		}
		l.logger.Info("ledger reconciled",
			zap.Float64("cash", cash),
			zap.Float64("cost_basis", atCost),
			zap.Float64("unrealized", roundMoney(atMarket-atCost)),
		)
	}

	return nil
}

func tradeFromIntent(intent types.TradeIntent, executedAt time.Time) types.Trade {
	return types.Trade{
		ID:          intent.ID,
		Ticker:      intent.Ticker,
		Sector:      intent.Sector,
		Side:        intent.Side,
		Shares:      intent.Shares,
		Price:       intent.Price,
		TotalValue:  intent.Value,
		Reasoning:   intent.Reasoning,
		Hypothesis:  intent.Hypothesis,
		Confidence:  intent.Confidence,
		StopLossPct: intent.StopLossPct,
		TargetPct:   intent.TargetPct,
		Reason:      intent.Reason,
		ExecutedAt:  executedAt,
	}
}

// weightedAverage recomputes the volume-weighted average cost exactly.
func weightedAverage(oldShares, oldAvg, newShares, price float64) float64 {
	oldCost := decimal.NewFromFloat(oldShares).Mul(decimal.NewFromFloat(oldAvg))
	newCost := decimal.NewFromFloat(newShares).Mul(decimal.NewFromFloat(price))
	totalShares := decimal.NewFromFloat(oldShares).Add(decimal.NewFromFloat(newShares))

	avg, _ := oldCost.Add(newCost).Div(totalShares).Round(4).Float64()

	return avg
}

func realizedPnL(shares, sellPrice, avgCost float64) float64 {
	pnl, _ := decimal.NewFromFloat(shares).
		Mul(decimal.NewFromFloat(sellPrice).Sub(decimal.NewFromFloat(avgCost))).
		Round(2).
		Float64()

	return pnl
}

func roundMoney(v float64) float64 {
	r, _ := decimal.NewFromFloat(v).Round(2).Float64()

	return r
}
