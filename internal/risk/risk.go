// Package risk enforces position limits on proposed intents and scans
// open positions for stop, target, trailing-stop and time-stop breaches.
package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
)

// Limits carries the risk configuration for one run.
type Limits struct {
	MaxPositionFraction float64
	MaxOpenPositions    int
	MaxPerSector        int
	MinTradeValue       float64
	RunBudgetFraction   float64
	TrailingActivatePct float64
	TrailingStopPct     float64
	TimeStopDays        int
	TimeStopMinPct      float64
}

type Manager struct {
	store  *store.Store
	logger *logger.Logger
	limits Limits
}

func NewManager(s *store.Store, log *logger.Logger, limits Limits) *Manager {
	return &Manager{store: s, logger: log, limits: limits}
}

// ScanBreaches walks every open position's entry trades against the
// latest prices and emits a forced full-position SELL for the first
// breached level. Stop and target comparisons are inclusive. A position
// up more than the trailing activation threshold first has its stop
// tightened to lock in gains.
func (m *Manager) ScanBreaches(positions []types.Position, entries []types.Trade, prices map[string]float64, now time.Time) []types.TradeIntent {
	entriesByTicker := make(map[string][]types.Trade)
	for _, entry := range entries {
		entriesByTicker[entry.Ticker] = append(entriesByTicker[entry.Ticker], entry)
	}

	var intents []types.TradeIntent
	for _, pos := range positions {
		price, ok := prices[pos.Ticker]
		if !ok {
			m.logger.Warn("no price for open position, skipping breach scan",
				zap.String("ticker", pos.Ticker))
			continue
		}

		reason := m.scanPosition(pos, entriesByTicker[pos.Ticker], price, now)
		if reason == nil {
			continue
		}

		intents = append(intents, types.TradeIntent{
			ID:         uuid.New().String(),
			Ticker:     pos.Ticker,
			Sector:     pos.Sector,
			Side:       types.SideSell,
			Shares:     pos.Shares,
			Price:      price,
			Value:      pos.MarketValue(price),
			Confidence: 100,
			Forced:     true,
			Reason:     *reason,
		})

		m.logger.Info("risk breach, forcing exit",
			zap.String("ticker", pos.Ticker),
			zap.String("reason", reason.Code),
			zap.Float64("price", price),
		)
	}

	return intents
}

func (m *Manager) scanPosition(pos types.Position, entries []types.Trade, price float64, now time.Time) *types.Reason {
	pnlPct := pos.UnrealizedPnLPct(price)

	for i := range entries {
		if m.maybeTightenStop(entries[i], pnlPct) {
			entries[i].StopLossPct = m.limits.TrailingStopPct
		}
	}

	// Levels are checked after tightening so a fresh trailing stop can
	// trigger in the same scan.
	for i := range entries {
		entry := &entries[i]
		if entry.StopLossPct != 0 && price <= entry.StopLevel() {
			return &types.Reason{
				Code:    types.ReasonStopLoss,
				Message: fmt.Sprintf("price %.2f at or below stop %.2f", price, entry.StopLevel()),
			}
		}
		if entry.TargetPct != 0 && price >= entry.TargetLevel() {
			return &types.Reason{
				Code:    types.ReasonTakeProfit,
				Message: fmt.Sprintf("price %.2f at or above target %.2f", price, entry.TargetLevel()),
			}
		}
	}

	if m.limits.TimeStopDays > 0 {
		held := now.Sub(pos.OpenedAt)
		if held >= time.Duration(m.limits.TimeStopDays)*24*time.Hour && pnlPct < m.limits.TimeStopMinPct {
			return &types.Reason{
				Code:    types.ReasonTimeStop,
				Message: fmt.Sprintf("held %d days with pnl %.1f%% under %.1f%%", int(held.Hours()/24), pnlPct, m.limits.TimeStopMinPct),
			}
		}
	}

	return nil
}

// maybeTightenStop raises an entry's stored stop to a small positive
// offset once the position has run past the activation threshold, so a
// winner cannot round-trip back to a loss.
func (m *Manager) maybeTightenStop(entry types.Trade, pnlPct float64) bool {
	if m.limits.TrailingActivatePct <= 0 || pnlPct < m.limits.TrailingActivatePct {
		return false
	}
	if entry.StopLossPct >= m.limits.TrailingStopPct {
		return false
	}

	if err := m.store.UpdateTradeStop(entry.ID, m.limits.TrailingStopPct); err != nil {
		m.logger.Error("failed to tighten trailing stop", zap.String("trade_id", entry.ID), zap.Error(err))

		return false
	}

	m.logger.Info("trailing stop tightened",
		zap.String("ticker", entry.Ticker),
		zap.Float64("pnl_pct", pnlPct),
		zap.Float64("new_stop_pct", m.limits.TrailingStopPct),
	)

	return true
}

// Validate clamps each intent to the per-ticker cap, the open-position
// count, the sector cap and the per-run deployment budget. Intents that
// clamp below the minimum trade value are dropped with a recorded
// reason. Forced exits pass through untouched.
func (m *Manager) Validate(intents []types.TradeIntent, cash float64, positions []types.Position, prices map[string]float64, now time.Time) []types.TradeIntent {
	var positionsValue float64
	openBySector := make(map[string]int)
	valueByTicker := make(map[string]float64)
	for _, pos := range positions {
		price, ok := prices[pos.Ticker]
		if !ok {
			price = pos.AvgPrice
		}
		positionsValue += pos.MarketValue(price)
		openBySector[pos.Sector]++
		valueByTicker[pos.Ticker] = pos.MarketValue(price)
	}

	totalValue := cash + positionsValue
	perTickerCap := totalValue * m.limits.MaxPositionFraction
	runBudget := cash * m.limits.RunBudgetFraction
	openCount := len(positions)
	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.Ticker] = true
	}

	var accepted []types.TradeIntent
	var deployed float64
	for _, intent := range intents {
		if intent.Forced || intent.Side == types.SideSell {
			accepted = append(accepted, intent)
			continue
		}

		if !held[intent.Ticker] && openCount >= m.limits.MaxOpenPositions {
			m.recordSkip(intent, types.ReasonMaxPositions, now)
			continue
		}
		if m.limits.MaxPerSector > 0 && !held[intent.Ticker] && openBySector[intent.Sector] >= m.limits.MaxPerSector {
			m.recordSkip(intent, types.ReasonSectorCap, now)
			continue
		}

		value := intent.Value
		reason := ""
		if room := perTickerCap - valueByTicker[intent.Ticker]; value > room {
			value = room
			reason = types.ReasonClampedPositionCap
		}
		if remaining := runBudget - deployed; value > remaining {
			value = remaining
			reason = types.ReasonClampedRunBudget
		}
		if remaining := cash - deployed; value > remaining {
			value = remaining
			reason = types.ReasonInsufficientCash
		}

		if value < m.limits.MinTradeValue {
			code := types.ReasonBelowMinValue
			if reason == types.ReasonInsufficientCash {
				code = types.ReasonInsufficientCash
			}
			m.recordSkip(intent, code, now)
			continue
		}

		if value < intent.Value {
			intent.Shares = value / intent.Price
			intent.Value = value
			m.logger.Info("intent clamped",
				zap.String("ticker", intent.Ticker),
				zap.String("reason", reason),
				zap.Float64("value", value),
			)
		}

		deployed += intent.Value
		if !held[intent.Ticker] {
			openCount++
			openBySector[intent.Sector]++
			held[intent.Ticker] = true
		}
		valueByTicker[intent.Ticker] += intent.Value
		accepted = append(accepted, intent)
	}

	return accepted
}

func (m *Manager) recordSkip(intent types.TradeIntent, code string, now time.Time) {
	m.logger.Info("intent dropped",
		zap.String("ticker", intent.Ticker),
		zap.String("reason", code),
		zap.Float64("value", intent.Value),
	)

	skip := types.SkippedIntent{
		Ticker:     intent.Ticker,
		Side:       intent.Side,
		Value:      intent.Value,
		ReasonCode: code,
		Message:    intent.Reason.Message,
		RecordedAt: now,
	}
	if err := m.store.InsertSkippedIntent(skip); err != nil {
		m.logger.Error("failed to record skipped intent", zap.Error(err))
	}
}
