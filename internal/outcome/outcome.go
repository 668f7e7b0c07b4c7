// Package outcome checkpoints open trades against their hypotheses and
// runs the weekly review that feeds the learning store.
package outcome

import (
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
)

// clusterThreshold is how many losers (or winners) must share a sector
// in one week before it becomes a learning.
const clusterThreshold = 3

// deactivateFloor is the validation rate under which a learning with
// enough samples is switched off.
const deactivateFloor = 0.4
const deactivateMinSamples = 5

type Tracker struct {
	store    *store.Store
	logger   *logger.Logger
	evalDays int
}

func NewTracker(s *store.Store, log *logger.Logger, evalDays int) *Tracker {
	return &Tracker{store: s, logger: log, evalDays: evalDays}
}

// Evaluate writes one checkpoint per open trade at least evalDays old.
// hypothesis_correct is the pnl sign matching the trade's direction; a
// long entry expects the price up. Trades themselves are never mutated
// here.
func (t *Tracker) Evaluate(openTrades []types.Trade, prices map[string]float64, now time.Time) ([]types.TradeOutcome, error) {
	var outcomes []types.TradeOutcome
	for _, trade := range openTrades {
		days := int(now.Sub(trade.ExecutedAt).Hours() / 24)
		if days < t.evalDays {
			continue
		}

		price, ok := prices[trade.Ticker]
		if !ok || price <= 0 {
			t.logger.Warn("no price for outcome checkpoint", zap.String("ticker", trade.Ticker))
			continue
		}

		pnlPct := (price/trade.Price - 1) * 100
		outcome := types.TradeOutcome{
			TradeID:           trade.ID,
			CheckDate:         now.Truncate(24 * time.Hour),
			Price:             price,
			PnLPct:            pnlPct,
			PnLAmount:         trade.Shares * (price - trade.Price),
			HypothesisCorrect: pnlPct > 0,
			DaysSinceEntry:    days,
		}
		if err := t.store.InsertTradeOutcome(outcome); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// RunWeeklyReview aggregates the week's trades, derives sector-clustered
// learnings and persists the review. A rerun of an already reviewed
// week is a no-op at the store.
func (t *Tracker) RunWeeklyReview(weekStart time.Time) (types.Review, error) {
	weekStart = weekStart.Truncate(24 * time.Hour)
	weekEnd := weekStart.AddDate(0, 0, 7)

	trades, err := t.store.ClosedTradesBetween(weekStart, weekEnd)
	if err != nil {
		return types.Review{}, err
	}

	review := types.Review{
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
	}

	// Only SELL rows carry realized pnl; closed BUY entries mirror it
	// for display and would double count here.
	var scored []types.Trade
	for _, trade := range trades {
		if trade.Side == types.SideSell && trade.PnL.IsSome() {
			scored = append(scored, trade)
		}
	}

	review.TotalTrades = len(scored)
	for _, trade := range scored {
		pnl := trade.PnL.TakeOr(0)
		review.TotalPnL += pnl
		if pnl > 0 {
			review.WinningTrades++
		} else {
			review.LosingTrades++
		}
	}
	if review.TotalTrades > 0 {
		review.WinRate = float64(review.WinningTrades) / float64(review.TotalTrades) * 100
	}

	if best, worst := bestAndWorst(scored); best != "" {
		review.BestTradeID = optional.Some(best)
		review.WorstTradeID = optional.Some(worst)
	}

	review.PatternsIdentified, review.StrategyAdjustments = t.clusterPatterns(scored)
	review.Reflection = reflect(review)

	if err := t.updateLearnings(scored); err != nil {
		return types.Review{}, err
	}
	if err := t.refuteLearnings(scored); err != nil {
		return types.Review{}, err
	}
	if err := t.deactivateStale(); err != nil {
		return types.Review{}, err
	}
	if err := t.store.InsertReview(review); err != nil {
		return types.Review{}, err
	}

	t.logger.Info("weekly review complete",
		zap.Time("week_start", weekStart),
		zap.Int("trades", review.TotalTrades),
		zap.Float64("win_rate", review.WinRate),
		zap.Float64("total_pnl", review.TotalPnL),
	)

	return review, nil
}

func bestAndWorst(trades []types.Trade) (string, string) {
	if len(trades) == 0 {
		return "", ""
	}

	best, worst := trades[0], trades[0]
	for _, trade := range trades[1:] {
		if trade.PnL.TakeOr(0) > best.PnL.TakeOr(0) {
			best = trade
		}
		if trade.PnL.TakeOr(0) < worst.PnL.TakeOr(0) {
			worst = trade
		}
	}

	return best.ID, worst.ID
}

// tallyBySector splits the week's scored trades into winner and loser
// counts keyed by sector. Sector-less rows are ignored.
func tallyBySector(trades []types.Trade) (winners, losers map[string]int) {
	winners = make(map[string]int)
	losers = make(map[string]int)
	for _, trade := range trades {
		if trade.Sector == "" {
			continue
		}
		if trade.PnL.TakeOr(0) > 0 {
			winners[trade.Sector]++
		} else {
			losers[trade.Sector]++
		}
	}

	return winners, losers
}

// clusterPatterns applies the frequency heuristic: a sector recurring in
// enough losers is a pattern worth flagging, same for winners.
func (t *Tracker) clusterPatterns(trades []types.Trade) (patterns, adjustments []string) {
	winnersBySector, losersBySector := tallyBySector(trades)

	for _, sector := range sortedKeys(losersBySector) {
		if n := losersBySector[sector]; n >= clusterThreshold {
			patterns = append(patterns, fmt.Sprintf("%d losing trades in %s this week", n, sector))
			adjustments = append(adjustments, fmt.Sprintf("reduce conviction on %s entries", sector))
		}
	}
	for _, sector := range sortedKeys(winnersBySector) {
		if n := winnersBySector[sector]; n >= clusterThreshold {
			patterns = append(patterns, fmt.Sprintf("%d winning trades in %s this week", n, sector))
		}
	}

	return patterns, adjustments
}

// updateLearnings upserts one learning per clustered sector: a content
// match on an active learning increments times_validated, otherwise a
// new row is inserted with confidence derived from the sample size.
func (t *Tracker) updateLearnings(trades []types.Trade) error {
	winnersBySector, losersBySector := tallyBySector(trades)

	for _, sector := range sortedKeys(losersBySector) {
		if losersBySector[sector] < clusterThreshold {
			continue
		}
		content := fmt.Sprintf("Repeated losses clustered in sector %s", sector)
		if err := t.upsertLearning(types.LearningMistake, content, sector, losersBySector[sector]); err != nil {
			return err
		}
	}
	for _, sector := range sortedKeys(winnersBySector) {
		if winnersBySector[sector] < clusterThreshold {
			continue
		}
		content := fmt.Sprintf("Repeated wins clustered in sector %s", sector)
		if err := t.upsertLearning(types.LearningPattern, content, sector, winnersBySector[sector]); err != nil {
			return err
		}
	}

	return nil
}

func (t *Tracker) upsertLearning(category types.LearningCategory, content, sector string, samples int) error {
	existing, err := t.store.ActiveLearningsForSector(sector)
	if err != nil {
		return err
	}

	for _, learning := range existing {
		if learning.Content != content {
			continue
		}
		learning.TimesValidated++
		learning.Confidence = confidenceFromSamples(learning.TimesValidated + samples)

		return t.store.UpdateLearning(learning)
	}

	_, err = t.store.InsertLearning(types.Learning{
		Category:       category,
		Content:        content,
		Sector:         sector,
		Confidence:     confidenceFromSamples(samples),
		TimesValidated: 1,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})

	return err
}

// refuteLearnings marks active learnings contradicted by the week's
// evidence: a mistake or rule for a sector whose trades were net
// winners this week, or a pattern or insight for a sector that was net
// losing. Each contradiction bumps times_refuted and drains
// confidence; deactivateStale retires the learning once the rate stays
// poor over enough samples.
func (t *Tracker) refuteLearnings(trades []types.Trade) error {
	winnersBySector, losersBySector := tallyBySector(trades)

	sectors := make(map[string]bool, len(winnersBySector)+len(losersBySector))
	for sector := range winnersBySector {
		sectors[sector] = true
	}
	for sector := range losersBySector {
		sectors[sector] = true
	}

	for _, sector := range sortedKeys(sectors) {
		learnings, err := t.store.ActiveLearningsForSector(sector)
		if err != nil {
			return err
		}

		for _, learning := range learnings {
			var contradicted bool
			switch learning.Category {
			case types.LearningMistake, types.LearningRule:
				contradicted = winnersBySector[sector] > losersBySector[sector]
			case types.LearningPattern, types.LearningInsight:
				contradicted = losersBySector[sector] > winnersBySector[sector]
			}
			if !contradicted {
				continue
			}

			learning.TimesRefuted++
			learning.Confidence -= 10
			if learning.Confidence < 10 {
				learning.Confidence = 10
			}
			if err := t.store.UpdateLearning(learning); err != nil {
				return err
			}
			t.logger.Info("learning refuted by weekly evidence",
				zap.Int64("id", learning.ID),
				zap.String("sector", sector),
				zap.Int("times_refuted", learning.TimesRefuted),
			)
		}
	}

	return nil
}

// deactivateStale switches off learnings whose validation rate has
// fallen under the floor once enough samples exist.
func (t *Tracker) deactivateStale() error {
	learnings, err := t.store.ActiveLearnings()
	if err != nil {
		return err
	}

	for _, learning := range learnings {
		total := learning.TimesValidated + learning.TimesRefuted
		if total < deactivateMinSamples {
			continue
		}
		if rate := float64(learning.TimesValidated) / float64(total); rate >= deactivateFloor {
			continue
		}

		learning.Active = false
		if err := t.store.UpdateLearning(learning); err != nil {
			return err
		}
		t.logger.Info("learning deactivated",
			zap.Int64("id", learning.ID),
			zap.String("content", learning.Content),
		)
	}

	return nil
}

func confidenceFromSamples(samples int) float64 {
	confidence := 40 + float64(samples)*10
	if confidence > 90 {
		confidence = 90
	}

	return confidence
}

func reflect(review types.Review) string {
	if review.TotalTrades == 0 {
		return "No closed trades this week; thesis checkpoints only."
	}

	return fmt.Sprintf("Closed %d trades, %d winners (%.1f%% win rate), net %.2f. %d patterns flagged.",
		review.TotalTrades, review.WinningTrades, review.WinRate, review.TotalPnL, len(review.PatternsIdentified))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
