// Package decision turns exposure scores, external signals, learnings
// and the current portfolio into sized trade intents. Scoring is a pure
// function of its inputs: identical inputs produce identical intents.
package decision

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jlindberg/omxtrader/internal/impact"
	"github.com/jlindberg/omxtrader/internal/proposal"
	"github.com/jlindberg/omxtrader/internal/types"
)

// Params are the tunable thresholds of the scoring function.
type Params struct {
	MinConfidenceBuy    float64
	ConfidenceSellFloor float64
	MaxPositionFraction float64
	MinTradeValue       float64
	// LearningPenalty and LearningBoost scale the per-learning
	// confidence adjustment by the learning's own confidence.
	LearningPenalty float64
	LearningBoost   float64
	// FlipThreshold is how far negative an exposure must swing before a
	// held position's thesis counts as flipped.
	FlipThreshold float64
	// DefaultStopLossPct and DefaultTargetPct seed new BUY intents.
	DefaultStopLossPct float64
	DefaultTargetPct   float64
}

// Inputs is everything one decision cycle reads. All fields are
// snapshots; the engine never touches live state.
type Inputs struct {
	Exposures []impact.Exposure
	Signals   map[string]types.Signal
	Positions []types.Position
	Cash      float64
	Prices    map[string]float64
	Learnings []types.Learning
	Proposals []proposal.Proposal
	// RiskOff suppresses discretionary BUYs when the index gate has
	// tripped. Exits still go through.
	RiskOff bool
	Now     time.Time
}

type Engine struct {
	params Params
}

func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// ProposeIntents produces sized BUY and discretionary SELL intents, plus
// the audit records for every candidate it passed on. Candidates are
// processed in confidence order with cash reserved provisionally across
// the batch, so a later candidate never spends money an earlier one
// already claimed.
func (e *Engine) ProposeIntents(in Inputs) ([]types.TradeIntent, []types.SkippedIntent) {
	held := make(map[string]types.Position, len(in.Positions))
	for _, pos := range in.Positions {
		held[pos.Ticker] = pos
	}
	proposals := make(map[string]proposal.Proposal, len(in.Proposals))
	for _, p := range in.Proposals {
		proposals[p.Ticker] = p
	}

	var intents []types.TradeIntent
	var skips []types.SkippedIntent

	sellIntents, sellSkips := e.discretionarySells(in, held, proposals)
	intents = append(intents, sellIntents...)
	skips = append(skips, sellSkips...)

	buyIntents, buySkips := e.buys(in, held, proposals)
	intents = append(intents, buyIntents...)
	skips = append(skips, buySkips...)

	return intents, skips
}

type scoredCandidate struct {
	exposure   impact.Exposure
	confidence float64
	prop       proposal.Proposal
	hasProp    bool
}

func (e *Engine) buys(in Inputs, held map[string]types.Position, proposals map[string]proposal.Proposal) ([]types.TradeIntent, []types.SkippedIntent) {
	var candidates []scoredCandidate
	var skips []types.SkippedIntent

	for _, exposure := range in.Exposures {
		if _, ok := held[exposure.Ticker]; ok {
			continue
		}

		prop, hasProp := proposals[exposure.Ticker]
		if hasProp && prop.Action != proposal.ActionBuy {
			continue
		}

		confidence := e.Confidence(exposure, in.Signals[exposure.Ticker], in.Learnings)
		if hasProp {
			confidence = (confidence + prop.Confidence) / 2
		}
		if confidence < e.params.MinConfidenceBuy {
			continue
		}

		candidates = append(candidates, scoredCandidate{
			exposure:   exposure,
			confidence: confidence,
			prop:       prop,
			hasProp:    hasProp,
		})
	}

	// Highest conviction claims cash first; ties break by ticker so the
	// batch is reproducible.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}

		return candidates[i].exposure.Ticker < candidates[j].exposure.Ticker
	})

	var intents []types.TradeIntent
	available := in.Cash
	for _, c := range candidates {
		ticker := c.exposure.Ticker

		if in.RiskOff {
			skips = append(skips, skip(ticker, types.SideBuy, 0, types.ReasonRiskOff,
				"index risk-off gate active", in.Now))
			continue
		}

		price, ok := in.Prices[ticker]
		if !ok || price <= 0 {
			skips = append(skips, skip(ticker, types.SideBuy, 0, types.ReasonDataUnavailable,
				"no latest price", in.Now))
			continue
		}

		value := min(available, in.Cash*e.params.MaxPositionFraction) * c.confidence / 100
		if value < e.params.MinTradeValue {
			skips = append(skips, skip(ticker, types.SideBuy, value, types.ReasonBelowMinValue,
				fmt.Sprintf("sized value %.2f under minimum", value), in.Now))
			continue
		}

		intent := types.TradeIntent{
			ID:          uuid.New().String(),
			Ticker:      ticker,
			Sector:      c.exposure.Sector,
			Side:        types.SideBuy,
			Shares:      value / price,
			Price:       price,
			Value:       value,
			Confidence:  c.confidence,
			StopLossPct: e.params.DefaultStopLossPct,
			TargetPct:   e.params.DefaultTargetPct,
			Reason: types.Reason{
				Code:    types.ReasonExposureBuy,
				Message: fmt.Sprintf("exposure %.2f, confidence %.1f", c.exposure.Score, c.confidence),
			},
		}
		if c.hasProp {
			intent.Reasoning = c.prop.Reasoning
			intent.Hypothesis = c.prop.Hypothesis
			intent.Reason.Code = types.ReasonProposalBuy
		}

		available -= value
		intents = append(intents, intent)
	}

	return intents, skips
}

func (e *Engine) discretionarySells(in Inputs, held map[string]types.Position, proposals map[string]proposal.Proposal) ([]types.TradeIntent, []types.SkippedIntent) {
	exposureByTicker := make(map[string]impact.Exposure, len(in.Exposures))
	for _, exposure := range in.Exposures {
		exposureByTicker[exposure.Ticker] = exposure
	}

	var intents []types.TradeIntent
	var skips []types.SkippedIntent

	// Walk holdings in ticker order for reproducibility.
	tickers := make([]string, 0, len(held))
	for ticker := range held {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		pos := held[ticker]

		price, ok := in.Prices[ticker]
		if !ok || price <= 0 {
			skips = append(skips, skip(ticker, types.SideSell, 0, types.ReasonDataUnavailable,
				"no latest price for holding", in.Now))
			continue
		}

		exposure, hasExposure := exposureByTicker[ticker]
		confidence := e.Confidence(exposure, in.Signals[ticker], in.Learnings)
		prop, hasProp := proposals[ticker]
		if hasProp && prop.Action == proposal.ActionSell {
			confidence = (confidence + (100 - prop.Confidence)) / 2
		}

		var reason types.Reason
		switch {
		case hasExposure && exposure.Score <= -e.params.FlipThreshold:
			reason = types.Reason{
				Code:    types.ReasonThesisFlip,
				Message: fmt.Sprintf("exposure flipped to %.2f against long thesis", exposure.Score),
			}
		case confidence < e.params.ConfidenceSellFloor:
			reason = types.Reason{
				Code:    types.ReasonConfidenceExit,
				Message: fmt.Sprintf("confidence %.1f under sell floor %.1f", confidence, e.params.ConfidenceSellFloor),
			}
		default:
			continue
		}

		intent := types.TradeIntent{
			ID:         uuid.New().String(),
			Ticker:     ticker,
			Sector:     pos.Sector,
			Side:       types.SideSell,
			Shares:     pos.Shares,
			Price:      price,
			Value:      pos.MarketValue(price),
			Confidence: confidence,
			Reason:     reason,
		}
		if hasProp {
			intent.Reasoning = prop.Reasoning
			intent.Hypothesis = prop.Hypothesis
		}
		intents = append(intents, intent)
	}

	return intents, skips
}

// Confidence blends exposure with external signals into [0,100], then
// applies each matching active learning: mistakes and rules push down,
// patterns push up, each scaled by the learning's own confidence. The
// adjustment is monotonic: adding a matching mistake can only lower the
// result.
func (e *Engine) Confidence(exposure impact.Exposure, signal types.Signal, learnings []types.Learning) float64 {
	confidence := 50 + exposure.Score*25 + signal.Technical*15 + signal.Fundamental*10

	for _, learning := range learnings {
		if !learning.Active || learning.Sector == "" || learning.Sector != exposure.Sector {
			continue
		}

		weight := learning.Confidence / 100
		switch learning.Category {
		case types.LearningMistake, types.LearningRule:
			confidence -= e.params.LearningPenalty * weight
		case types.LearningPattern:
			confidence += e.params.LearningBoost * weight
		}
	}

	switch {
	case confidence > 100:
		return 100
	case confidence < 0:
		return 0
	default:
		return confidence
	}
}

func skip(ticker string, side types.TradeSide, value float64, code, message string, now time.Time) types.SkippedIntent {
	return types.SkippedIntent{
		Ticker:     ticker,
		Side:       side,
		Value:      value,
		ReasonCode: code,
		Message:    message,
		RecordedAt: now,
	}
}
