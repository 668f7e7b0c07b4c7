package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/jlindberg/omxtrader/internal/impact"
	"github.com/jlindberg/omxtrader/internal/proposal"
	"github.com/jlindberg/omxtrader/internal/types"
)

func testParams() Params {
	return Params{
		MinConfidenceBuy:    55,
		ConfidenceSellFloor: 40,
		MaxPositionFraction: 0.25,
		MinTradeValue:       500,
		LearningPenalty:     10,
		LearningBoost:       5,
		FlipThreshold:       0.2,
		DefaultStopLossPct:  -5,
		DefaultTargetPct:    10,
	}
}

type DecisionTestSuite struct {
	suite.Suite
	engine *Engine
	now    time.Time
}

func TestDecisionSuite(t *testing.T) {
	suite.Run(t, new(DecisionTestSuite))
}

func (suite *DecisionTestSuite) SetupTest() {
	suite.engine = NewEngine(testParams())
	suite.now = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
}

func baseInputs(now time.Time) Inputs {
	return Inputs{
		Exposures: []impact.Exposure{
			{Ticker: "AAA", Sector: "Industrials", Score: 0.8},
			{Ticker: "BBB", Sector: "Health", Score: 0.3},
		},
		Signals: map[string]types.Signal{
			"AAA": {Ticker: "AAA", Technical: 0.5, Fundamental: 0.2},
			"BBB": {Ticker: "BBB", Technical: 0.1, Fundamental: 0.0},
		},
		Cash: 20000,
		Prices: map[string]float64{
			"AAA": 100,
			"BBB": 50,
		},
		Now: now,
	}
}

func (suite *DecisionTestSuite) TestHighConvictionProducesBuy() {
	intents, _ := suite.engine.ProposeIntents(baseInputs(suite.now))

	suite.Require().NotEmpty(intents)
	suite.Equal("AAA", intents[0].Ticker)
	suite.Equal(types.SideBuy, intents[0].Side)
	suite.GreaterOrEqual(intents[0].Confidence, 55.0)
	suite.Equal(-5.0, intents[0].StopLossPct)
	suite.Equal(10.0, intents[0].TargetPct)
}

func (suite *DecisionTestSuite) TestDeterministicAcrossReplays() {
	first, firstSkips := suite.engine.ProposeIntents(baseInputs(suite.now))
	second, secondSkips := suite.engine.ProposeIntents(baseInputs(suite.now))

	suite.Require().Len(second, len(first))
	for i := range first {
		suite.Equal(first[i].Ticker, second[i].Ticker)
		suite.Equal(first[i].Side, second[i].Side)
		suite.Equal(first[i].Confidence, second[i].Confidence)
		suite.Equal(first[i].Shares, second[i].Shares)
		suite.Equal(first[i].Value, second[i].Value)
	}
	suite.Equal(firstSkips, secondSkips)
}

func (suite *DecisionTestSuite) TestBelowThresholdProducesNothing() {
	in := baseInputs(suite.now)
	in.Exposures = []impact.Exposure{{Ticker: "AAA", Sector: "Industrials", Score: -0.1}}
	in.Signals = map[string]types.Signal{}

	intents, _ := suite.engine.ProposeIntents(in)
	suite.Empty(intents)
}

func (suite *DecisionTestSuite) TestCashReservedInConfidenceOrder() {
	in := baseInputs(suite.now)
	// Equal exposure: ties break by ticker, AAA claims cash first.
	in.Exposures = []impact.Exposure{
		{Ticker: "BBB", Sector: "Health", Score: 0.8},
		{Ticker: "AAA", Sector: "Industrials", Score: 0.8},
	}
	in.Signals = map[string]types.Signal{}

	intents, _ := suite.engine.ProposeIntents(in)
	suite.Require().Len(intents, 2)
	suite.Equal("AAA", intents[0].Ticker)
	// The second sizing draws on what is left after the first reserve.
	suite.Less(intents[1].Value, intents[0].Value+0.001)
	suite.LessOrEqual(intents[0].Value+intents[1].Value, in.Cash)
}

func (suite *DecisionTestSuite) TestMistakeLearningLowersConfidence() {
	exposure := impact.Exposure{Ticker: "AAA", Sector: "Industrials", Score: 0.8}
	signal := types.Signal{Technical: 0.5, Fundamental: 0.2}

	unbiased := suite.engine.Confidence(exposure, signal, nil)
	biased := suite.engine.Confidence(exposure, signal, []types.Learning{{
		Category:   types.LearningMistake,
		Sector:     "Industrials",
		Confidence: 80,
		Active:     true,
	}})

	suite.Less(biased, unbiased)
	suite.InDelta(unbiased-8, biased, 1e-9)
}

func (suite *DecisionTestSuite) TestLearningPenaltyIsMonotonic() {
	exposure := impact.Exposure{Ticker: "AAA", Sector: "Industrials", Score: 0.8}
	signal := types.Signal{Technical: 0.5}

	var learnings []types.Learning
	previous := suite.engine.Confidence(exposure, signal, learnings)
	for i := 0; i < 4; i++ {
		learnings = append(learnings, types.Learning{
			Category:   types.LearningMistake,
			Sector:     "Industrials",
			Confidence: 60,
			Active:     true,
		})
		current := suite.engine.Confidence(exposure, signal, learnings)
		suite.Less(current, previous)
		previous = current
	}
}

func (suite *DecisionTestSuite) TestInactiveAndOtherSectorLearningsIgnored() {
	exposure := impact.Exposure{Ticker: "AAA", Sector: "Industrials", Score: 0.8}
	signal := types.Signal{Technical: 0.5}

	unbiased := suite.engine.Confidence(exposure, signal, nil)
	ignored := suite.engine.Confidence(exposure, signal, []types.Learning{
		{Category: types.LearningMistake, Sector: "Industrials", Confidence: 80, Active: false},
		{Category: types.LearningMistake, Sector: "Health", Confidence: 80, Active: true},
	})

	suite.Equal(unbiased, ignored)
}

func (suite *DecisionTestSuite) TestRiskOffSuppressesBuys() {
	in := baseInputs(suite.now)
	in.RiskOff = true

	intents, skips := suite.engine.ProposeIntents(in)
	suite.Empty(intents)
	suite.Require().NotEmpty(skips)
	suite.Equal(types.ReasonRiskOff, skips[0].ReasonCode)
}

func (suite *DecisionTestSuite) TestConfidenceFloorTriggersSell() {
	in := baseInputs(suite.now)
	in.Positions = []types.Position{{
		Ticker: "CCC", Sector: "Energy", Shares: 20, AvgPrice: 40,
		OpenedAt: suite.now.AddDate(0, 0, -5),
	}}
	in.Prices["CCC"] = 38
	in.Exposures = append(in.Exposures, impact.Exposure{Ticker: "CCC", Sector: "Energy", Score: -0.15})
	in.Signals["CCC"] = types.Signal{Technical: -0.8, Fundamental: -0.5}

	intents, _ := suite.engine.ProposeIntents(in)

	var sell *types.TradeIntent
	for i := range intents {
		if intents[i].Side == types.SideSell {
			sell = &intents[i]
		}
	}
	suite.Require().NotNil(sell)
	suite.Equal("CCC", sell.Ticker)
	suite.Equal(types.ReasonConfidenceExit, sell.Reason.Code)
	suite.InDelta(20, sell.Shares, 1e-9)
}

func (suite *DecisionTestSuite) TestExposureFlipTriggersSell() {
	in := baseInputs(suite.now)
	in.Positions = []types.Position{{
		Ticker: "AAA", Sector: "Industrials", Shares: 10, AvgPrice: 90,
		OpenedAt: suite.now.AddDate(0, 0, -5),
	}}
	in.Exposures = []impact.Exposure{{Ticker: "AAA", Sector: "Industrials", Score: -0.5}}
	in.Signals = map[string]types.Signal{"AAA": {Technical: 0.4, Fundamental: 0.4}}

	intents, _ := suite.engine.ProposeIntents(in)

	suite.Require().Len(intents, 1)
	suite.Equal(types.SideSell, intents[0].Side)
	suite.Equal(types.ReasonThesisFlip, intents[0].Reason.Code)
}

func (suite *DecisionTestSuite) TestProposalTextCarriedVerbatim() {
	in := baseInputs(suite.now)
	in.Proposals = []proposal.Proposal{{
		Ticker:     "AAA",
		Action:     proposal.ActionBuy,
		Confidence: 90,
		Reasoning:  "Input costs easing across the board.",
		Hypothesis: "AAA gains 8% within two weeks.",
	}}

	intents, _ := suite.engine.ProposeIntents(in)

	suite.Require().NotEmpty(intents)
	suite.Equal(types.ReasonProposalBuy, intents[0].Reason.Code)
	suite.Equal("Input costs easing across the board.", intents[0].Reasoning)
	suite.Equal("AAA gains 8% within two weeks.", intents[0].Hypothesis)
}

func (suite *DecisionTestSuite) TestMissingPriceRecordsSkip() {
	in := baseInputs(suite.now)
	delete(in.Prices, "AAA")

	intents, skips := suite.engine.ProposeIntents(in)

	for _, intent := range intents {
		suite.NotEqual("AAA", intent.Ticker)
	}
	found := false
	for _, skip := range skips {
		if skip.Ticker == "AAA" && skip.ReasonCode == types.ReasonDataUnavailable {
			found = true
		}
	}
	suite.True(found)
}
