package outcome

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
)

type OutcomeTestSuite struct {
	suite.Suite
	store   *store.Store
	tracker *Tracker
	now     time.Time
}

func TestOutcomeSuite(t *testing.T) {
	suite.Run(t, new(OutcomeTestSuite))
}

func (suite *OutcomeTestSuite) SetupTest() {
	log := logger.NewNopLogger()

	st, err := store.Open(":memory:", log)
	suite.Require().NoError(err)
	suite.Require().NoError(st.Initialize(20000))

	suite.store = st
	suite.tracker = NewTracker(st, log, 3)
	// A Monday.
	suite.now = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func (suite *OutcomeTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

func (suite *OutcomeTestSuite) openTrade(ticker string, price float64, executedAt time.Time) types.Trade {
	trade := types.Trade{
		ID:         uuid.New().String(),
		Ticker:     ticker,
		Sector:     "Industrials",
		Side:       types.SideBuy,
		Shares:     10,
		Price:      price,
		TotalValue: 10 * price,
		Hypothesis: "expected to rise",
		Confidence: 70,
		Reason:     types.Reason{Code: types.ReasonExposureBuy},
		ExecutedAt: executedAt,
	}
	suite.Require().NoError(suite.store.InsertTrade(nil, trade))

	return trade
}

// closedSell inserts a terminal SELL row carrying realized pnl, the
// shape the weekly review aggregates.
func (suite *OutcomeTestSuite) closedSell(sector string, pnl float64, executedAt time.Time) types.Trade {
	trade := types.Trade{
		ID:         uuid.New().String(),
		Ticker:     "T" + uuid.New().String()[:4],
		Sector:     sector,
		Side:       types.SideSell,
		Shares:     10,
		Price:      100,
		TotalValue: 1000,
		Reason:     types.Reason{Code: types.ReasonConfidenceExit},
		ExecutedAt: executedAt,
	}
	suite.Require().NoError(suite.store.InsertTrade(nil, trade))
	suite.Require().NoError(suite.store.CloseTrade(nil, trade.ID, executedAt, pnl, pnl > 0))

	return trade
}

func (suite *OutcomeTestSuite) TestEvaluateCheckpointsMatureTrades() {
	mature := suite.openTrade("AAA", 100, suite.now.AddDate(0, 0, -5))
	fresh := suite.openTrade("BBB", 50, suite.now.AddDate(0, 0, -1))

	outcomes, err := suite.tracker.Evaluate(
		[]types.Trade{mature, fresh},
		map[string]float64{"AAA": 104, "BBB": 55},
		suite.now,
	)
	suite.Require().NoError(err)

	suite.Require().Len(outcomes, 1)
	suite.Equal(mature.ID, outcomes[0].TradeID)
	suite.InDelta(4, outcomes[0].PnLPct, 1e-9)
	suite.InDelta(40, outcomes[0].PnLAmount, 1e-9)
	suite.True(outcomes[0].HypothesisCorrect)
	suite.Equal(5, outcomes[0].DaysSinceEntry)
}

func (suite *OutcomeTestSuite) TestEvaluateRerunSameDayIsNoOp() {
	mature := suite.openTrade("AAA", 100, suite.now.AddDate(0, 0, -5))
	prices := map[string]float64{"AAA": 104}

	_, err := suite.tracker.Evaluate([]types.Trade{mature}, prices, suite.now)
	suite.Require().NoError(err)
	_, err = suite.tracker.Evaluate([]types.Trade{mature}, prices, suite.now)
	suite.Require().NoError(err)

	latest, err := suite.store.LatestOutcome(mature.ID)
	suite.Require().NoError(err)
	suite.True(latest.IsSome())
}

func (suite *OutcomeTestSuite) TestEvaluateDoesNotMutateTrade() {
	mature := suite.openTrade("AAA", 100, suite.now.AddDate(0, 0, -5))

	_, err := suite.tracker.Evaluate([]types.Trade{mature}, map[string]float64{"AAA": 90}, suite.now)
	suite.Require().NoError(err)

	reloaded, err := suite.store.GetTrade(mature.ID)
	suite.Require().NoError(err)
	suite.True(reloaded.IsOpen())
}

func (suite *OutcomeTestSuite) TestWeeklyReviewWinRate() {
	weekStart := suite.now.AddDate(0, 0, -7)
	for i := 0; i < 6; i++ {
		suite.closedSell("Health", 100, weekStart.AddDate(0, 0, i%5).Add(10*time.Hour))
	}
	for i := 0; i < 4; i++ {
		suite.closedSell("Misc"+string(rune('A'+i)), -50, weekStart.AddDate(0, 0, i).Add(11*time.Hour))
	}

	review, err := suite.tracker.RunWeeklyReview(weekStart)
	suite.Require().NoError(err)

	suite.Equal(10, review.TotalTrades)
	suite.Equal(6, review.WinningTrades)
	suite.Equal(4, review.LosingTrades)
	suite.Equal(60.0, review.WinRate)
	suite.InDelta(400, review.TotalPnL, 0.001)
	suite.True(review.BestTradeID.IsSome())
	suite.True(review.WorstTradeID.IsSome())
}

func (suite *OutcomeTestSuite) TestThreeSectorLosersProduceMistakeLearning() {
	weekStart := suite.now.AddDate(0, 0, -7)
	for i := 0; i < 3; i++ {
		suite.closedSell("Energy", -80, weekStart.AddDate(0, 0, i).Add(10*time.Hour))
	}

	review, err := suite.tracker.RunWeeklyReview(weekStart)
	suite.Require().NoError(err)
	suite.NotEmpty(review.PatternsIdentified)

	learnings, err := suite.store.ActiveLearningsForSector("Energy")
	suite.Require().NoError(err)
	suite.Require().Len(learnings, 1)
	suite.Equal(types.LearningMistake, learnings[0].Category)
	suite.Equal(1, learnings[0].TimesValidated)
}

func (suite *OutcomeTestSuite) TestContentMatchIncrementsValidation() {
	week1 := suite.now.AddDate(0, 0, -14)
	week2 := suite.now.AddDate(0, 0, -7)
	for i := 0; i < 3; i++ {
		suite.closedSell("Energy", -80, week1.AddDate(0, 0, i).Add(10*time.Hour))
		suite.closedSell("Energy", -60, week2.AddDate(0, 0, i).Add(10*time.Hour))
	}

	_, err := suite.tracker.RunWeeklyReview(week1)
	suite.Require().NoError(err)
	_, err = suite.tracker.RunWeeklyReview(week2)
	suite.Require().NoError(err)

	learnings, err := suite.store.ActiveLearningsForSector("Energy")
	suite.Require().NoError(err)
	suite.Require().Len(learnings, 1)
	suite.Equal(2, learnings[0].TimesValidated)
}

func (suite *OutcomeTestSuite) TestContradictoryWeekRecordsRefutation() {
	week1 := suite.now.AddDate(0, 0, -14)
	week2 := suite.now.AddDate(0, 0, -7)
	for i := 0; i < 3; i++ {
		suite.closedSell("Energy", -80, week1.AddDate(0, 0, i).Add(10*time.Hour))
	}
	// The next week Energy is net winning, contradicting the mistake.
	suite.closedSell("Energy", 90, week2.Add(10*time.Hour))
	suite.closedSell("Energy", 70, week2.AddDate(0, 0, 1).Add(10*time.Hour))

	_, err := suite.tracker.RunWeeklyReview(week1)
	suite.Require().NoError(err)
	_, err = suite.tracker.RunWeeklyReview(week2)
	suite.Require().NoError(err)

	learnings, err := suite.store.ActiveLearningsForSector("Energy")
	suite.Require().NoError(err)
	suite.Require().Len(learnings, 1)
	suite.Equal(1, learnings[0].TimesValidated)
	suite.Equal(1, learnings[0].TimesRefuted)
	suite.InDelta(60, learnings[0].Confidence, 1e-9)
}

func (suite *OutcomeTestSuite) TestRepeatedRefutationsDeactivateLearning() {
	weeks := []time.Time{
		suite.now.AddDate(0, 0, -35),
		suite.now.AddDate(0, 0, -28),
		suite.now.AddDate(0, 0, -21),
		suite.now.AddDate(0, 0, -14),
		suite.now.AddDate(0, 0, -7),
	}

	for i := 0; i < 3; i++ {
		suite.closedSell("Energy", -80, weeks[0].AddDate(0, 0, i).Add(10*time.Hour))
	}
	for _, week := range weeks[1:] {
		suite.closedSell("Energy", 90, week.Add(10*time.Hour))
		suite.closedSell("Energy", 70, week.AddDate(0, 0, 1).Add(10*time.Hour))
	}

	for _, week := range weeks[:4] {
		_, err := suite.tracker.RunWeeklyReview(week)
		suite.Require().NoError(err)
	}

	// Three refutations against one validation is still under the
	// five-sample floor.
	learnings, err := suite.store.ActiveLearningsForSector("Energy")
	suite.Require().NoError(err)
	suite.Require().Len(learnings, 1)
	suite.Equal(3, learnings[0].TimesRefuted)

	// The fourth contradictory week crosses it and retires the learning.
	_, err = suite.tracker.RunWeeklyReview(weeks[4])
	suite.Require().NoError(err)

	learnings, err = suite.store.ActiveLearningsForSector("Energy")
	suite.Require().NoError(err)
	suite.Empty(learnings)
}

func (suite *OutcomeTestSuite) TestStaleLearningDeactivated() {
	_, err := suite.store.InsertLearning(types.Learning{
		Category:       types.LearningMistake,
		Content:        "Repeated losses clustered in sector Telecom",
		Sector:         "Telecom",
		Confidence:     60,
		TimesValidated: 1,
		TimesRefuted:   5,
		Active:         true,
		CreatedAt:      suite.now.AddDate(0, 0, -60),
	})
	suite.Require().NoError(err)

	_, err = suite.tracker.RunWeeklyReview(suite.now.AddDate(0, 0, -7))
	suite.Require().NoError(err)

	learnings, err := suite.store.ActiveLearningsForSector("Telecom")
	suite.Require().NoError(err)
	suite.Empty(learnings)
}

func (suite *OutcomeTestSuite) TestEmptyWeekStillRecordsReview() {
	review, err := suite.tracker.RunWeeklyReview(suite.now.AddDate(0, 0, -7))
	suite.Require().NoError(err)
	suite.Equal(0, review.TotalTrades)
	suite.NotEmpty(review.Reflection)

	stored, err := suite.store.GetReview(suite.now.AddDate(0, 0, -7))
	suite.Require().NoError(err)
	suite.True(stored.IsSome())
}
