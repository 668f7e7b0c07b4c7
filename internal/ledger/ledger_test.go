package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

const startingCash = 20000.0

type LedgerTestSuite struct {
	suite.Suite
	store  *store.Store
	ledger *Ledger
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	log := logger.NewNopLogger()

	st, err := store.Open(":memory:", log)
	suite.Require().NoError(err)
	suite.Require().NoError(st.Initialize(startingCash))

	suite.store = st
	suite.ledger = New(st, log, startingCash)
}

func (suite *LedgerTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

func buyIntent(ticker string, shares, price float64) types.TradeIntent {
	return types.TradeIntent{
		ID:          uuid.New().String(),
		Ticker:      ticker,
		Sector:      "Industrials",
		Side:        types.SideBuy,
		Shares:      shares,
		Price:       price,
		Value:       shares * price,
		Confidence:  70,
		StopLossPct: -5,
		TargetPct:   8,
		Reason:      types.Reason{Code: types.ReasonExposureBuy},
	}
}

func sellIntent(ticker string, shares, price float64, code string) types.TradeIntent {
	return types.TradeIntent{
		ID:         uuid.New().String(),
		Ticker:     ticker,
		Sector:     "Industrials",
		Side:       types.SideSell,
		Shares:     shares,
		Price:      price,
		Value:      shares * price,
		Confidence: 100,
		Forced:     true,
		Reason:     types.Reason{Code: code},
	}
}

func (suite *LedgerTestSuite) TestBuyDebitsCashAndOpensPosition() {
	trade, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 50, 100))
	suite.Require().NoError(err)
	suite.Equal(types.SideBuy, trade.Side)
	suite.True(trade.IsOpen())

	cash, err := suite.store.GetCash(nil)
	suite.Require().NoError(err)
	suite.InDelta(15000, cash, 0.001)

	pos, err := suite.store.GetPosition("AAA")
	suite.Require().NoError(err)
	suite.InDelta(50, pos.Shares, 1e-9)
	suite.InDelta(100, pos.AvgPrice, 1e-9)
}

func (suite *LedgerTestSuite) TestWeightedAverageIsExact() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 10, 100))
	suite.Require().NoError(err)
	_, err = suite.ledger.Apply(context.Background(), buyIntent("AAA", 10, 120))
	suite.Require().NoError(err)

	pos, err := suite.store.GetPosition("AAA")
	suite.Require().NoError(err)
	suite.Equal(110.00, pos.AvgPrice)
	suite.InDelta(20, pos.Shares, 1e-9)
}

func (suite *LedgerTestSuite) TestBuyExceedingCashIsRejected() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 300, 100))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientFunds))

	// Nothing moved.
	cash, err := suite.store.GetCash(nil)
	suite.Require().NoError(err)
	suite.InDelta(startingCash, cash, 0.001)

	_, err = suite.store.GetPosition("AAA")
	suite.True(errors.HasCode(err, errors.ErrCodePositionNotFound))
}

func (suite *LedgerTestSuite) TestOversoldIsRejectedWithoutMutation() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 10, 100))
	suite.Require().NoError(err)

	_, err = suite.ledger.Apply(context.Background(), sellIntent("AAA", 20, 110, types.ReasonStopLoss))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOversoldPosition))

	cash, err := suite.store.GetCash(nil)
	suite.Require().NoError(err)
	suite.InDelta(19000, cash, 0.001)

	pos, err := suite.store.GetPosition("AAA")
	suite.Require().NoError(err)
	suite.InDelta(10, pos.Shares, 1e-9)
}

func (suite *LedgerTestSuite) TestSellWithoutPositionIsRejected() {
	_, err := suite.ledger.Apply(context.Background(), sellIntent("ZZZ", 5, 50, types.ReasonStopLoss))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodePositionNotFound))
}

func (suite *LedgerTestSuite) TestPartialSellKeepsAverage() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 20, 100))
	suite.Require().NoError(err)

	_, err = suite.ledger.Apply(context.Background(), sellIntent("AAA", 5, 110, types.ReasonConfidenceExit))
	suite.Require().NoError(err)

	pos, err := suite.store.GetPosition("AAA")
	suite.Require().NoError(err)
	suite.InDelta(15, pos.Shares, 1e-9)
	suite.InDelta(100, pos.AvgPrice, 1e-9)

	// Entry trade stays open after a partial sell.
	entries, err := suite.store.OpenBuyTradesFor("AAA")
	suite.Require().NoError(err)
	suite.Len(entries, 1)
}

func (suite *LedgerTestSuite) TestTargetExitScenario() {
	// cash 20000, BUY 50 @ 100, then target exit at 110.
	entry, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 50, 100))
	suite.Require().NoError(err)

	cash, err := suite.store.GetCash(nil)
	suite.Require().NoError(err)
	suite.InDelta(15000, cash, 0.001)

	_, err = suite.ledger.Apply(context.Background(), sellIntent("AAA", 50, 110, types.ReasonTakeProfit))
	suite.Require().NoError(err)

	cash, err = suite.store.GetCash(nil)
	suite.Require().NoError(err)
	suite.InDelta(20500, cash, 0.001)

	_, err = suite.store.GetPosition("AAA")
	suite.True(errors.HasCode(err, errors.ErrCodePositionNotFound))

	closed, err := suite.store.GetTrade(entry.ID)
	suite.Require().NoError(err)
	suite.False(closed.IsOpen())
	suite.InDelta(500, closed.PnL.TakeOr(0), 0.001)
	suite.True(closed.OutcomeCorrect.TakeOr(false))
}

func (suite *LedgerTestSuite) TestCashNeverNegativeAcrossSequence() {
	intents := []types.TradeIntent{
		buyIntent("AAA", 50, 100),
		buyIntent("BBB", 100, 50),
		buyIntent("CCC", 40, 200),
		sellIntent("AAA", 50, 95, types.ReasonStopLoss),
	}

	for _, intent := range intents {
		if _, err := suite.ledger.Apply(context.Background(), intent); err != nil {
			suite.True(errors.HasCode(err, errors.ErrCodeInsufficientFunds))
		}

		cash, err := suite.store.GetCash(nil)
		suite.Require().NoError(err)
		suite.GreaterOrEqual(cash, 0.0)
	}
}

func (suite *LedgerTestSuite) TestReconcileBalancesBooks() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 50, 100))
	suite.Require().NoError(err)
	_, err = suite.ledger.Apply(context.Background(), sellIntent("AAA", 20, 110, types.ReasonConfidenceExit))
	suite.Require().NoError(err)

	suite.NoError(suite.ledger.Reconcile(nil))
	// Quotes only add reporting; the identity itself is price-free.
	suite.NoError(suite.ledger.Reconcile(map[string]float64{"AAA": 130}))
}

func (suite *LedgerTestSuite) TestReconcileDetectsTamperedCash() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 50, 100))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.store.SetCash(nil, 15750))

	err = suite.ledger.Reconcile(nil)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeLedgerInvariant))
}

func (suite *LedgerTestSuite) TestPortfolioValue() {
	_, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 50, 100))
	suite.Require().NoError(err)

	value, err := suite.ledger.PortfolioValue(map[string]float64{"AAA": 110})
	suite.Require().NoError(err)
	suite.InDelta(15000, value.Cash, 0.001)
	suite.InDelta(5500, value.PositionsValue, 0.001)
	suite.InDelta(20500, value.TotalValue, 0.001)
	suite.InDelta(500, value.PnL, 0.001)
	suite.InDelta(2.5, value.PnLPct, 0.001)
}

func (suite *LedgerTestSuite) TestClockIsUsedForExecutedAt() {
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	suite.ledger.SetClock(func() time.Time { return fixed })

	trade, err := suite.ledger.Apply(context.Background(), buyIntent("AAA", 10, 100))
	suite.Require().NoError(err)
	suite.True(trade.ExecutedAt.Equal(fixed))
}
