package impact

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/types"
)

type ImpactTestSuite struct {
	suite.Suite
	model *Model
}

func TestImpactSuite(t *testing.T) {
	suite.Run(t, new(ImpactTestSuite))
}

func (suite *ImpactTestSuite) SetupTest() {
	suite.model = NewModel(logger.NewNopLogger(), 10)
}

func dep(ticker, input, symbol string, direction types.ImpactDirection, strength float64) types.InputDependency {
	d := types.InputDependency{
		Ticker:    ticker,
		InputName: input,
		Direction: direction,
		Strength:  strength,
	}
	if symbol != "" {
		d.MacroSymbol = optional.Some(symbol)
	}

	return d
}

func obs(symbol string, changePct float64) types.MacroObservation {
	return types.MacroObservation{
		Symbol:    symbol,
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Value:     100,
		ChangePct: changePct,
	}
}

func (suite *ImpactTestSuite) TestDirectionSigns() {
	tests := []struct {
		name      string
		direction types.ImpactDirection
		changePct float64
		expected  float64
	}{
		{"revenue input up helps", types.DirectionRevenue, 5, 0.25},
		{"revenue input down hurts", types.DirectionRevenue, -5, -0.25},
		{"cost input up hurts", types.DirectionCost, 5, -0.25},
		{"cost input down helps", types.DirectionCost, -5, 0.25},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			deps := []types.InputDependency{dep("AAA", "oil", "CL=F", tt.direction, 0.5)}
			macro := map[string]types.MacroObservation{"CL=F": obs("CL=F", tt.changePct)}

			score, _ := suite.model.ComputeExposure(deps, macro)
			suite.InDelta(tt.expected, score, 1e-9)
		})
	}
}

func (suite *ImpactTestSuite) TestSaturationClampsSingleContribution() {
	// A 30% move saturates at the 10% threshold: contribution capped at
	// full strength.
	deps := []types.InputDependency{dep("AAA", "gas", "NG=F", types.DirectionRevenue, 0.7)}
	macro := map[string]types.MacroObservation{"NG=F": obs("NG=F", 30)}

	score, _ := suite.model.ComputeExposure(deps, macro)
	suite.InDelta(0.7, score, 1e-9)
}

func (suite *ImpactTestSuite) TestTotalClampedToUnitRange() {
	deps := []types.InputDependency{
		dep("AAA", "a", "S1", types.DirectionRevenue, 1),
		dep("AAA", "b", "S2", types.DirectionRevenue, 1),
	}
	macro := map[string]types.MacroObservation{
		"S1": obs("S1", 10),
		"S2": obs("S2", 10),
	}

	score, _ := suite.model.ComputeExposure(deps, macro)
	suite.Equal(1.0, score)
}

func (suite *ImpactTestSuite) TestQualitativeInputsExcludedButSurfaced() {
	deps := []types.InputDependency{
		dep("AAA", "steel", "", types.DirectionCost, 0.9),
		dep("AAA", "oil", "CL=F", types.DirectionCost, 0.5),
	}
	macro := map[string]types.MacroObservation{"CL=F": obs("CL=F", 4)}

	score, qualitative := suite.model.ComputeExposure(deps, macro)
	suite.InDelta(-0.2, score, 1e-9)
	suite.Equal([]string{"steel"}, qualitative)
}

func (suite *ImpactTestSuite) TestMissingObservationSkipsDependencyOnly() {
	deps := []types.InputDependency{
		dep("AAA", "oil", "CL=F", types.DirectionRevenue, 0.5),
		dep("AAA", "copper", "HG=F", types.DirectionRevenue, 0.5),
	}
	macro := map[string]types.MacroObservation{"CL=F": obs("CL=F", 6)}

	score, _ := suite.model.ComputeExposure(deps, macro)
	// Only the oil leg contributes; copper is skipped, not zero-filled
	// into the ranking.
	suite.InDelta(0.3, score, 1e-9)
}

func (suite *ImpactTestSuite) TestRankExposuresOrdersAndSkips() {
	companies := []types.Company{
		{Ticker: "AAA", Sector: "Industrials"},
		{Ticker: "BBB", Sector: "Health"},
		{Ticker: "CCC", Sector: "Energy"},
	}
	deps := map[string][]types.InputDependency{
		"AAA": {dep("AAA", "oil", "CL=F", types.DirectionCost, 0.5)},
		"BBB": {dep("BBB", "oil", "CL=F", types.DirectionRevenue, 0.5)},
		// CCC has no dependency rows and is excluded from the ranking.
	}
	macro := map[string]types.MacroObservation{"CL=F": obs("CL=F", 6)}

	exposures := suite.model.RankExposures(companies, deps, macro)

	suite.Require().Len(exposures, 2)
	suite.Equal("BBB", exposures[0].Ticker)
	suite.Equal("AAA", exposures[1].Ticker)
	suite.Greater(exposures[0].Score, exposures[1].Score)
}
