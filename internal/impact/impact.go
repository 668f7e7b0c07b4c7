// Package impact scores how favorably the latest macro moves sit for
// each company, based on its curated input dependency map.
package impact

import (
	"sort"

	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/types"
)

// Exposure is the scored macro exposure for one company.
type Exposure struct {
	Ticker string  `json:"ticker"`
	Sector string  `json:"sector"`
	Score  float64 `json:"score"`
	// Qualitative lists dependency inputs with no tracked macro feed.
	// They never enter Score; the rationale service sees them as text.
	Qualitative []string `json:"qualitative,omitempty"`
}

type Model struct {
	logger *logger.Logger
	// saturationPct is the absolute change_pct at which a single
	// dependency's contribution saturates to full strength.
	saturationPct float64
}

func NewModel(log *logger.Logger, saturationPct float64) *Model {
	return &Model{logger: log, saturationPct: saturationPct}
}

// ComputeExposure sums the contributions of every dependency with a
// tracked macro symbol and clamps the total to [-1, 1]. A revenue input
// moving up helps; a cost input moving up hurts. Missing observations
// skip the dependency, never zero-fill it.
func (m *Model) ComputeExposure(deps []types.InputDependency, macro map[string]types.MacroObservation) (float64, []string) {
	var score float64
	var qualitative []string

	for _, dep := range deps {
		symbol, err := dep.MacroSymbol.Take()
		if err != nil {
			qualitative = append(qualitative, dep.InputName)
			continue
		}

		obs, ok := macro[symbol]
		if !ok {
			m.logger.Warn("macro observation missing, skipping dependency",
				zap.String("ticker", dep.Ticker),
				zap.String("input", dep.InputName),
				zap.String("symbol", symbol),
			)
			continue
		}

		normalized := clamp(obs.ChangePct / m.saturationPct)
		contribution := dep.Strength * normalized
		if dep.Direction == types.DirectionCost {
			contribution = -contribution
		}
		score += contribution
	}

	return clamp(score), qualitative
}

// RankExposures scores every company with at least one dependency row
// and returns them best first. Ties break by ticker so the ranking is
// reproducible.
func (m *Model) RankExposures(companies []types.Company, deps map[string][]types.InputDependency, macro map[string]types.MacroObservation) []Exposure {
	var exposures []Exposure
	for _, company := range companies {
		companyDeps := deps[company.Ticker]
		if len(companyDeps) == 0 {
			continue
		}

		score, qualitative := m.ComputeExposure(companyDeps, macro)
		exposures = append(exposures, Exposure{
			Ticker:      company.Ticker,
			Sector:      company.Sector,
			Score:       score,
			Qualitative: qualitative,
		})
	}

	sort.Slice(exposures, func(i, j int) bool {
		if exposures[i].Score != exposures[j].Score {
			return exposures[i].Score > exposures[j].Score
		}

		return exposures[i].Ticker < exposures[j].Ticker
	})

	return exposures
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
