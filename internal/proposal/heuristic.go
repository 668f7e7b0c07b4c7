package proposal

import (
	"context"
	"fmt"
)

// HeuristicService is the deterministic fallback backend: it maps the
// exposure sign straight to an action and writes templated rationale.
// Used when no language-model backend is configured, and in tests.
type HeuristicService struct{}

func NewHeuristicService() *HeuristicService {
	return &HeuristicService{}
}

func (h *HeuristicService) Propose(_ context.Context, candidates []Candidate) ([]Proposal, error) {
	proposals := make([]Proposal, 0, len(candidates))
	for _, c := range candidates {
		proposals = append(proposals, h.propose(c))
	}

	return proposals, nil
}

func (h *HeuristicService) propose(c Candidate) Proposal {
	p := Proposal{
		Ticker: c.Company.Ticker,
		Action: ActionHold,
	}

	switch {
	case c.Exposure.Score > 0.1 && !c.Held:
		p.Action = ActionBuy
		p.Confidence = 50 + c.Exposure.Score*40
		p.Reasoning = fmt.Sprintf("Macro inputs favor %s: exposure score %.2f with technical %.2f.",
			c.Company.Name, c.Exposure.Score, c.Signal.Technical)
		p.Hypothesis = fmt.Sprintf("%s rises as favorable input costs and demand feed through.", c.Company.Ticker)
	case c.Exposure.Score < -0.1 && c.Held:
		p.Action = ActionSell
		p.Confidence = 50 - c.Exposure.Score*40
		p.Reasoning = fmt.Sprintf("Macro inputs have turned against %s: exposure score %.2f.",
			c.Company.Name, c.Exposure.Score)
		p.Hypothesis = fmt.Sprintf("%s underperforms while input headwinds persist.", c.Company.Ticker)
	default:
		p.Confidence = 50
		p.Reasoning = fmt.Sprintf("No clear macro edge for %s (exposure %.2f).", c.Company.Name, c.Exposure.Score)
	}

	return p
}
