// Package proposal produces structured trade rationale for a shortlist
// of candidates. Action and confidence are consumed as data by the
// decision engine; reasoning and hypothesis are opaque text stored
// verbatim and never branched on.
package proposal

import (
	"context"

	"github.com/jlindberg/omxtrader/internal/impact"
	"github.com/jlindberg/omxtrader/internal/types"
)

// Action is the proposed direction for one candidate.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Candidate is one shortlisted ticker with its computed inputs.
type Candidate struct {
	Company  types.Company   `json:"company"`
	Exposure impact.Exposure `json:"exposure"`
	Signal   types.Signal    `json:"signal"`
	Price    float64         `json:"price"`
	Held     bool            `json:"held"`
}

// Proposal is one structured response. The core never parses the text
// fields for control decisions.
type Proposal struct {
	Ticker     string  `json:"ticker"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Hypothesis string  `json:"hypothesis"`
}

// Service generates proposals for a shortlist. Implementations must be
// safe to call once per run; a failure skips the rationale, not the run.
type Service interface {
	Propose(ctx context.Context, candidates []Candidate) ([]Proposal, error)
}
