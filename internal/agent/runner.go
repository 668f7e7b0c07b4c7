// Package agent orchestrates one decision cycle: lease, data snapshot,
// exposure ranking, breach scan, proposals, decision, risk validation,
// sequential ledger applies, outcome checkpoints, portfolio snapshot.
package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/config"
	"github.com/jlindberg/omxtrader/internal/decision"
	"github.com/jlindberg/omxtrader/internal/impact"
	"github.com/jlindberg/omxtrader/internal/ledger"
	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/market"
	"github.com/jlindberg/omxtrader/internal/outcome"
	"github.com/jlindberg/omxtrader/internal/proposal"
	"github.com/jlindberg/omxtrader/internal/risk"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

// shortlistSize caps how many ranked candidates go to the proposal
// service per run.
const shortlistSize = 10

// Deps are the collaborators a Runner drives. All are required.
type Deps struct {
	Store     *store.Store
	Ledger    *ledger.Ledger
	Impact    *impact.Model
	Risk      *risk.Manager
	Decision  *decision.Engine
	Outcome   *outcome.Tracker
	Market    market.Snapshot
	Proposals proposal.Service
}

type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger *logger.Logger
	now    func() time.Time
}

func NewRunner(cfg *config.Config, deps Deps, log *logger.Logger) *Runner {
	return &Runner{cfg: cfg, deps: deps, logger: log, now: time.Now}
}

// SetClock overrides the runner clock. Test hook.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run executes one full cycle. A second trigger inside the same window
// aborts on the lease rather than queuing. The wall-clock deadline
// stops new intents from being issued; an in-flight apply always
// completes.
func (r *Runner) Run(ctx context.Context) error {
	owner := leaseOwner()
	if err := r.deps.Store.AcquireLease(owner, r.cfg.LeaseTTL.Std()); err != nil {
		return err
	}
	defer func() {
		if err := r.deps.Store.ReleaseLease(owner); err != nil {
			r.logger.Error("failed to release run lease", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout.Std())
	defer cancel()

	now := r.now().UTC()
	r.logger.Info("run started", zap.String("owner", owner), zap.Time("at", now))

	data, err := r.loadSnapshot(runCtx)
	if err != nil {
		return err
	}

	positions, err := r.deps.Store.ListPositions()
	if err != nil {
		return err
	}
	entries, err := r.deps.Store.OpenBuyTrades()
	if err != nil {
		return err
	}

	// Forced exits run first and bypass discretionary logic.
	breaches := r.deps.Risk.ScanBreaches(positions, entries, data.prices, now)
	if err := r.applyIntents(runCtx, breaches); err != nil {
		return err
	}
	exited := make(map[string]bool, len(breaches))
	for _, b := range breaches {
		exited[b.Ticker] = true
	}

	// Reload ledger state the breaches may have changed.
	positions, err = r.deps.Store.ListPositions()
	if err != nil {
		return err
	}
	cash, err := r.deps.Store.GetCash(nil)
	if err != nil {
		return err
	}
	learnings, err := r.deps.Store.ActiveLearnings()
	if err != nil {
		return err
	}

	exposures := r.deps.Impact.RankExposures(data.companies, data.deps, data.macro)
	if len(exited) > 0 {
		// A ticker stopped out this cycle sits out the discretionary
		// pass; re-entering at the breach price on the same signal is
		// whipsaw.
		kept := exposures[:0]
		for _, e := range exposures {
			if !exited[e.Ticker] {
				kept = append(kept, e)
			}
		}
		exposures = kept
	}
	proposals := r.gatherProposals(runCtx, data, exposures, positions)

	intents, skips := r.deps.Decision.ProposeIntents(decision.Inputs{
		Exposures: exposures,
		Signals:   data.signals,
		Positions: positions,
		Cash:      cash,
		Prices:    data.prices,
		Learnings: learnings,
		Proposals: proposals,
		RiskOff:   r.riskOff(data),
		Now:       now,
	})
	r.recordSkips(skips)

	accepted := r.deps.Risk.Validate(intents, cash, positions, data.prices, now)
	if err := r.applyIntents(runCtx, accepted); err != nil {
		return err
	}

	if err := r.deps.Ledger.Reconcile(data.prices); err != nil {
		return err
	}

	entries, err = r.deps.Store.OpenBuyTrades()
	if err != nil {
		return err
	}
	if _, err := r.deps.Outcome.Evaluate(entries, data.prices, now); err != nil {
		return err
	}

	value, err := r.deps.Ledger.PortfolioValue(data.prices)
	if err != nil {
		return err
	}
	if err := r.deps.Store.UpsertSnapshot(now.Truncate(24*time.Hour), value); err != nil {
		return err
	}

	r.logger.Info("run complete",
		zap.Float64("cash", value.Cash),
		zap.Float64("total_value", value.TotalValue),
		zap.Float64("pnl_pct", value.PnLPct),
	)

	return nil
}

// WeeklyReview reviews the most recently completed Monday-to-Sunday
// week.
func (r *Runner) WeeklyReview(ctx context.Context) (types.Review, error) {
	owner := leaseOwner()
	if err := r.deps.Store.AcquireLease(owner, r.cfg.LeaseTTL.Std()); err != nil {
		return types.Review{}, err
	}
	defer func() {
		if err := r.deps.Store.ReleaseLease(owner); err != nil {
			r.logger.Error("failed to release run lease", zap.Error(err))
		}
	}()

	if err := ctx.Err(); err != nil {
		return types.Review{}, err
	}

	return r.deps.Outcome.RunWeeklyReview(lastWeekStart(r.now().UTC()))
}

// applyIntents runs the accepted batch strictly sequentially. Each apply
// is its own atomic transaction, so a later failure never rolls back an
// earlier trade. Past the deadline no new intent is issued, but the
// in-flight apply is given an uncancelled context so it completes or
// fails cleanly.
func (r *Runner) applyIntents(ctx context.Context, intents []types.TradeIntent) error {
	for i, intent := range intents {
		if err := ctx.Err(); err != nil {
			// Every undone intent gets its own audit row.
			remaining := intents[i:]
			r.logger.Warn("run deadline reached, remaining intents dropped",
				zap.Int("dropped", len(remaining)))
			skips := make([]types.SkippedIntent, 0, len(remaining))
			for _, dropped := range remaining {
				skips = append(skips, types.SkippedIntent{
					Ticker:     dropped.Ticker,
					Side:       dropped.Side,
					Value:      dropped.Value,
					ReasonCode: types.ReasonRunDeadline,
					Message:    "run deadline reached",
					RecordedAt: r.now().UTC(),
				})
			}
			r.recordSkips(skips)

			return nil
		}

		_, err := r.deps.Ledger.Apply(context.WithoutCancel(ctx), intent)
		switch {
		case err == nil:
		case errors.HasCode(err, errors.ErrCodeInsufficientFunds),
			errors.HasCode(err, errors.ErrCodeOversoldPosition):
			// Upstream sizing defect: reject, record, continue.
			r.logger.Error("ledger rejected intent", zap.String("ticker", intent.Ticker), zap.Error(err))
			r.recordSkips([]types.SkippedIntent{{
				Ticker:     intent.Ticker,
				Side:       intent.Side,
				Value:      intent.Value,
				ReasonCode: types.ReasonInsufficientCash,
				Message:    err.Error(),
				RecordedAt: r.now().UTC(),
			}})
		case errors.HasCode(err, errors.ErrCodeLedgerInvariant):
			// Fatal: committed trades stay, remaining intents abort.
			return err
		default:
			return err
		}
	}

	return nil
}

type snapshotData struct {
	companies []types.Company
	deps      map[string][]types.InputDependency
	macro     map[string]types.MacroObservation
	prices    map[string]float64
	signals   map[string]types.Signal
}

// loadSnapshot gathers everything a cycle reads up front. A ticker with
// missing data is skipped and logged, never fatal.
func (r *Runner) loadSnapshot(ctx context.Context) (*snapshotData, error) {
	companies, err := r.deps.Store.ListCompanies()
	if err != nil {
		return nil, err
	}

	data := &snapshotData{
		companies: companies,
		deps:      make(map[string][]types.InputDependency, len(companies)),
		macro:     make(map[string]types.MacroObservation),
		prices:    make(map[string]float64, len(companies)),
		signals:   make(map[string]types.Signal, len(companies)),
	}

	symbols := map[string]bool{r.cfg.RiskOffIndexSymbol: true}
	for _, company := range companies {
		deps, err := r.deps.Store.GetDependencies(company.Ticker)
		if err != nil {
			return nil, err
		}
		data.deps[company.Ticker] = deps
		for _, dep := range deps {
			if symbol, err := dep.MacroSymbol.Take(); err == nil {
				symbols[symbol] = true
			}
		}
	}

	for symbol := range symbols {
		obs, err := r.deps.Market.MacroSeries(ctx, symbol)
		if err != nil {
			r.logger.Warn("macro series unavailable", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		data.macro[symbol] = obs
	}

	for _, company := range companies {
		bar, err := r.deps.Market.LatestPrice(ctx, company.Ticker)
		if err != nil {
			r.logger.Warn("price unavailable, ticker skipped",
				zap.String("ticker", company.Ticker), zap.Error(err))
			continue
		}
		data.prices[company.Ticker] = bar.Close
		data.signals[company.Ticker] = r.buildSignal(ctx, company.Ticker, bar.Close)
	}

	return data, nil
}

// buildSignal derives the simple technical/fundamental scores consumed
// as external data by the decision engine: ten-day momentum and an
// earnings-yield tilt, each squashed into [-1,1].
func (r *Runner) buildSignal(ctx context.Context, ticker string, latest float64) types.Signal {
	signal := types.Signal{Ticker: ticker}

	history, err := r.deps.Store.PriceHistory(ticker, 10)
	if err == nil && len(history) > 1 && history[len(history)-1].Close > 0 {
		momentum := (latest/history[len(history)-1].Close - 1) * 100
		signal.Technical = clampUnit(momentum / 10)
	}

	fundamentals, err := r.deps.Market.Fundamentals(ctx, ticker)
	if err == nil && fundamentals.PERatio > 0 {
		// Earnings yield above ~5% scores positive, expensive names
		// negative.
		signal.Fundamental = clampUnit((100/fundamentals.PERatio - 5) / 5)
	}

	return signal
}

func (r *Runner) gatherProposals(ctx context.Context, data *snapshotData, exposures []impact.Exposure, positions []types.Position) []proposal.Proposal {
	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.Ticker] = true
	}
	companyByTicker := make(map[string]types.Company, len(data.companies))
	for _, company := range data.companies {
		companyByTicker[company.Ticker] = company
	}

	var candidates []proposal.Candidate
	for _, exposure := range exposures {
		if len(candidates) >= shortlistSize && !held[exposure.Ticker] {
			continue
		}
		price, ok := data.prices[exposure.Ticker]
		if !ok {
			continue
		}
		candidates = append(candidates, proposal.Candidate{
			Company:  companyByTicker[exposure.Ticker],
			Exposure: exposure,
			Signal:   data.signals[exposure.Ticker],
			Price:    price,
			Held:     held[exposure.Ticker],
		})
	}

	if len(candidates) == 0 {
		return nil
	}

	proposals, err := r.deps.Proposals.Propose(ctx, candidates)
	if err != nil {
		// Rationale is additive; the deterministic core decides without it.
		r.logger.Warn("proposal service failed, continuing without rationale", zap.Error(err))

		return nil
	}

	return proposals
}

func (r *Runner) riskOff(data *snapshotData) bool {
	obs, ok := data.macro[r.cfg.RiskOffIndexSymbol]
	if !ok {
		return false
	}

	return obs.ChangePct <= r.cfg.RiskOffIndexDrop
}

func (r *Runner) recordSkips(skips []types.SkippedIntent) {
	for _, skip := range skips {
		if err := r.deps.Store.InsertSkippedIntent(skip); err != nil {
			r.logger.Error("failed to record skipped intent", zap.Error(err))
		}
	}
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// lastWeekStart returns the Monday opening the most recently completed
// week.
func lastWeekStart(now time.Time) time.Time {
	day := now.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7
	thisMonday := day.AddDate(0, 0, -offset)

	return thisMonday.AddDate(0, 0, -7)
}

func clampUnit(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
