package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/agent"
	"github.com/jlindberg/omxtrader/internal/config"
	"github.com/jlindberg/omxtrader/internal/decision"
	"github.com/jlindberg/omxtrader/internal/impact"
	"github.com/jlindberg/omxtrader/internal/ledger"
	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/market"
	"github.com/jlindberg/omxtrader/internal/outcome"
	"github.com/jlindberg/omxtrader/internal/proposal"
	"github.com/jlindberg/omxtrader/internal/report"
	"github.com/jlindberg/omxtrader/internal/risk"
	"github.com/jlindberg/omxtrader/internal/store"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the YAML config file",
}

func main() {
	cmd := &cli.Command{
		Name:  "omxtrader",
		Usage: "Autonomous equity paper-trading agent",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Execute one full decision cycle",
				Flags:  []cli.Flag{configFlag},
				Action: runAction,
			},
			{
				Name:   "review",
				Usage:  "Run the weekly review for the last completed week",
				Flags:  []cli.Flag{configFlag},
				Action: reviewAction,
			},
			{
				Name:   "serve",
				Usage:  "Serve the read-only reporting API",
				Flags:  []cli.Flag{configFlag},
				Action: serveAction,
			},
			{
				Name:  "seed",
				Usage: "Load company and dependency curation from a YAML file",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the seed YAML file",
						Required: true,
					},
				},
				Action: seedAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components behind one Close.
type app struct {
	cfg    config.Config
	log    *logger.Logger
	store  *store.Store
	ledger *ledger.Ledger
	runner *agent.Runner
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close store", zap.Error(err))
	}
}

func buildApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		return nil, err
	}
	if err := st.Initialize(cfg.StartingCash); err != nil {
		return nil, err
	}

	led := ledger.New(st, log, cfg.StartingCash)

	var proposals proposal.Service
	switch cfg.ProposalBackend {
	case "anthropic":
		proposals = proposal.NewAnthropicService(cfg.AnthropicAPIKey, cfg.AnthropicModel,
			cfg.ProviderTimeout.Std(), uint64(cfg.ProviderRetries), log)
	default:
		proposals = proposal.NewHeuristicService()
	}

	deps := agent.Deps{
		Store:  st,
		Ledger: led,
		Impact: impact.NewModel(log, cfg.SaturationPct),
		Risk: risk.NewManager(st, log, risk.Limits{
			MaxPositionFraction: cfg.MaxPositionFraction,
			MaxOpenPositions:    cfg.MaxOpenPositions,
			MaxPerSector:        cfg.MaxPerSector,
			MinTradeValue:       cfg.MinTradeValue,
			RunBudgetFraction:   cfg.RunBudgetFraction,
			TrailingActivatePct: cfg.TrailingActivatePct,
			TrailingStopPct:     cfg.TrailingStopPct,
			TimeStopDays:        cfg.TimeStopDays,
			TimeStopMinPct:      cfg.TimeStopMinPct,
		}),
		Decision: decision.NewEngine(decision.Params{
			MinConfidenceBuy:    cfg.MinConfidenceBuy,
			ConfidenceSellFloor: cfg.ConfidenceSellFloor,
			MaxPositionFraction: cfg.MaxPositionFraction,
			MinTradeValue:       cfg.MinTradeValue,
			LearningPenalty:     10,
			LearningBoost:       5,
			FlipThreshold:       0.2,
			DefaultStopLossPct:  cfg.DefaultStopLossPct,
			DefaultTargetPct:    cfg.DefaultTargetPct,
		}),
		Outcome: outcome.NewTracker(st, log, cfg.OutcomeEvalDays),
		Market: market.NewRetryingSnapshot(market.NewStoreSnapshot(st),
			cfg.ProviderTimeout.Std(), uint64(cfg.ProviderRetries)),
		Proposals: proposals,
	}

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		ledger: led,
		runner: agent.NewRunner(&cfg, deps, log),
	}, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.runner.Run(ctx)
}

func reviewAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	review, err := a.runner.WeeklyReview(ctx)
	if err != nil {
		return err
	}

	a.log.Info("weekly review",
		zap.Time("week_start", review.WeekStart),
		zap.Int("trades", review.TotalTrades),
		zap.Float64("win_rate", review.WinRate),
		zap.Float64("total_pnl", review.TotalPnL),
	)

	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	server := report.NewServer(a.cfg.ReportListenAddr, a.store, a.ledger, a.log)

	serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-serveCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	}
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	cfg := config.Default()
	schema, err := cfg.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}
