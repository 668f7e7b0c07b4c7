// Package report exposes the persisted ledger state to the presentation
// layer: a small read-only JSON API. Nothing here mutates state.
package report

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jlindberg/omxtrader/internal/ledger"
	"github.com/jlindberg/omxtrader/internal/logger"
	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
)

type Server struct {
	store  *store.Store
	ledger *ledger.Ledger
	logger *logger.Logger
	http   *http.Server
}

func NewServer(addr string, s *store.Store, l *ledger.Ledger, log *logger.Logger) *Server {
	server := &Server{store: s, ledger: l, logger: log}

	router := mux.NewRouter()
	router.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/portfolio", server.handlePortfolio).Methods(http.MethodGet)
	router.HandleFunc("/positions", server.handlePositions).Methods(http.MethodGet)
	router.HandleFunc("/trades", server.handleTrades).Methods(http.MethodGet)
	router.HandleFunc("/trades/{id}", server.handleTrade).Methods(http.MethodGet)
	router.HandleFunc("/learnings", server.handleLearnings).Methods(http.MethodGet)
	router.HandleFunc("/reviews", server.handleReviews).Methods(http.MethodGet)
	router.HandleFunc("/snapshots", server.handleSnapshots).Methods(http.MethodGet)
	router.HandleFunc("/skips", server.handleSkips).Methods(http.MethodGet)

	server.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("report server listening", zap.String("addr", s.http.Addr))

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	prices, err := s.latestPrices()
	if err != nil {
		s.writeError(w, err)
		return
	}

	value, err := s.ledger.PortfolioValue(prices)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, value)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.store.ListPositions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if positions == nil {
		positions = []types.Position{}
	}

	s.writeJSON(w, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	// Last 90 days unless asked otherwise.
	since := time.Now().UTC().AddDate(0, 0, -90)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid since date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	trades, err := s.store.TradesBetween(since, time.Now().UTC().AddDate(0, 0, 1))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []types.Trade{}
	}

	s.writeJSON(w, trades)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.store.GetTrade(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeJSON(w, trade)
}

func (s *Server) handleLearnings(w http.ResponseWriter, _ *http.Request) {
	learnings, err := s.store.ActiveLearnings()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if learnings == nil {
		learnings = []types.Learning{}
	}

	s.writeJSON(w, learnings)
}

func (s *Server) handleReviews(w http.ResponseWriter, _ *http.Request) {
	reviews, err := s.store.ListReviews()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if reviews == nil {
		reviews = []types.Review{}
	}

	s.writeJSON(w, reviews)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	values, dates, err := s.store.ListSnapshots(365)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type snapshot struct {
		Date string                `json:"date"`
		types.PortfolioValue
	}
	out := make([]snapshot, 0, len(values))
	for i, value := range values {
		out = append(out, snapshot{Date: dates[i].Format("2006-01-02"), PortfolioValue: value})
	}

	s.writeJSON(w, out)
}

func (s *Server) handleSkips(w http.ResponseWriter, _ *http.Request) {
	skips, err := s.store.ListSkippedIntents(time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if skips == nil {
		skips = []types.SkippedIntent{}
	}

	s.writeJSON(w, skips)
}

func (s *Server) latestPrices() (map[string]float64, error) {
	positions, err := s.store.ListPositions()
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(positions))
	for _, pos := range positions {
		bar, err := s.store.LatestPrice(pos.Ticker)
		if err != nil {
			continue
		}
		prices[pos.Ticker] = bar.Close
	}

	return prices, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
