// Package market is the read side of ingested market data: latest
// prices, macro observations and fundamentals behind one interface, so
// the run logic never cares where a quote came from.
package market

import (
	"context"

	"github.com/jlindberg/omxtrader/internal/store"
	"github.com/jlindberg/omxtrader/internal/types"
)

// Snapshot serves point-in-time market data. Implementations return a
// typed not-found error (ErrCodePriceNotFound, ErrCodeMacroNotFound,
// ErrCodeDataUnavailable) when a series has no observations; callers
// skip the affected ticker, never the run.
type Snapshot interface {
	LatestPrice(ctx context.Context, ticker string) (types.PriceObservation, error)
	MacroSeries(ctx context.Context, symbol string) (types.MacroObservation, error)
	Fundamentals(ctx context.Context, ticker string) (types.Fundamentals, error)
}

// StoreSnapshot reads the ingested tables directly.
type StoreSnapshot struct {
	store *store.Store
}

func NewStoreSnapshot(s *store.Store) *StoreSnapshot {
	return &StoreSnapshot{store: s}
}

func (s *StoreSnapshot) LatestPrice(_ context.Context, ticker string) (types.PriceObservation, error) {
	return s.store.LatestPrice(ticker)
}

func (s *StoreSnapshot) MacroSeries(_ context.Context, symbol string) (types.MacroObservation, error) {
	return s.store.LatestMacro(symbol)
}

func (s *StoreSnapshot) Fundamentals(_ context.Context, ticker string) (types.Fundamentals, error) {
	return s.store.LatestFundamentals(ticker)
}
