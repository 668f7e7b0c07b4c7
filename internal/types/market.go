package types

import "time"

// MacroObservation is one point of an append-only macro series
// (commodity, currency pair or index). Owned by the data-ingestion
// collaborator; the core only reads the latest observation per symbol.
type MacroObservation struct {
	Symbol    string    `yaml:"symbol" json:"symbol"`
	Date      time.Time `yaml:"date" json:"date"`
	Value     float64   `yaml:"value" json:"value"`
	ChangePct float64   `yaml:"change_pct" json:"change_pct"`
}

// PriceObservation is one daily OHLCV bar for a ticker. Append-only.
type PriceObservation struct {
	Ticker string    `yaml:"ticker" json:"ticker"`
	Date   time.Time `yaml:"date" json:"date"`
	Open   float64   `yaml:"open" json:"open"`
	High   float64   `yaml:"high" json:"high"`
	Low    float64   `yaml:"low" json:"low"`
	Close  float64   `yaml:"close" json:"close"`
	Volume int64     `yaml:"volume" json:"volume"`
}

// Fundamentals is the latest fundamental snapshot for a ticker.
type Fundamentals struct {
	Ticker        string    `yaml:"ticker" json:"ticker"`
	Date          time.Time `yaml:"date" json:"date"`
	PERatio       float64   `yaml:"pe_ratio" json:"pe_ratio"`
	PBRatio       float64   `yaml:"pb_ratio" json:"pb_ratio"`
	EPS           float64   `yaml:"eps" json:"eps"`
	DividendYield float64   `yaml:"dividend_yield" json:"dividend_yield"`
	MarketCap     float64   `yaml:"market_cap" json:"market_cap"`
	ProfitMargin  float64   `yaml:"profit_margin" json:"profit_margin"`
}

// Signal carries the externally computed technical/fundamental view for
// a ticker, consumed as data by the decision engine.
type Signal struct {
	Ticker string `yaml:"ticker" json:"ticker"`
	// Technical is a [-1,1] technical score (trend, momentum).
	Technical float64 `yaml:"technical" json:"technical"`
	// Fundamental is a [-1,1] valuation score.
	Fundamental float64 `yaml:"fundamental" json:"fundamental"`
}
