// Package config loads and validates the agent configuration from a YAML
// file with environment-variable overrides.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/jlindberg/omxtrader/pkg/errors"
)

// Config holds every tunable of the trading core. YAML keys map to the
// config file, env tags allow deploy-time overrides.
type Config struct {
	// StartingCash is the baseline capital the portfolio P&L is measured
	// against. Only written to the store on first initialization.
	StartingCash float64 `yaml:"starting_cash" json:"starting_cash" env:"OMX_STARTING_CASH" validate:"gt=0" jsonschema:"title=Starting Cash,minimum=0"`

	// MaxPositionFraction caps a single position at this fraction of
	// total portfolio value.
	MaxPositionFraction float64 `yaml:"max_position_fraction" json:"max_position_fraction" env:"OMX_MAX_POSITION_FRACTION" validate:"gt=0,lte=1"`
	MaxOpenPositions    int     `yaml:"max_open_positions" json:"max_open_positions" env:"OMX_MAX_OPEN_POSITIONS" validate:"gte=1"`
	MaxPerSector        int     `yaml:"max_per_sector" json:"max_per_sector" env:"OMX_MAX_PER_SECTOR" validate:"gte=1"`
	// RunBudgetFraction caps the cash deployed by a single run.
	RunBudgetFraction float64 `yaml:"run_budget_fraction" json:"run_budget_fraction" env:"OMX_RUN_BUDGET_FRACTION" validate:"gt=0,lte=1"`
	MinTradeValue     float64 `yaml:"min_trade_value" json:"min_trade_value" env:"OMX_MIN_TRADE_VALUE" validate:"gte=0"`

	MinConfidenceBuy    float64 `yaml:"min_confidence_buy" json:"min_confidence_buy" env:"OMX_MIN_CONFIDENCE_BUY" validate:"gte=0,lte=100"`
	ConfidenceSellFloor float64 `yaml:"confidence_sell_floor" json:"confidence_sell_floor" env:"OMX_CONFIDENCE_SELL_FLOOR" validate:"gte=0,lte=100"`

	// Default exit levels stamped on BUY intents, signed percent offsets
	// from entry.
	DefaultStopLossPct float64 `yaml:"default_stop_loss_pct" json:"default_stop_loss_pct" validate:"lt=0"`
	DefaultTargetPct   float64 `yaml:"default_target_pct" json:"default_target_pct" validate:"gt=0"`

	// TrailingActivatePct and TrailingStopPct implement the trailing
	// stop: once unrealized PnL reaches the activation level, the stored
	// stop tightens to the trailing level above entry.
	TrailingActivatePct float64 `yaml:"trailing_activate_pct" json:"trailing_activate_pct"`
	TrailingStopPct     float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`

	// TimeStopDays forces an exit for positions held at least this many
	// days with PnL still under TimeStopMinPct.
	TimeStopDays   int     `yaml:"time_stop_days" json:"time_stop_days" validate:"gte=0"`
	TimeStopMinPct float64 `yaml:"time_stop_min_pct" json:"time_stop_min_pct"`

	// RiskOffIndexSymbol and RiskOffIndexDrop gate discretionary buys:
	// no new buys when the index daily change is at or below the drop.
	RiskOffIndexSymbol string  `yaml:"risk_off_index_symbol" json:"risk_off_index_symbol"`
	RiskOffIndexDrop   float64 `yaml:"risk_off_index_drop" json:"risk_off_index_drop" validate:"lt=0"`

	// SaturationPct is the macro change (in percent) at which a single
	// dependency contribution saturates to its full strength.
	SaturationPct float64 `yaml:"saturation_pct" json:"saturation_pct" validate:"gt=0"`

	OutcomeEvalDays int      `yaml:"outcome_eval_days" json:"outcome_eval_days" env:"OMX_OUTCOME_EVAL_DAYS" validate:"gte=1"`
	RunTimeout      Duration `yaml:"run_timeout" json:"run_timeout" env:"OMX_RUN_TIMEOUT" validate:"gt=0"`
	LeaseTTL        Duration `yaml:"lease_ttl" json:"lease_ttl" validate:"gt=0"`

	ProviderTimeout  Duration `yaml:"provider_timeout" json:"provider_timeout" validate:"gt=0"`
	ProviderRetries  uint     `yaml:"provider_retries" json:"provider_retries"`
	ProposalBackend  string   `yaml:"proposal_backend" json:"proposal_backend" validate:"oneof=heuristic anthropic"`
	AnthropicModel   string   `yaml:"anthropic_model" json:"anthropic_model"`
	AnthropicAPIKey  string   `yaml:"-" json:"-" env:"ANTHROPIC_API_KEY"`
	DatabasePath     string   `yaml:"database_path" json:"database_path" env:"OMX_DATABASE_PATH" validate:"required"`
	ReportListenAddr string   `yaml:"report_listen_addr" json:"report_listen_addr" env:"OMX_REPORT_ADDR"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		StartingCash:        20000,
		MaxPositionFraction: 0.25,
		MaxOpenPositions:    5,
		MaxPerSector:        2,
		RunBudgetFraction:   0.5,
		MinTradeValue:       500,
		MinConfidenceBuy:    55,
		ConfidenceSellFloor: 40,
		DefaultStopLossPct:  -5,
		DefaultTargetPct:    10,
		TrailingActivatePct: 5,
		TrailingStopPct:     2,
		TimeStopDays:        10,
		TimeStopMinPct:      3,
		RiskOffIndexSymbol:  "^OMX",
		RiskOffIndexDrop:    -2.5,
		SaturationPct:       10,
		OutcomeEvalDays:     3,
		RunTimeout:          Duration(10 * time.Minute),
		LeaseTTL:            Duration(15 * time.Minute),
		ProviderTimeout:     Duration(30 * time.Second),
		ProviderRetries:     3,
		ProposalBackend:     "heuristic",
		AnthropicModel:      "claude-sonnet-4-20250514",
		DatabasePath:        "omxtrader.db",
		ReportListenAddr:    ":8090",
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(Duration(0)): func(v string) (any, error) {
				parsed, err := time.ParseDuration(v)
				if err != nil {
					return nil, err
				}

				return Duration(parsed), nil
			},
		},
	}); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to apply env overrides", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

// GenerateSchema generates a JSON schema for the configuration.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
	}

	schema := reflector.Reflect(c)
	schema.Title = "omxtrader-config"
	schema.Description = "Configuration schema for the omxtrader agent"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates an indented JSON schema string.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
