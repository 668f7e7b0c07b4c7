package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/jlindberg/omxtrader/pkg/errors"
)

// ImpactDirection describes whether a macro input hits a company on the
// cost side or the revenue side.
type ImpactDirection string

const (
	DirectionCost    ImpactDirection = "cost"
	DirectionRevenue ImpactDirection = "revenue"
)

// ExtrasSchemaVersion is the current version of the tagged key-value
// metadata attached to a company. Readers must ignore keys they do not
// recognize; writers bump the version when a key changes meaning.
const ExtrasSchemaVersion = 1

// Company is a tradable company tracked by the agent. Immutable at
// runtime except for metadata refresh.
type Company struct {
	Ticker      string `yaml:"ticker" json:"ticker" validate:"required"`
	Name        string `yaml:"name" json:"name"`
	Sector      string `yaml:"sector" json:"sector" validate:"required"`
	Industry    string `yaml:"industry" json:"industry"`
	Description string `yaml:"description" json:"description"`
	// Extras holds versioned tagged metadata (e.g. "eur_revenue_share").
	// Consumers must treat unknown keys as opaque.
	Extras        map[string]string `yaml:"extras" json:"extras"`
	SchemaVersion int               `yaml:"schema_version" json:"schema_version"`
	UpdatedAt     time.Time         `yaml:"updated_at" json:"updated_at"`
}

// InputDependency declares that one macro input influences a company.
// Created by seed curation, read-only at runtime.
type InputDependency struct {
	Ticker    string `yaml:"ticker" json:"ticker" validate:"required"`
	InputName string `yaml:"input_name" json:"input_name" validate:"required"`
	// MacroSymbol is the tracked series for this input. None for
	// qualitative inputs (e.g. "steel") with no feed; those are excluded
	// from the automatic score but surfaced to the rationale service.
	MacroSymbol optional.Option[string] `yaml:"macro_symbol" json:"macro_symbol"`
	Direction   ImpactDirection         `yaml:"direction" json:"direction" validate:"required,oneof=cost revenue"`
	Strength    float64                 `yaml:"strength" json:"strength" validate:"gte=0,lte=1"`
}

// Validate validates the InputDependency struct.
func (d *InputDependency) Validate() error {
	validate := validator.New()
	if err := validate.Struct(d); err != nil {
		return errors.Wrap(errors.ErrCodeSeedDataInvalid, "invalid input dependency", err)
	}

	return nil
}
