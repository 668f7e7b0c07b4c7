package main

import (
	"context"
	"os"

	"github.com/moznion/go-optional"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

// seedFile is the curated universe: companies with their macro input
// dependency maps.
type seedFile struct {
	Companies []seedCompany `yaml:"companies"`
}

type seedCompany struct {
	Ticker       string            `yaml:"ticker"`
	Name         string            `yaml:"name"`
	Sector       string            `yaml:"sector"`
	Industry     string            `yaml:"industry"`
	Description  string            `yaml:"description"`
	Extras       map[string]string `yaml:"extras"`
	Dependencies []seedDependency  `yaml:"dependencies"`
}

type seedDependency struct {
	InputName   string  `yaml:"input_name"`
	MacroSymbol *string `yaml:"macro_symbol"`
	Direction   string  `yaml:"direction"`
	Strength    float64 `yaml:"strength"`
}

func seedAction(_ context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := os.ReadFile(cmd.String("file"))
	if err != nil {
		return errors.Wrap(errors.ErrCodeSeedDataInvalid, "failed to read seed file", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return errors.Wrap(errors.ErrCodeSeedDataInvalid, "failed to parse seed file", err)
	}

	for _, sc := range seed.Companies {
		company := types.Company{
			Ticker:      sc.Ticker,
			Name:        sc.Name,
			Sector:      sc.Sector,
			Industry:    sc.Industry,
			Description: sc.Description,
			Extras:      sc.Extras,
		}

		deps := make([]types.InputDependency, 0, len(sc.Dependencies))
		for _, sd := range sc.Dependencies {
			dep := types.InputDependency{
				Ticker:    sc.Ticker,
				InputName: sd.InputName,
				Direction: types.ImpactDirection(sd.Direction),
				Strength:  sd.Strength,
			}
			if sd.MacroSymbol != nil && *sd.MacroSymbol != "" {
				dep.MacroSymbol = optional.Some(*sd.MacroSymbol)
			}
			if err := dep.Validate(); err != nil {
				return err
			}
			deps = append(deps, dep)
		}

		if err := a.store.UpsertCompany(company, deps); err != nil {
			return err
		}

		a.log.Info("seeded company",
			zap.String("ticker", sc.Ticker),
			zap.Int("dependencies", len(deps)),
		)
	}

	a.log.Info("seed complete", zap.Int("companies", len(seed.Companies)))

	return nil
}
