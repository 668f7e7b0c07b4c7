package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
	"github.com/moznion/go-optional"
)

// UpsertCompany inserts or replaces a company row and its input
// dependency map in a single transaction.
func (s *Store) UpsertCompany(company types.Company, deps []types.InputDependency) error {
	extras, err := json.Marshal(company.Extras)
	if err != nil {
		return fmt.Errorf("failed to encode company extras: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := s.sq.
		Insert("companies").
		Columns("ticker", "name", "sector", "industry", "description", "extras", "schema_version", "updated_at").
		Values(company.Ticker, company.Name, company.Sector, company.Industry, company.Description,
			string(extras), types.ExtrasSchemaVersion, squirrel.Expr("CURRENT_TIMESTAMP")).
		Suffix(`ON CONFLICT (ticker) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			industry = excluded.industry,
			description = excluded.description,
			extras = excluded.extras,
			schema_version = excluded.schema_version,
			updated_at = now()`).
		RunWith(tx)
	if _, err := upsert.Exec(); err != nil {
		return fmt.Errorf("failed to upsert company %s: %w", company.Ticker, err)
	}

	del := s.sq.
		Delete("input_dependencies").
		Where(squirrel.Eq{"ticker": company.Ticker}).
		RunWith(tx)
	if _, err := del.Exec(); err != nil {
		return fmt.Errorf("failed to clear dependencies for %s: %w", company.Ticker, err)
	}

	for _, dep := range deps {
		insert := s.sq.
			Insert("input_dependencies").
			Columns("ticker", "input_name", "macro_symbol", "direction", "strength").
			Values(company.Ticker, dep.InputName, dep.MacroSymbol.TakeOr(""), string(dep.Direction), dep.Strength).
			RunWith(tx)
		if _, err := insert.Exec(); err != nil {
			return fmt.Errorf("failed to insert dependency %s/%s: %w", company.Ticker, dep.InputName, err)
		}
	}

	return tx.Commit()
}

// GetCompany fetches a single company by ticker.
func (s *Store) GetCompany(ticker string) (types.Company, error) {
	query := s.sq.
		Select("ticker", "name", "sector", "industry", "description", "extras").
		From("companies").
		Where(squirrel.Eq{"ticker": ticker}).
		RunWith(s.db)

	var company types.Company
	var extras string
	err := query.QueryRow().Scan(&company.Ticker, &company.Name, &company.Sector,
		&company.Industry, &company.Description, &extras)
	if err == sql.ErrNoRows {
		return types.Company{}, errors.Newf(errors.ErrCodeCompanyNotFound, "company %s not found", ticker)
	}
	if err != nil {
		return types.Company{}, fmt.Errorf("failed to query company %s: %w", ticker, err)
	}

	if extras != "" {
		if err := json.Unmarshal([]byte(extras), &company.Extras); err != nil {
			return types.Company{}, fmt.Errorf("failed to decode extras for %s: %w", ticker, err)
		}
	}

	return company, nil
}

// ListCompanies returns every company in the universe, ordered by ticker.
func (s *Store) ListCompanies() ([]types.Company, error) {
	query := s.sq.
		Select("ticker", "name", "sector", "industry", "description", "extras").
		From("companies").
		OrderBy("ticker").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []types.Company
	for rows.Next() {
		var company types.Company
		var extras string
		if err := rows.Scan(&company.Ticker, &company.Name, &company.Sector,
			&company.Industry, &company.Description, &extras); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		if extras != "" {
			if err := json.Unmarshal([]byte(extras), &company.Extras); err != nil {
				return nil, fmt.Errorf("failed to decode extras for %s: %w", company.Ticker, err)
			}
		}
		companies = append(companies, company)
	}

	return companies, rows.Err()
}

// GetDependencies returns the input dependency map for a ticker.
func (s *Store) GetDependencies(ticker string) ([]types.InputDependency, error) {
	query := s.sq.
		Select("input_name", "macro_symbol", "direction", "strength").
		From("input_dependencies").
		Where(squirrel.Eq{"ticker": ticker}).
		OrderBy("input_name").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies for %s: %w", ticker, err)
	}
	defer rows.Close()

	var deps []types.InputDependency
	for rows.Next() {
		dep := types.InputDependency{Ticker: ticker}
		var symbol string
		if err := rows.Scan(&dep.InputName, &symbol, &dep.Direction, &dep.Strength); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if symbol != "" {
			dep.MacroSymbol = optional.Some(symbol)
		}
		deps = append(deps, dep)
	}

	return deps, rows.Err()
}
