// Package store persists the product catalog, emission factors, and wizard
// state in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/logger"
)

// ErrNotFound is returned for lookups of unknown catalog ids.
var ErrNotFound = errors.New("not found")

// Product is a catalog product the user can select.
type Product struct {
	ID          string
	Name        string
	Description string
	Unit        string
}

// EmissionFactor converts one unit of something into kilograms of CO2e.
type EmissionFactor struct {
	ID            string
	Name          string
	Unit          string
	Category      core.Category
	KgCO2ePerUnit float64
	Source        string
}

// Store wraps the SQLite database. It doubles as the wizard's key/value
// persistence collaborator and as the local backend's factor catalog.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens (or creates) the database at path, creates missing tables, and
// seeds the catalog when it is empty. Use ":memory:" for a throwaway store.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	s := &Store{db: db, logger: log}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seedIfEmpty(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			unit        TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS emission_factors (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			unit            TEXT NOT NULL,
			category        TEXT NOT NULL,
			kg_co2e_per_unit REAL NOT NULL,
			source          TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS wizard_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("error creating tables: %w", err)
	}
	return nil
}

// Get implements core.KV. Absence is reported through the bool.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM wizard_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading key %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements core.KV.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO wizard_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("error writing key %q: %w", key, err)
	}
	return nil
}

// ListProducts returns the catalog ordered by name.
func (s *Store) ListProducts() ([]Product, error) {
	rows, err := s.db.Query(`SELECT id, name, description, unit FROM products ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error listing products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Unit); err != nil {
			return nil, fmt.Errorf("error scanning product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct looks up one product by id.
func (s *Store) GetProduct(id string) (Product, error) {
	var p Product
	err := s.db.QueryRow(
		`SELECT id, name, description, unit FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Unit)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, fmt.Errorf("product %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Product{}, fmt.Errorf("error reading product %q: %w", id, err)
	}
	return p, nil
}

// ListFactors returns all emission factors ordered by name.
func (s *Store) ListFactors() ([]EmissionFactor, error) {
	rows, err := s.db.Query(
		`SELECT id, name, unit, category, kg_co2e_per_unit, source
		 FROM emission_factors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error listing factors: %w", err)
	}
	defer rows.Close()

	var factors []EmissionFactor
	for rows.Next() {
		var f EmissionFactor
		var category string
		if err := rows.Scan(&f.ID, &f.Name, &f.Unit, &category, &f.KgCO2ePerUnit, &f.Source); err != nil {
			return nil, fmt.Errorf("error scanning factor: %w", err)
		}
		f.Category = core.Category(category)
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// GetFactor looks up one emission factor by id.
func (s *Store) GetFactor(id string) (EmissionFactor, error) {
	var f EmissionFactor
	var category string
	err := s.db.QueryRow(
		`SELECT id, name, unit, category, kg_co2e_per_unit, source
		 FROM emission_factors WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.Unit, &category, &f.KgCO2ePerUnit, &f.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return EmissionFactor{}, fmt.Errorf("factor %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return EmissionFactor{}, fmt.Errorf("error reading factor %q: %w", id, err)
	}
	f.Category = core.Category(category)
	return f, nil
}

// FactorKgCO2e implements compute.FactorCatalog.
func (s *Store) FactorKgCO2e(id string) (float64, bool, error) {
	f, err := s.GetFactor(id)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return f.KgCO2ePerUnit, true, nil
}
