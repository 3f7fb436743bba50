package store

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

type seedDoc struct {
	Products []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Unit        string `yaml:"unit"`
	} `yaml:"products"`
	Factors []struct {
		ID            string  `yaml:"id"`
		Name          string  `yaml:"name"`
		Unit          string  `yaml:"unit"`
		Category      string  `yaml:"category"`
		KgCO2ePerUnit float64 `yaml:"kg_co2e_per_unit"`
		Source        string  `yaml:"source"`
	} `yaml:"factors"`
}

// seedIfEmpty loads the embedded catalog the first time the database is
// created, so the tool has products and factors out of the box.
func (s *Store) seedIfEmpty() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return fmt.Errorf("error counting products: %w", err)
	}
	if count > 0 {
		return nil
	}

	var doc seedDoc
	if err := yaml.Unmarshal(seedYAML, &doc); err != nil {
		return fmt.Errorf("error parsing seed catalog: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range doc.Products {
		if _, err := tx.Exec(
			`INSERT INTO products (id, name, description, unit) VALUES (?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.Unit); err != nil {
			return fmt.Errorf("error seeding product %q: %w", p.ID, err)
		}
	}
	for _, f := range doc.Factors {
		if _, err := tx.Exec(
			`INSERT INTO emission_factors (id, name, unit, category, kg_co2e_per_unit, source)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, f.Name, f.Unit, f.Category, f.KgCO2ePerUnit, f.Source); err != nil {
			return fmt.Errorf("error seeding factor %q: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing seed: %w", err)
	}
	s.logger.Info(fmt.Sprintf("seeded catalog: %d products, %d factors", len(doc.Products), len(doc.Factors)))
	return nil
}
