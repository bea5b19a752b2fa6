package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lumina-bi/lumina-engine/pkg/apperrors"
)

type seedQuery struct {
	Name            string `yaml:"name"`
	Scope           string `yaml:"scope"`
	SQLTemplate     string `yaml:"sql_template"`
	ChartHint       string `yaml:"chart_hint"`
	BackendAffinity string `yaml:"backend_affinity"`
	ValidatedBy     string `yaml:"validated_by"`
}

type seedDimension struct {
	Label      string `yaml:"label"`
	Param      string `yaml:"param"`
	Control    string `yaml:"control"`
	OptionsSQL string `yaml:"options_sql"`
}

// catalogSeed is the on-disk shape of a seed file.
type catalogSeed struct {
	Queries    []seedQuery     `yaml:"queries"`
	Dimensions []seedDimension `yaml:"dimensions"`
}

// CatalogueSeeder bootstraps an empty catalogue from a YAML seed file so a
// fresh deployment has something to serve. Entries go through the same
// services as admin writes, so seed templates get the same validation.
type CatalogueSeeder struct {
	queries ValidatedQueryService
	filters FilterService
	logger  *zap.Logger
}

// NewCatalogueSeeder creates a seeder over the catalogue services.
func NewCatalogueSeeder(queries ValidatedQueryService, filters FilterService, logger *zap.Logger) *CatalogueSeeder {
	return &CatalogueSeeder{
		queries: queries,
		filters: filters,
		logger:  logger,
	}
}

// Seed loads the file at path and publishes its entries. It is a no-op when
// path is empty or the catalogue already has active queries. Conflicting
// entries are skipped so partial seeds can be rerun.
func (s *CatalogueSeeder) Seed(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	existing, err := s.queries.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to check catalogue before seeding: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Debug("catalogue already populated, skipping seed",
			zap.Int("active_queries", len(existing)))
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed catalogSeed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	created := 0
	for _, q := range seed.Queries {
		if q.ValidatedBy == "" {
			q.ValidatedBy = "seed"
		}
		_, err := s.queries.Create(ctx, &CreateValidatedQueryRequest{
			Name:            q.Name,
			Scope:           q.Scope,
			SQLTemplate:     q.SQLTemplate,
			ChartHint:       q.ChartHint,
			BackendAffinity: q.BackendAffinity,
			ValidatedBy:     q.ValidatedBy,
		})
		if errors.Is(err, apperrors.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed query %q: %w", q.Name, err)
		}
		created++
	}

	for _, d := range seed.Dimensions {
		_, err := s.filters.CreateDimension(ctx, &CreateFilterDimensionRequest{
			Label:      d.Label,
			Param:      d.Param,
			Control:    d.Control,
			OptionsSQL: d.OptionsSQL,
		})
		if errors.Is(err, apperrors.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed dimension %q: %w", d.Param, err)
		}
		created++
	}

	s.logger.Info("catalogue seeded", zap.String("path", path), zap.Int("entries", created))
	return nil
}
