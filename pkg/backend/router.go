package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/logging"
	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/retry"
	"github.com/lumina-bi/lumina-engine/pkg/sql"
)

// Router picks a backend per execution. Queries with an explicit affinity
// go where they point; auto queries fall to the classifier heuristic. The
// warehouse path retries with backoff and falls back to the relational
// backend, which is assumed always available: its failures propagate.
type Router struct {
	relational QueryExecutor
	warehouse  QueryExecutor
	classifier *Classifier
	renderer   *sql.Renderer
	retryCfg   *retry.Config
	logger     *zap.Logger
}

// NewRouter builds a Router. warehouse may be nil when no warehouse is
// configured; every execution then uses the relational backend.
func NewRouter(relational, warehouse QueryExecutor, classifier *Classifier, renderer *sql.Renderer, maxRetries int, logger *zap.Logger) *Router {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = maxRetries
	return &Router{
		relational: relational,
		warehouse:  warehouse,
		classifier: classifier,
		renderer:   renderer,
		retryCfg:   retryCfg,
		logger:     logger,
	}
}

// Execute renders the query's template for the chosen backend and runs it.
// Returns the rows and the name of the backend that produced them.
func (r *Router) Execute(ctx context.Context, query *models.ValidatedQuery, filters models.FilterParams) (*RowSet, string, error) {
	return r.route(ctx, query.SQLTemplate, filters, query.BackendAffinity, 0)
}

// ExecuteAdHoc routes one admin-supplied statement the same way a template
// goes, always bounded by the hard row cap. Ad-hoc statements have no
// catalogue entry, so classification is always heuristic.
func (r *Router) ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*RowSet, string, error) {
	return r.route(ctx, sqlText, filters, models.AffinityAuto, AdHocRowLimit)
}

// ExecuteEnumeration runs a filter dimension's options statement. Option
// lists must be complete, so no row cap applies.
func (r *Router) ExecuteEnumeration(ctx context.Context, sqlText string) (*RowSet, string, error) {
	return r.route(ctx, sqlText, models.FilterParams{}, models.AffinityAuto, 0)
}

func (r *Router) route(ctx context.Context, template string, filters models.FilterParams, affinity string, limit int) (*RowSet, string, error) {
	if r.useWarehouse(template, affinity) {
		rendered := r.renderer.Render(template, filters, sql.DialectWarehouse)

		var result *RowSet
		err := retry.Do(ctx, r.retryCfg, func() error {
			rows, qerr := r.warehouse.Query(ctx, rendered, limit)
			if qerr != nil {
				return qerr
			}
			result = rows
			return nil
		})
		if err == nil {
			return result, r.warehouse.Name(), nil
		}
		r.logger.Warn("warehouse execution failed, falling back to relational",
			zap.String("query", logging.SanitizeQuery(rendered)),
			zap.Error(err))
	}

	rendered := r.renderer.Render(template, filters, sql.DialectStandard)
	result, err := r.relational.Query(ctx, rendered, limit)
	if err != nil {
		return nil, "", fmt.Errorf("relational execution failed: %w", err)
	}
	return result, r.relational.Name(), nil
}

// useWarehouse resolves the backend choice for one template.
func (r *Router) useWarehouse(template, affinity string) bool {
	if r.warehouse == nil {
		return false
	}
	switch affinity {
	case models.AffinityRelational:
		return false
	case models.AffinityWarehouse:
		return true
	default:
		return r.classifier.IsAnalytical(template)
	}
}
