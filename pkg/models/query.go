package models

import (
	"time"

	"github.com/google/uuid"
)

// Query scopes tag a validated query with its intended audience.
const (
	ScopeExecutive  = "executive"
	ScopeOperations = "operations"
	ScopeFinance    = "finance"
	ScopeGeneral    = "general"
)

// Chart hints tell the dashboard how to render a query's result.
const (
	ChartLine   = "line"
	ChartBar    = "bar"
	ChartPie    = "pie"
	ChartTable  = "table"
	ChartScalar = "scalar"
)

// Backend affinity is authored with the query and decides which database
// answers it. AffinityAuto defers to the router's classifier.
const (
	AffinityAuto       = "auto"
	AffinityRelational = "relational"
	AffinityWarehouse  = "warehouse"
)

// ValidatedQuery is an admin-approved SQL template exposed to dashboards and
// chat agents only in parameterized form. Templates use :name placeholders
// bound from filter values at execution time. Queries are never hard
// deleted; deactivation flips Active off.
type ValidatedQuery struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Scope           string     `json:"scope"`
	SQLTemplate     string     `json:"sql_template"`
	ChartHint       string     `json:"chart_hint"`
	BackendAffinity string     `json:"backend_affinity"`
	ValidatedBy     string     `json:"validated_by"`
	ValidatedAt     time.Time  `json:"validated_at"`
	Active          bool       `json:"active"`
	RunCount        int64      `json:"run_count"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsValidScope reports whether s is one of the closed set of query scopes.
func IsValidScope(s string) bool {
	switch s {
	case ScopeExecutive, ScopeOperations, ScopeFinance, ScopeGeneral:
		return true
	}
	return false
}

// IsValidChartHint reports whether h is a known chart hint.
func IsValidChartHint(h string) bool {
	switch h {
	case ChartLine, ChartBar, ChartPie, ChartTable, ChartScalar:
		return true
	}
	return false
}

// IsValidAffinity reports whether a is a known backend affinity.
func IsValidAffinity(a string) bool {
	switch a {
	case AffinityAuto, AffinityRelational, AffinityWarehouse:
		return true
	}
	return false
}
