package backend

import (
	"regexp"
	"strings"
)

// warehouseFunctions are analytical dialect functions whose presence in a
// template marks it for the warehouse. Matched as function calls on the
// unrendered text.
var warehouseFunctions = []string{
	"approx_count_distinct",
	"quantile_cont",
	"date_diff",
	"median",
	"list_aggregate",
}

// Classifier decides whether a template deserves the analytical warehouse.
// The decision looks at the original, unrendered SQL: rendering never
// changes the tables or functions a template touches.
type Classifier struct {
	tablePatterns []*regexp.Regexp
}

// NewClassifier builds a classifier over the configured warehouse table
// names.
func NewClassifier(warehouseTables []string) *Classifier {
	patterns := make([]*regexp.Regexp, 0, len(warehouseTables))
	for _, table := range warehouseTables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(table)+`\b`))
	}
	return &Classifier{tablePatterns: patterns}
}

// IsAnalytical reports whether the template references a warehouse table or
// calls an analytical dialect function.
func (c *Classifier) IsAnalytical(sqlTemplate string) bool {
	for _, pattern := range c.tablePatterns {
		if pattern.MatchString(sqlTemplate) {
			return true
		}
	}
	lowered := strings.ToLower(sqlTemplate)
	for _, fn := range warehouseFunctions {
		if strings.Contains(lowered, fn+"(") {
			return true
		}
	}
	return false
}
