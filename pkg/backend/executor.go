// Package backend routes rendered SQL to the relational or warehouse
// executor and converts results into a backend-neutral row set.
package backend

import "context"

// AdHocRowLimit caps every ad-hoc statement run through the test path.
const AdHocRowLimit = 100

// RowSet is the uniform result shape returned by every backend.
type RowSet struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// QueryExecutor runs one rendered SQL statement against a single backend.
// A positive limit bounds the result by wrapping the statement; zero means
// unbounded.
type QueryExecutor interface {
	Query(ctx context.Context, sqlQuery string, limit int) (*RowSet, error)
	Name() string
	Close() error
}
