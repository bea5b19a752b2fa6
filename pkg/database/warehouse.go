package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/lumina-bi/lumina-engine/pkg/config"
)

// Warehouse wraps the embedded DuckDB database answering analytical queries.
// The pool is bounded separately from the relational pool; warehouse loss is
// tolerated at runtime because the router falls back to the relational
// backend.
type Warehouse struct {
	*sql.DB
}

// NewWarehouse opens the analytical warehouse. Returns nil if no warehouse
// is configured (path is empty), which routes every query to the relational
// backend regardless of classification. The path ":memory:" opens an
// in-memory database for tests and local runs.
func NewWarehouse(ctx context.Context, cfg *config.WarehouseConfig) (*Warehouse, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdle)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	return &Warehouse{DB: db}, nil
}

// Close closes the warehouse database.
func (w *Warehouse) Close() error {
	return w.DB.Close()
}
