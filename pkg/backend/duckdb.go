package backend

import (
	"context"
	"fmt"

	"github.com/lumina-bi/lumina-engine/pkg/database"
)

type duckdbExecutor struct {
	warehouse *database.Warehouse
}

var _ QueryExecutor = (*duckdbExecutor)(nil)

// NewDuckDBExecutor wraps the analytical warehouse handle as a
// QueryExecutor.
func NewDuckDBExecutor(warehouse *database.Warehouse) QueryExecutor {
	return &duckdbExecutor{warehouse: warehouse}
}

func (e *duckdbExecutor) Name() string { return "duckdb" }

func (e *duckdbExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*RowSet, error) {
	queryToRun := sqlQuery
	if limit > 0 {
		queryToRun = fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, limit)
	}

	rows, err := e.warehouse.DB.QueryContext(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			val := values[i]
			// database/sql surfaces text columns as []byte; convert so the
			// row set serializes as JSON strings.
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &RowSet{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func (e *duckdbExecutor) Close() error {
	return e.warehouse.Close()
}
