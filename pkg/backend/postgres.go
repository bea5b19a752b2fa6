package backend

import (
	"context"
	"fmt"

	"github.com/lumina-bi/lumina-engine/pkg/database"
)

type postgresExecutor struct {
	db *database.DB
}

var _ QueryExecutor = (*postgresExecutor)(nil)

// NewPostgresExecutor wraps the primary relational pool as a QueryExecutor.
func NewPostgresExecutor(db *database.DB) QueryExecutor {
	return &postgresExecutor{db: db}
}

func (e *postgresExecutor) Name() string { return "postgres" }

func (e *postgresExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*RowSet, error) {
	queryToRun := sqlQuery
	if limit > 0 {
		queryToRun = fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, limit)
	}

	rows, err := e.db.Pool.Query(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			rowMap[col] = values[i]
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

// Close is a no-op: the pool is owned by the application, not the executor.
func (e *postgresExecutor) Close() error { return nil }
