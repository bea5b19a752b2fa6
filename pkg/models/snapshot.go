package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResultSnapshot is the durable record of one query execution: the filters
// used and the serialized result. Snapshots never expire and are not
// consulted by the read path; they exist as an audit and materialization
// trail independent of the ephemeral cache.
type ResultSnapshot struct {
	ID       uuid.UUID       `json:"id"`
	QueryID  uuid.UUID       `json:"query_id"`
	RunAt    time.Time       `json:"run_at"`
	Filters  FilterParams    `json:"filters"`
	RowCount int             `json:"row_count"`
	Result   json.RawMessage `json:"result"`
}

// CacheInvalidation is an append-only log entry recording that a query's
// ephemeral cache entries were deleted and why. Informational only; cache
// decisions never read it.
type CacheInvalidation struct {
	ID          uuid.UUID `json:"id"`
	QueryID     uuid.UUID `json:"query_id"`
	Reason      string    `json:"reason"`
	KeysDeleted int       `json:"keys_deleted"`
	CreatedAt   time.Time `json:"created_at"`
}
