// Package cache provides the ephemeral result store for rendered query
// results and filter option lists, with deterministic key construction.
package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumina-bi/lumina-engine/pkg/models"
)

// Key namespaces. Result entries are invalidated per query by prefix.
const (
	resultKeyPrefix        = "validated_query:"
	filterOptionsKeyPrefix = "filter_options:"
	adHocKeyPrefix         = "query:"
)

// FilterHash returns a 128-bit content hash of the filter set, hex encoded.
// The canonical form is the JSON encoding, which sorts map keys, so the
// hash is independent of filter ordering.
func FilterHash(filters models.FilterParams) string {
	canonical, err := json.Marshal(filters)
	if err != nil {
		// A map[string]string cannot fail to marshal.
		panic(fmt.Sprintf("marshal filter params: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum[:16])
}

// ResultKey builds the cache key for one validated query execution under a
// normalized filter set.
func ResultKey(queryID uuid.UUID, filters models.FilterParams) string {
	return resultKeyPrefix + queryID.String() + ":" + FilterHash(filters)
}

// ResultKeyPrefix returns the prefix under which every cached result for
// the query lives. Invalidation deletes by this prefix.
func ResultKeyPrefix(queryID uuid.UUID) string {
	return resultKeyPrefix + queryID.String() + ":"
}

// AllResultsPrefix covers every cached validated-query result.
func AllResultsPrefix() string {
	return resultKeyPrefix
}

// FilterOptionsKey builds the cache key for a filter dimension's option
// list. Option lists vary only by parameter name.
func FilterOptionsKey(param string) string {
	return filterOptionsKeyPrefix + param
}

// FilterOptionsPrefix covers every cached option list.
func FilterOptionsPrefix() string {
	return filterOptionsKeyPrefix
}

// AdHocKey builds the cache key for the ad-hoc SQL tool, keyed by statement
// text and the caller's role.
func AdHocKey(sqlText, role string) string {
	sum := md5.Sum([]byte(sqlText + role))
	return fmt.Sprintf("%s%x", adHocKeyPrefix, sum)
}
