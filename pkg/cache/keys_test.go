package cache

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lumina-bi/lumina-engine/pkg/models"
)

func TestFilterHash_OrderIndependent(t *testing.T) {
	a := models.FilterParams{}
	a["region"] = "Cairo"
	a["tier"] = "premium"
	a["start_date"] = "2025-01-01"

	b := models.FilterParams{}
	b["start_date"] = "2025-01-01"
	b["tier"] = "premium"
	b["region"] = "Cairo"

	if FilterHash(a) != FilterHash(b) {
		t.Errorf("hash differs for same filter set: %s vs %s", FilterHash(a), FilterHash(b))
	}
}

func TestFilterHash_DistinctFilters(t *testing.T) {
	base := models.FilterParams{"region": "Cairo"}
	tests := []struct {
		name  string
		other models.FilterParams
	}{
		{name: "different value", other: models.FilterParams{"region": "Giza"}},
		{name: "different key", other: models.FilterParams{"tier": "Cairo"}},
		{name: "extra key", other: models.FilterParams{"region": "Cairo", "tier": "premium"}},
		{name: "empty set", other: models.FilterParams{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if FilterHash(base) == FilterHash(tt.other) {
				t.Errorf("hash collision between %v and %v", base, tt.other)
			}
		})
	}
}

func TestFilterHash_Is128Bit(t *testing.T) {
	hash := FilterHash(models.FilterParams{"region": "Cairo"})
	if len(hash) != 32 {
		t.Errorf("hash length = %d hex chars, want 32", len(hash))
	}
}

func TestResultKey(t *testing.T) {
	queryID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	filters := models.FilterParams{"region": "Cairo"}

	key := ResultKey(queryID, filters)
	wantPrefix := "validated_query:550e8400-e29b-41d4-a716-446655440000:"
	if !strings.HasPrefix(key, wantPrefix) {
		t.Errorf("key %q missing prefix %q", key, wantPrefix)
	}
	if key != wantPrefix+FilterHash(filters) {
		t.Errorf("key %q does not end in filter hash", key)
	}
	if !strings.HasPrefix(key, ResultKeyPrefix(queryID)) {
		t.Errorf("key %q not covered by its invalidation prefix %q", key, ResultKeyPrefix(queryID))
	}
}

func TestFilterOptionsKey(t *testing.T) {
	if got := FilterOptionsKey("region"); got != "filter_options:region" {
		t.Errorf("got %q, want %q", got, "filter_options:region")
	}
}

func TestAdHocKey(t *testing.T) {
	key := AdHocKey("SELECT 1", "analyst")
	if !strings.HasPrefix(key, "query:") {
		t.Errorf("key %q missing query: prefix", key)
	}
	if len(key) != len("query:")+32 {
		t.Errorf("key %q should carry a 32-char md5 digest", key)
	}
	if key != AdHocKey("SELECT 1", "analyst") {
		t.Error("key not deterministic")
	}
	if key == AdHocKey("SELECT 1", "admin") {
		t.Error("role does not separate keys")
	}
	if key == AdHocKey("SELECT 2", "analyst") {
		t.Error("statement does not separate keys")
	}
}
