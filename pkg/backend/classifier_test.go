package backend

import "testing"

func TestClassifier_IsAnalytical(t *testing.T) {
	classifier := NewClassifier([]string{"events_fact", "page_views", ""})

	cases := []struct {
		name     string
		template string
		want     bool
	}{
		{"warehouse table", "SELECT day, COUNT(*) FROM events_fact GROUP BY day", true},
		{"warehouse table case insensitive", "select * from EVENTS_FACT", true},
		{"warehouse table in join", "SELECT * FROM payments p JOIN page_views v ON v.session_id = p.session_id", true},
		{"substring of a table name", "SELECT * FROM events_fact_archive", false},
		{"analytical function", "SELECT approx_count_distinct(user_id) FROM payments", true},
		{"analytical function upper case", "SELECT MEDIAN(amount) FROM payments", true},
		{"quantile", "SELECT quantile_cont(amount, 0.5) FROM payments", true},
		{"plain aggregate", "SELECT region, SUM(amount) FROM payments GROUP BY region", false},
		{"plain lookup", "SELECT * FROM merchants WHERE id = :merchant_id", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifier.IsAnalytical(tc.template); got != tc.want {
				t.Errorf("IsAnalytical(%q) = %v, want %v", tc.template, got, tc.want)
			}
		})
	}
}

func TestClassifier_NoWarehouseTables(t *testing.T) {
	classifier := NewClassifier(nil)

	if classifier.IsAnalytical("SELECT * FROM events_fact") {
		t.Error("without configured tables only function markers may classify")
	}
	if !classifier.IsAnalytical("SELECT date_diff('day', a, b) FROM payments") {
		t.Error("function markers must classify regardless of table config")
	}
}
