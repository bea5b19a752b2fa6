package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/lumina-bi/lumina-engine/pkg/models"
)

// InjectionCheckResult describes one filter value that tripped the
// injection screen.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if a SQL injection pattern was detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Filter parameter that failed the check
	ParamValue  string // The value that was checked
}

// CheckValueForInjection runs libinjection over a single filter value.
// Returns nil when the value is clean.
//
// Validated-query execution substitutes values as escaped literals, so the
// screen only gates the admin ad-hoc path, where the SQL itself is caller
// supplied and a hostile value would land in an unreviewed statement.
func CheckValueForInjection(paramName, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  value,
	}
}

// CheckFilterValues screens every filter value and returns a result per
// dirty value. An empty slice means all values are clean.
func CheckFilterValues(filters models.FilterParams) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range filters {
		if value == "" {
			continue
		}
		if result := CheckValueForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
