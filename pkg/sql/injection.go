package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a free-text filter value that looks like SQL injection.
type InjectionCheckResult struct {
	Field       string // Name of the filter field that failed the check
	Value       string // The value that was checked
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckFilterValue runs libinjection over a user-supplied filter value.
// Registry queries are parameterized, so this is a rejection filter for
// obviously hostile input rather than the only line of defense.
// Returns nil when the value is clean.
func CheckFilterValue(field, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}

	return &InjectionCheckResult{
		Field:       field,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}

// CheckFilterValues checks every field and returns the ones that failed.
func CheckFilterValues(values map[string]string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for field, value := range values {
		if result := CheckFilterValue(field, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
