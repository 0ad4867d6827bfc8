package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a value that libinjection flagged.
type InjectionCheckResult struct {
	Name        string // Field or parameter the value belongs to
	Value       string
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckLiteralForInjection screens a value that will be rendered into DDL
// (column defaults cannot be bound as parameters). Only strings are checked.
// Returns nil when the value is clean.
func CheckLiteralForInjection(name string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok || strValue == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Name:        name,
		Value:       strValue,
		Fingerprint: string(fingerprint),
	}
}

// CheckLiterals runs CheckLiteralForInjection on every entry, ordered by name.
func CheckLiterals(values map[string]any) []*InjectionCheckResult {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		if result := CheckLiteralForInjection(name, values[name]); result != nil {
			results = append(results, result)
		}
	}
	return results
}
