package textutil

import (
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Fold returns the Unicode case-folded form of s for caseless comparison.
func Fold(s string) string {
	return folder.String(s)
}

// NormalizeTag trims and case-folds a product tag so rule matching is
// insensitive to case and surrounding whitespace.
func NormalizeTag(tag string) string {
	return Fold(strings.TrimSpace(tag))
}

// ContainsFold reports whether needle occurs in haystack under case folding.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(Fold(haystack), Fold(needle))
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
