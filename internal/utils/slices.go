package utils

import "strings"

// UniqueTrimmedStrings trims every entry and drops blanks and repeats,
// keeping first-seen order.
func UniqueTrimmedStrings(input []string) []string {
	seen := make(map[string]struct{}, len(input))
	var result []string

	for _, s := range input {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; !exists {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
