// Package strings parses the comma-separated lists used in env config.
package strings

import (
	"strings"
)

// SplitList splits raw on commas, trims each item and drops empty ones.
// Duplicates are compared case-insensitively and the first spelling wins,
// which suits header names such as "X-Real-IP" and "x-real-ip".
//
//	SplitList(" X-Real-IP, x-real-ip ,,Forwarded")
//	// Returns: []string{"X-Real-IP", "Forwarded"}
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item == "" {
			continue
		}
		folded := strings.ToLower(item)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		result = append(result, item)
	}
	return result
}
