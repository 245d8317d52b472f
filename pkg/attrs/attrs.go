// Package attrs reads values back out of slog-style key/value argument lists.
package attrs

import "fmt"

// String returns the value stored under key in a [key1, value1, key2, value2, ...]
// list. Strings, errors and fmt.Stringer values are rendered as text; any
// other value, a missing key or an odd trailing key yields "". The first
// occurrence of key wins.
func String(args []any, key string) string {
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); !ok || k != key {
			continue
		}
		switch v := args[i+1].(type) {
		case string:
			return v
		case error:
			return v.Error()
		case fmt.Stringer:
			return v.String()
		default:
			return ""
		}
	}
	return ""
}
