// Package sentinel names the infrastructure outcomes stores report. Callers
// match with errors.Is and map them to domain error codes at the edge.
package sentinel

import "errors"

var (
	// ErrNotFound means the store has no such record.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means a backing store or breaker refused to answer.
	ErrUnavailable = errors.New("unavailable")
)
