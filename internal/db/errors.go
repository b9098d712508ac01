package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResults is returned when a lookup matches no row
	ErrNoResults = errors.New("no results found")
)

// ErrorWithOperation wraps an error with operation context
func ErrorWithOperation(err error, operation string) error {
	if err == nil {
		return fmt.Errorf("%s: <nil>", operation)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// QueryError creates a structured query error with context
func QueryError(err error, operation string, details string) error {
	if details != "" {
		return fmt.Errorf("%s: %s: %w", operation, details, err)
	}
	return ErrorWithOperation(err, operation)
}

// ConnectionError wraps connection errors with context
func ConnectionError(err error, dbType string, details string) error {
	if details != "" {
		return fmt.Errorf("failed to connect to %s database: %s: %w", dbType, details, err)
	}
	return fmt.Errorf("failed to connect to %s database: %w", dbType, err)
}

// SchemaError wraps schema-related errors
func SchemaError(err error, operation string, table string) error {
	return fmt.Errorf("schema %s failed for table %s: %w", operation, table, err)
}

// NotFoundError reports a missing entity. It matches ErrNoResults.
func NotFoundError(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNoResults)
}

// ValidationError returns a structured validation error
func ValidationError(what string, reason string) error {
	return fmt.Errorf("validation error for %s: %s", what, reason)
}

// IsNoResults checks if the error is a "no results" error
func IsNoResults(err error) bool {
	return errors.Is(err, ErrNoResults)
}
