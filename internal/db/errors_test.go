package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		message  string
		expected string
	}{
		{
			name:     "database type validation error",
			field:    "database provider",
			message:  "invalid type \"mysql\"",
			expected: "validation error for database provider: invalid type \"mysql\"",
		},
		{
			name:     "empty field and message",
			field:    "",
			message:  "",
			expected: "validation error for : ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidationError(tt.field, tt.message)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestErrorWithOperation(t *testing.T) {
	err := ErrorWithOperation(errors.New("connection refused"), "connecting to database")
	assert.Equal(t, "connecting to database: connection refused", err.Error())

	assert.Equal(t, "noop: <nil>", ErrorWithOperation(nil, "noop").Error())
}

func TestQueryError(t *testing.T) {
	base := errors.New("syntax error")

	err := QueryError(base, "get metric", "id=3")
	assert.Equal(t, "get metric: id=3: syntax error", err.Error())
	assert.ErrorIs(t, err, base)

	assert.Equal(t, "get metric: syntax error", QueryError(base, "get metric", "").Error())
}

func TestConnectionError(t *testing.T) {
	base := errors.New("refused")

	err := ConnectionError(base, "PostgreSQL", "failed to ping database")
	assert.Equal(t, "failed to connect to PostgreSQL database: failed to ping database: refused", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("metric", int64(7))
	assert.Equal(t, "metric 7: no results found", err.Error())
	assert.True(t, IsNoResults(err))
	assert.False(t, IsNoResults(errors.New("other")))
}
