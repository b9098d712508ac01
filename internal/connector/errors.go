package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/metricboost/metric-engine/internal/model"
)

var (
	ErrDataSourceDisabled = errors.New("data source is disabled")
	ErrUnsupportedType    = errors.New("unsupported data source type")
)

// Kind classifies a data source failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectivity
	KindTimeout
	KindAuth
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindQuery:
		return "query"
	}
	return "unknown"
}

// ConnectionError is returned when a data source cannot be opened or reached.
type ConnectionError struct {
	DataSource int64
	Type       model.DataSourceType
	Op         string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("data source %d (%s): %s: %v", e.DataSource, e.Type, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Kind() Kind {
	if errors.Is(e.Err, ErrDataSourceDisabled) {
		return KindConnectivity
	}
	if k := Classify(e.Err); k != KindUnknown && k != KindQuery {
		return k
	}
	return KindConnectivity
}

// QueryError is returned when the data source rejects a statement.
type QueryError struct {
	DataSource int64
	SQL        string
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("data source %d: query failed: %v", e.DataSource, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Kind() Kind {
	if k := Classify(e.Err); k != KindUnknown {
		return k
	}
	return KindQuery
}

var (
	connectivityPatterns = []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"no such host",
		"dial tcp",
		"dial unix",
		"broken pipe",
		"network is unreachable",
		"no route to host",
		"driver: bad connection",
		"sql: database is closed",
		"unable to open database file",
	}
	timeoutPatterns = []string{
		"timeout",
		"deadline exceeded",
		"timed out",
		"canceling statement",
	}
	authPatterns = []string{
		"access denied",
		"authentication failed",
		"password authentication",
		"permission denied",
		"unauthorized",
	}
	queryPatterns = []string{
		"syntax error",
		"unknown column",
		"no such column",
		"no such table",
		"does not exist",
		"doesn't exist",
		"unknown table",
		"unknown identifier",
	}
)

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Classify inspects an error chain and message to find out what went wrong.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authPatterns):
		return KindAuth
	case containsAny(msg, connectivityPatterns):
		return KindConnectivity
	case containsAny(msg, timeoutPatterns):
		return KindTimeout
	case containsAny(msg, queryPatterns):
		return KindQuery
	}
	return KindUnknown
}

// KindOf reports the kind of a connector error, or KindUnknown.
func KindOf(err error) Kind {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Kind()
	}
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return queryErr.Kind()
	}
	return Classify(err)
}
