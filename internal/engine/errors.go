package engine

import (
	"context"
	"errors"

	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/dialect"
	"github.com/metricboost/metric-engine/internal/fieldrole"
	"github.com/metricboost/metric-engine/internal/query"
)

var ErrDataModelDisabled = errors.New("data model is disabled")

// Reason is the failure class of err, used as metric label.
func Reason(err error) string {
	var (
		cfgErr  *fieldrole.ConfigurationError
		valErr  *query.ValidationError
		connErr *connector.ConnectionError
		qErr    *connector.QueryError
		dErr    *dialect.UnknownDialectError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &dErr), errors.Is(err, ErrDataModelDisabled):
		return "configuration"
	case errors.As(err, &valErr):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &qErr):
		return "query"
	}
	return "unknown"
}
