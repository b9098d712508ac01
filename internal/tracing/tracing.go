package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thanos-io/thanos/pkg/tracing/otlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/metricboost/metric-engine/internal/config"
)

type kitLogger struct {
	logger *slog.Logger
}

func newKitLogger(logger *slog.Logger) *kitLogger {
	return &kitLogger{logger: logger}
}

func (kl *kitLogger) Log(keyvals ...interface{}) error {
	kl.logger.Log(context.Background(), slog.LevelInfo, "", keyvals...)
	return nil
}

// WithTracing installs the global tracer provider built from the tracing
// section of the configuration.
func WithTracing(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*trace.TracerProvider, error) {
	if !cfg.IsTracingEnabled() {
		return nil, fmt.Errorf("tracing is not configured")
	}
	tc := *cfg.Tracing
	if name := cfg.GetTracingServiceName(); name != "" {
		tc.ServiceName = name
	}

	f, err := yaml.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal tracing config: %w", err)
	}

	tp, err := otlp.NewTracerProvider(ctx, newKitLogger(logger), f)
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	return tp, nil
}
