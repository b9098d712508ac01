package api

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/rs/cors"

	"github.com/metricboost/metric-engine/api/routes"
	"github.com/metricboost/metric-engine/internal/cache"
	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/db"
	"github.com/metricboost/metric-engine/internal/engine"
	"github.com/metricboost/metric-engine/internal/metadata"
	"github.com/metricboost/metric-engine/internal/probe"
)

const probeLockName = "metric-engine/probe"

func RegisterFlags(fs *flag.FlagSet, configFile *string) {
	fs.StringVar(configFile, "config-file", "", "Path to the configuration file, it takes precedence over the command line flags.")
	fs.StringVar(&config.DefaultConfig.Database.Provider, "database-provider", "sqlite", "The provider of database holding metric definitions. Supported values: postgresql, sqlite.")
	fs.StringVar(&config.DefaultConfig.Server.InsecureListenAddress, "insecure-listen-address", ":9091", "The address the metric-engine HTTP server should listen on.")
	fs.DurationVar(&config.DefaultConfig.Server.ReadHeaderTimeout, "read-header-timeout", 10*time.Second, "Timeout to read request headers.")
	fs.DurationVar(&config.DefaultConfig.Server.ShutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "Time in-flight requests are given to finish on shutdown.")

	db.RegisterPostGreSQLFlags(fs)
	db.RegisterSqliteFlags(fs)
	config.RegisterEngineFlags(fs)
	config.RegisterConnectorFlags(fs)
	config.RegisterCacheFlags(fs)
	config.RegisterProbeFlags(fs)
	config.RegisterLogFlags(fs)
	config.RegisterMemoryLimitFlags(fs)
}

const defaultShutdownTimeout = 15 * time.Second

// shutdown stops accepting connections and waits up to timeout for in-flight
// requests to finish.
func shutdown(srv *http.Server, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func Run() error {
	cfg := config.DefaultConfig

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("metric_engine"),
	)

	var g run.Group

	dbProvider, err := db.GetDbProvider(context.Background(), db.DatabaseProvider(cfg.Database.Provider))
	if err != nil {
		slog.Error("unable to create db provider", "err", err)
		return fmt.Errorf("create db provider: %w", err)
	}
	defer func() {
		if err := dbProvider.Close(); err != nil {
			slog.Error("error closing database provider", "err", err)
		}
	}()

	conn := connector.New(cfg.Connector, reg, connector.WithQueryTimeout(cfg.Engine.QueryTimeout))
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Error("error closing data source connections", "err", err)
		}
	}()

	resultCache, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("unable to create cache", "err", err)
		return fmt.Errorf("create cache: %w", err)
	}
	loader := cache.NewLoader(resultCache, reg)
	defer func() {
		if err := loader.Close(); err != nil {
			slog.Error("error closing cache", "err", err)
		}
	}()

	metricEngine, err := engine.New(cfg.Engine, dbProvider, conn, loader, engine.WithRegisterer(reg))
	if err != nil {
		slog.Error("unable to create engine", "err", err)
		return fmt.Errorf("create engine: %w", err)
	}
	slog.Info("engine configured", "timezone", metricEngine.Location().String(), "connector_mode", cfg.Connector.Mode, "cache", cfg.Cache.Enabled)

	{
		routesHandler, err := routes.NewRoutes(
			routes.WithDBProvider(dbProvider),
			routes.WithEngine(metricEngine),
			routes.WithMetadata(metadata.NewService(dbProvider, conn)),
			routes.WithHandlers(reg, cfg.IsTracingEnabled()),
		)
		if err != nil {
			slog.Error("unable to create routes", "err", err)
			return fmt.Errorf("create routes: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/", routesHandler)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			mux.ServeHTTP(w, r)
		})

		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}).Handler(handler)

		l, err := net.Listen("tcp", cfg.Server.InsecureListenAddress)
		if err != nil {
			slog.Error("failed to listen on address", "err", err)
			return fmt.Errorf("listen: %w", err)
		}

		srv := &http.Server{
			Handler:           corsHandler,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}

		g.Add(func() error {
			slog.Info("listening insecurely", "addr", l.Addr())
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				slog.Error("server stopped", "err", err)
				return err
			}
			return nil
		}, func(error) {
			slog.Info("stopping HTTP Server")
			if err := shutdown(srv, cfg.Server.ShutdownTimeout); err != nil {
				slog.Error("error shutting down server", "err", err)
			}
		})
	}

	if cfg.Probe.Enabled {
		worker, err := probe.NewWorker(dbProvider, conn, cfg.Probe, reg)
		if err != nil {
			slog.Error("unable to create data source probe", "err", err)
		} else {
			switch db.DatabaseProvider(cfg.Database.Provider) {
			case db.PostGreSQL:
				dbProvider.WithDB(func(d *sql.DB) {
					ctx, cancel := context.WithCancel(context.Background())
					g.Add(func() error {
						probe.WithPGAdvisoryLeadership(ctx, d, probe.LockKey(probeLockName), worker.RunLeaderless)
						return nil
					}, func(err error) { cancel() })
				})
			default:
				ctx, cancel := context.WithCancel(context.Background())
				g.Add(func() error { worker.RunLeaderless(ctx); return nil }, func(err error) { cancel() })
			}
		}
	}

	{
		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))
	}

	if err := g.Run(); err != nil {
		if !errors.As(err, &run.SignalError{}) {
			return err
		}
	}
	return nil
}
