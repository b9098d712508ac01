package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/common/version"

	"github.com/metricboost/metric-engine/cmd/api"
	"github.com/metricboost/metric-engine/cmd/seed"
	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/tracing"
)

const program = "metric-engine"

type command struct {
	register func(fs *flag.FlagSet, configFile *string)
	run      func() error
	tracing  bool
}

var commands = map[string]command{
	"api":  {register: api.RegisterFlags, run: api.Run, tracing: true},
	"seed": {register: seed.RegisterFlags, run: seed.Run},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <api|seed> [flags]\n       %s -version\n", program, program)
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	case "pretty":
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})), nil
	}
	return nil, fmt.Errorf("invalid log format %q", cfg.Format)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if os.Args[1] == "-version" || os.Args[1] == "--version" || os.Args[1] == "version" {
		fmt.Println(version.Print(program))
		return
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	// credentials may live in a .env file next to the binary
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "unable to load .env file: %v\n", err)
		os.Exit(1)
	}

	var configFile string
	fs := flag.NewFlagSet(program+" "+os.Args[1], flag.ExitOnError)
	cmd.register(fs, &configFile)
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if configFile != "" {
		if err := config.LoadConfig(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "unable to load config file: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := newLogger(config.DefaultConfig.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	slog.Info("starting", "command", os.Args[1], "version", version.Info(), "build_context", version.BuildContext())
	slog.Debug("effective configuration", "config", config.DefaultConfig.GetSanitizedConfig())

	if limit, err := config.DefaultConfig.MemoryLimit.ApplyMemoryLimit(logger); err != nil {
		slog.Warn("unable to set memory limit", "err", err)
	} else if limit > 0 {
		slog.Info("memory limit set", "bytes", limit)
	}

	if cmd.tracing && config.DefaultConfig.IsTracingEnabled() {
		tp, err := tracing.WithTracing(context.Background(), logger, config.DefaultConfig)
		if err != nil {
			slog.Error("unable to set up tracing", "err", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("error shutting down tracer provider", "err", err)
			}
		}()
	}

	if err := cmd.run(); err != nil {
		slog.Error("exited with error", "err", err)
		os.Exit(1)
	}
}
