package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

func RegisterEngineFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&DefaultConfig.Engine.Timezone, "engine-timezone", os.Getenv("METRIC_ENGINE_TZ"), "Time zone used to compute metric periods, can also be set via METRIC_ENGINE_TZ env var. Empty means local time.")
	flagSet.IntVar(&DefaultConfig.Engine.MaxConcurrency, "engine-max-concurrency", DefaultConfig.Engine.MaxConcurrency, "Maximum number of metrics assembled concurrently for a list request.")
	flagSet.IntVar(&DefaultConfig.Engine.RankLimit, "engine-rank-limit", DefaultConfig.Engine.RankLimit, "Rows kept per period by the ranked drill-down query.")
	flagSet.IntVar(&DefaultConfig.Engine.ListTopN, "engine-list-top-n", DefaultConfig.Engine.ListTopN, "Rows kept per period for drill-downs in the metric list.")
	flagSet.IntVar(&DefaultConfig.Engine.DetailTopN, "engine-detail-top-n", DefaultConfig.Engine.DetailTopN, "Rows kept per period for drill-downs in the metric detail.")
	flagSet.DurationVar(&DefaultConfig.Engine.QueryTimeout, "engine-query-timeout", DefaultConfig.Engine.QueryTimeout, "Timeout of a single data source query (0 uses the driver default).")
}

func RegisterConnectorFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&DefaultConfig.Connector.Mode, "connector-mode", DefaultConfig.Connector.Mode, "Data source connection mode. Supported values: ephemeral, pooled.")
	flagSet.DurationVar(&DefaultConfig.Connector.DialTimeout, "connector-dial-timeout", DefaultConfig.Connector.DialTimeout, "Timeout to dial a data source.")
	flagSet.IntVar(&DefaultConfig.Connector.MaxOpenConns, "connector-max-open-conns", 5, "Maximum open connections per pooled data source.")
	flagSet.IntVar(&DefaultConfig.Connector.MaxIdleConns, "connector-max-idle-conns", 2, "Maximum idle connections per pooled data source.")
	flagSet.DurationVar(&DefaultConfig.Connector.ConnMaxLifetime, "connector-conn-max-lifetime", 30*time.Minute, "Maximum lifetime of a pooled data source connection.")
}

func RegisterCacheFlags(flagSet *flag.FlagSet) {
	flagSet.BoolVar(&DefaultConfig.Cache.Enabled, "cache-enabled", DefaultConfig.Cache.Enabled, "Cache metric query results.")
	flagSet.StringVar(&DefaultConfig.Cache.Backend, "cache-backend", DefaultConfig.Cache.Backend, "Cache backend. Supported values: memory, redis.")
	flagSet.IntVar(&DefaultConfig.Cache.Size, "cache-size", DefaultConfig.Cache.Size, "Maximum number of entries of the memory cache.")
	flagSet.DurationVar(&DefaultConfig.Cache.TTL, "cache-ttl", DefaultConfig.Cache.TTL, "Time to live of a cached result.")
	flagSet.Func("cache-redis-addrs", "Comma separated redis addresses, can also be set via REDIS_ADDRS env var.", func(s string) error {
		DefaultConfig.Cache.Redis.Addrs = splitList(s)
		return nil
	})
	if v := os.Getenv("REDIS_ADDRS"); v != "" {
		DefaultConfig.Cache.Redis.Addrs = splitList(v)
	}
	flagSet.StringVar(&DefaultConfig.Cache.Redis.Username, "cache-redis-username", os.Getenv("REDIS_USERNAME"), "Redis username, can also be set via REDIS_USERNAME env var.")
	flagSet.StringVar(&DefaultConfig.Cache.Redis.Password, "cache-redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password, can also be set via REDIS_PASSWORD env var.")
	flagSet.IntVar(&DefaultConfig.Cache.Redis.DB, "cache-redis-db", 0, "Redis database number.")
	flagSet.StringVar(&DefaultConfig.Cache.Redis.KeyPrefix, "cache-redis-key-prefix", DefaultConfig.Cache.Redis.KeyPrefix, "Prefix of every redis key.")
}

func RegisterProbeFlags(flagSet *flag.FlagSet) {
	flagSet.BoolVar(&DefaultConfig.Probe.Enabled, "probe-enabled", DefaultConfig.Probe.Enabled, "Periodically check data source connectivity.")
	flagSet.DurationVar(&DefaultConfig.Probe.Interval, "probe-interval", DefaultConfig.Probe.Interval, "Interval between data source checks.")
	flagSet.DurationVar(&DefaultConfig.Probe.RunTimeout, "probe-run-timeout", DefaultConfig.Probe.RunTimeout, "Timeout of a single check run.")
}

func RegisterLogFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&DefaultConfig.Log.Level, "log-level", DefaultConfig.Log.Level, "Log level. Supported values: debug, info, warn, error.")
	flagSet.StringVar(&DefaultConfig.Log.Format, "log-format", DefaultConfig.Log.Format, "Log format. Supported values: text, json, pretty.")
}

func RegisterMemoryLimitFlags(flagSet *flag.FlagSet) {
	flagSet.BoolVar(&DefaultConfig.MemoryLimit.Enabled, "memory-limit-enabled", DefaultConfig.MemoryLimit.Enabled, "Set GOMEMLIMIT from the cgroup or system memory limit.")
	flagSet.Float64Var(&DefaultConfig.MemoryLimit.Ratio, "memory-limit-ratio", DefaultConfig.MemoryLimit.Ratio, "Ratio of the memory limit used for GOMEMLIMIT.")
	flagSet.DurationVar(&DefaultConfig.MemoryLimit.RefreshInterval, "memory-limit-refresh-interval", DefaultConfig.MemoryLimit.RefreshInterval, "Interval to refresh the memory limit (0 disables refreshing).")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
