package config

import (
	"fmt"
	"log/slog"

	"github.com/KimMachineGun/automemlimit/memlimit"
)

// ApplyMemoryLimit sets GOMEMLIMIT from the container or host memory limit.
// It returns the applied limit in bytes, 0 when disabled.
func (m MemoryLimitConfig) ApplyMemoryLimit(logger *slog.Logger) (int64, error) {
	if !m.Enabled {
		return 0, nil
	}
	if m.Ratio <= 0 || m.Ratio > 1 {
		return 0, fmt.Errorf("memory_limit.ratio must be in (0, 1] (got: %v)", m.Ratio)
	}

	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(m.Ratio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		memlimit.WithRefreshInterval(m.RefreshInterval),
		memlimit.WithLogger(logger),
	)
	if err != nil {
		return 0, fmt.Errorf("set memory limit: %w", err)
	}
	return limit, nil
}
