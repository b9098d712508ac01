package probe

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
)

// LockKey derives a stable advisory lock key from a name.
func LockKey(name string) int64 {
	return int64(xxhash.Sum64String(name))
}

// WithPGAdvisoryLeadership runs fn only while this process holds a session advisory lock.
func WithPGAdvisoryLeadership(ctx context.Context, db *sql.DB, lockKey int64, fn func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := db.Conn(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "probe: unable to acquire leader connection", "err", err)
			return
		}

		var got bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&got); err != nil {
			_ = conn.Close()
			slog.ErrorContext(ctx, "probe: advisory lock failed", "err", err)
			return
		}
		if !got {
			_ = conn.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		// leader for the lifetime of this session
		fn(ctx)

		_ = conn.Close()
		return
	}
}
