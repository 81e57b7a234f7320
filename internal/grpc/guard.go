package grpc

import (
	"log/slog"

	rerrors "github.com/shhac/reflex/internal/errors"
)

// Default thresholds for bytes received on one streaming call.
const (
	DefaultSoftMemoryLimit int64 = 100 * 1024 * 1024
	DefaultHardMemoryLimit int64 = 500 * 1024 * 1024
)

// MemoryLimits bounds the bytes a streaming receive loop accepts. Crossing
// Soft logs a warning when verbose; crossing Hard aborts the call.
type MemoryLimits struct {
	Soft int64
	Hard int64
}

// DefaultMemoryLimits returns the 100 MiB / 500 MiB thresholds.
func DefaultMemoryLimits() MemoryLimits {
	return MemoryLimits{Soft: DefaultSoftMemoryLimit, Hard: DefaultHardMemoryLimit}
}

// memoryGuard tracks cumulative received bytes for one call. Not safe for
// concurrent use; each receive loop owns its guard.
type memoryGuard struct {
	limits  MemoryLimits
	verbose bool
	logger  *slog.Logger
	method  string

	total  int64
	warned bool
}

func newMemoryGuard(limits MemoryLimits, verbose bool, logger *slog.Logger, method string) *memoryGuard {
	return &memoryGuard{limits: limits, verbose: verbose, logger: logger, method: method}
}

// add records n more bytes and fails once the hard limit is exceeded.
func (g *memoryGuard) add(n int) error {
	g.total += int64(n)

	if g.limits.Hard > 0 && g.total > g.limits.Hard {
		g.logger.Error("stream exceeded memory limit",
			slog.String("method", g.method),
			slog.Int64("bytes", g.total),
			slog.Int64("limit", g.limits.Hard),
		)
		return rerrors.New(rerrors.ResourceExhausted, "receive", g.method,
			&rerrors.MemoryLimitError{Bytes: g.total, Limit: g.limits.Hard})
	}

	if !g.warned && g.limits.Soft > 0 && g.total > g.limits.Soft {
		g.warned = true
		if g.verbose {
			g.logger.Warn("stream has processed a large amount of data; consider --format text for large streams",
				slog.String("method", g.method),
				slog.Int64("mb", g.total/(1024*1024)),
			)
		}
	}
	return nil
}

// received returns the bytes counted so far.
func (g *memoryGuard) received() int64 {
	return g.total
}
