// Package timeouts holds the process-wide deadlines applied to database
// and delivery I/O.
//
//   - Ping: health checks
//   - Short: single-document reads and writes
//   - Medium: list queries and role lookups
//   - Delivery: one outbound email
//   - Sweep: one whole sweep run
//
// Values are set once at startup from configuration via Configure.
package timeouts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults, used for any value Configure leaves at zero.
const (
	DefaultPing     = 2 * time.Second
	DefaultShort    = 5 * time.Second
	DefaultMedium   = 10 * time.Second
	DefaultDelivery = 15 * time.Second
	DefaultSweep    = 5 * time.Minute
)

// Config holds timeout values. Zero fields keep the current value.
type Config struct {
	Ping     time.Duration
	Short    time.Duration
	Medium   time.Duration
	Delivery time.Duration
	Sweep    time.Duration
}

func defaults() Config {
	return Config{
		Ping:     DefaultPing,
		Short:    DefaultShort,
		Medium:   DefaultMedium,
		Delivery: DefaultDelivery,
		Sweep:    DefaultSweep,
	}
}

var (
	mu  sync.RWMutex
	cur = defaults()
)

func get(pick func(Config) time.Duration) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return pick(cur)
}

func Ping() time.Duration     { return get(func(c Config) time.Duration { return c.Ping }) }
func Short() time.Duration    { return get(func(c Config) time.Duration { return c.Short }) }
func Medium() time.Duration   { return get(func(c Config) time.Duration { return c.Medium }) }
func Delivery() time.Duration { return get(func(c Config) time.Duration { return c.Delivery }) }
func Sweep() time.Duration    { return get(func(c Config) time.Duration { return c.Sweep }) }

// Configure overrides the non-zero values in c.
func Configure(c Config) {
	mu.Lock()
	defer mu.Unlock()
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&cur.Ping, c.Ping)
	set(&cur.Short, c.Short)
	set(&cur.Medium, c.Medium)
	set(&cur.Delivery, c.Delivery)
	set(&cur.Sweep, c.Sweep)
}

// Reset restores the defaults. Tests use it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cur = defaults()
}

// Current returns the active configuration, for startup logging.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

// WithTimeout is context.WithTimeout whose cancel func logs a warning when
// the deadline was what ended the operation.
//
//	ctx, cancel := timeouts.WithTimeout(parent, timeouts.Sweep(), log, "cohort-status-sweep")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout))
		}
		cancel()
	}
}
