package grove

import (
	"log/slog"
	"time"

	"github.com/aproctor/grove/langtab"
)

// config collects the tunables New applies before wiring the tiers.
type config struct {
	hotCapacity  int64
	warmCapacity int64

	promoteToHot  int64
	promoteToWarm int64

	demoteHotAfter  time.Duration
	demoteWarmAfter time.Duration
	demoteColdAfter time.Duration

	sweepInterval     time.Duration
	frozenQuota       int64
	frozenReadTimeout time.Duration

	coldStart bool

	logger *slog.Logger
	pool   *InternPool
	tables []*langtab.Table
	now    func() time.Time
}

func defaultConfig() config {
	return config{
		hotCapacity:       20 << 20,
		warmCapacity:      15 << 20,
		promoteToHot:      5,
		promoteToWarm:     2,
		demoteHotAfter:    5 * time.Minute,
		demoteWarmAfter:   15 * time.Minute,
		demoteColdAfter:   time.Hour,
		sweepInterval:     30 * time.Second,
		frozenQuota:       1 << 30,
		frozenReadTimeout: 250 * time.Millisecond,
	}
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithHotCapacity bounds the bytes of live trees and source the hot tier
// may hold before the least recently used entries demote. Zero or negative
// means unbounded.
func WithHotCapacity(bytes int64) Option {
	return func(c *config) { c.hotCapacity = bytes }
}

// WithWarmCapacity bounds the compressed bytes the warm tier may hold.
// Zero or negative means unbounded.
func WithWarmCapacity(bytes int64) Option {
	return func(c *config) { c.warmCapacity = bytes }
}

// WithPromoteThresholds sets the access counts that lift an entry to a
// higher tier: toHot accesses promote a warm or cold entry to hot, toWarm
// accesses promote a cold or frozen entry one level up. Zero disables the
// corresponding promotion.
func WithPromoteThresholds(toHot, toWarm int64) Option {
	return func(c *config) {
		c.promoteToHot = toHot
		c.promoteToWarm = toWarm
	}
}

// WithTierTimeouts sets how long an entry may sit idle in the hot, warm,
// and cold tiers before a sweep demotes it. Zero disables demotion out of
// that tier.
func WithTierTimeouts(hot, warm, cold time.Duration) Option {
	return func(c *config) {
		c.demoteHotAfter = hot
		c.demoteWarmAfter = warm
		c.demoteColdAfter = cold
	}
}

// WithSweepInterval sets the cadence of the background sweep. Zero disables
// the sweeper; demotions then only happen through SweepNow.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithFrozenQuota bounds the disk bytes the frozen tier may hold; the
// oldest segments are evicted once the quota is exceeded. Zero or negative
// means unbounded.
func WithFrozenQuota(bytes int64) Option {
	return func(c *config) { c.frozenQuota = bytes }
}

// WithFrozenReadTimeout bounds how long a lookup waits on a frozen segment
// read before reporting a miss.
func WithFrozenReadTimeout(d time.Duration) Option {
	return func(c *config) { c.frozenReadTimeout = d }
}

// WithColdStartInsertion makes GetOrParse and Store insert new entries at
// the cold tier instead of hot. Useful for batch indexing runs that would
// otherwise churn the hot tier.
func WithColdStartInsertion(enabled bool) Option {
	return func(c *config) { c.coldStart = enabled }
}

// WithLogger routes cache diagnostics to l. The default discards them.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithInternPool shares an existing intern pool with the cache, letting
// symbol ids compare across caches. The default is a fresh pool.
func WithInternPool(p *InternPool) Option {
	return func(c *config) { c.pool = p }
}

// WithLanguageTable registers a symbol classification table, overriding
// the builtin for that table's language if one exists.
func WithLanguageTable(t *langtab.Table) Option {
	return func(c *config) { c.tables = append(c.tables, t) }
}

// withNow overrides the cache's clock. Tests use it to drive tier
// timeouts deterministically.
func withNow(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
