// Package tier moves parsed-file cache entries between four residency
// tiers: Hot (live tree plus shared source), Warm (chunk delta and LZ4),
// Cold (zstd blob) and Frozen (disk segment). Exactly one tier holds a
// path at a time. Demotions run on a background sweep driven by idle
// time; promotions are driven by access counts, with the caller supplying
// re-parsed trees where a tier change needs one.
package tier

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Tier is a residency level. Lower values are closer to the caller.
type Tier uint8

const (
	Hot Tier = iota
	Warm
	Cold
	Frozen

	tierCount = 4
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	case Cold:
		return "cold"
	case Frozen:
		return "frozen"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Config carries the tier policy. Zero values disable the corresponding
// mechanism: a zero capacity is unbounded, a zero timeout never demotes, a
// zero threshold never promotes.
type Config struct {
	HotCapacityBytes  int64
	WarmCapacityBytes int64

	// Access-count thresholds. An entry promotes one or two tiers up once
	// its accesses within the current tier reach these.
	PromoteToHot  int64
	PromoteToWarm int64

	// Idle time before the sweep demotes an entry out of each tier.
	DemoteHotAfter  time.Duration
	DemoteWarmAfter time.Duration
	DemoteColdAfter time.Duration

	// Frozen reads run off the caller's path; past this deadline the
	// lookup reports a miss and the re-parse fallback takes over.
	FrozenReadTimeout time.Duration

	// ColdStart inserts new entries at Cold instead of Hot, for batch
	// indexing runs that would otherwise churn the hot tier.
	ColdStart bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Hooks adapts the manager to the caller's tree type.
type Hooks[T any] struct {
	// Marshal serializes a tree for frozen storage. Called during Hot
	// demotion while the tree is still live.
	Marshal func(tree T) ([]byte, error)
	// SizeOf estimates a tree's memory footprint for hot-tier accounting.
	SizeOf func(tree T) int64
}

// Result is a successful lookup. Hot hits carry the live tree; other
// tiers carry the reconstructed source, and Frozen hits additionally carry
// the stored tree blob when the segment has one.
type Result[T any] struct {
	Tier     Tier
	Tree     T
	Source   []byte
	TreeBlob []byte

	// PromoteTo names the tier this access earned. Equal to Tier when the
	// entry stays put. The caller performs Hot promotions since those need
	// a re-parse.
	PromoteTo Tier
}

// Counters is a point-in-time statistics snapshot.
type Counters struct {
	Hits           int64
	Misses         int64
	HashMismatches int64
	Promotions     int64
	Demotions      int64
	FrozenTimeouts int64
	FrozenErrors   int64
	FrozenEvicted  int64
	Sweeps         int64

	Entries [tierCount]int
	Bytes   [tierCount]int64

	ChunkBytes        int64
	SharedSourceBytes int64
}

// EntryInfo describes one cached path for inspection.
type EntryInfo struct {
	Path        string
	Hash        string
	Tier        Tier
	Size        int64
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
}

// entry is the per-path metadata record. The tier field is guarded by the
// manager's entry lock; access fields are atomics so lookups never take a
// write lock. accessCount counts accesses within the current tier and
// resets on every transition.
type entry struct {
	path      string
	hash      string
	size      int64 // source bytes; zero for frozen entries recovered at startup
	createdAt int64

	tier        Tier
	lastAccess  atomic.Int64 // unix nanos
	accessCount atomic.Int64
}

func (e *entry) info() EntryInfo {
	return EntryInfo{
		Path:        e.path,
		Hash:        e.hash,
		Tier:        e.tier,
		Size:        e.size,
		CreatedAt:   time.Unix(0, e.createdAt),
		LastAccess:  time.Unix(0, e.lastAccess.Load()),
		AccessCount: e.accessCount.Load(),
	}
}
