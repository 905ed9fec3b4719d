package grove

import (
	"time"

	"github.com/aproctor/grove/internal/tier"
)

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	// Lookup outcomes. A hash mismatch counts as both a mismatch and a
	// miss.
	Hits           int64
	Misses         int64
	HashMismatches int64

	// Parses is the number of parser invocations the cache performed,
	// covering misses and the re-parses that serve warm and cold hits.
	Parses int64

	// Tier transitions.
	Promotions int64
	Demotions  int64

	// Frozen tier health.
	FrozenTimeouts int64
	FrozenErrors   int64
	FrozenEvicted  int64

	// Sweeps is the number of completed sweep passes.
	Sweeps int64

	// Residency by tier. Frozen bytes are on disk; the rest are in memory.
	HotEntries    int
	WarmEntries   int
	ColdEntries   int
	FrozenEntries int
	HotBytes      int64
	WarmBytes     int64
	ColdBytes     int64
	FrozenBytes   int64

	// ChunkBytes is the deduplicated chunk store footprint backing warm
	// deltas. SharedSourceBytes is the hot tier's source text, counted
	// once per distinct content hash.
	ChunkBytes        int64
	SharedSourceBytes int64

	// Intern pool size.
	InternedStrings int
	InternedBytes   int64
}

func statsFrom(tc tier.Counters, parses int64, pool *InternPool) Stats {
	return Stats{
		Hits:           tc.Hits,
		Misses:         tc.Misses,
		HashMismatches: tc.HashMismatches,
		Parses:         parses,
		Promotions:     tc.Promotions,
		Demotions:      tc.Demotions,
		FrozenTimeouts: tc.FrozenTimeouts,
		FrozenErrors:   tc.FrozenErrors,
		FrozenEvicted:  tc.FrozenEvicted,
		Sweeps:         tc.Sweeps,

		HotEntries:    tc.Entries[tier.Hot],
		WarmEntries:   tc.Entries[tier.Warm],
		ColdEntries:   tc.Entries[tier.Cold],
		FrozenEntries: tc.Entries[tier.Frozen],
		HotBytes:      tc.Bytes[tier.Hot],
		WarmBytes:     tc.Bytes[tier.Warm],
		ColdBytes:     tc.Bytes[tier.Cold],
		FrozenBytes:   tc.Bytes[tier.Frozen],

		ChunkBytes:        tc.ChunkBytes,
		SharedSourceBytes: tc.SharedSourceBytes,

		InternedStrings: pool.Len(),
		InternedBytes:   pool.Bytes(),
	}
}

// Entry describes one cached path for inspection tooling.
type Entry struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Tier        string    `json:"tier"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int64     `json:"access_count"`
}
