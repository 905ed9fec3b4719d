package main

import "github.com/aproctor/grove"

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLINode is one row of a flat tree dump.
type CLINode struct {
	Pos       uint32 `json:"pos"`
	Depth     int    `json:"depth"`
	Kind      string `json:"kind"`
	Field     string `json:"field,omitempty"`
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	Named     bool   `json:"named"`
	Error     bool   `json:"error,omitempty"`
	Missing   bool   `json:"missing,omitempty"`
	Subtree   uint32 `json:"subtree"`
}

// CLIParse summarizes one parsed file plus its node rows.
type CLIParse struct {
	Path     string    `json:"path"`
	Language string    `json:"language"`
	Bytes    int       `json:"bytes"`
	Nodes    int       `json:"nodes"`
	Interned int       `json:"interned"`
	Tree     []CLINode `json:"tree,omitempty"`
}

// CLISymbolHit is one symbol index hit with resolved positions.
type CLISymbolHit struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Pos       uint32 `json:"pos"`
	Kind      string `json:"kind"`
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
}

// CLIFind groups the hits for one find invocation.
type CLIFind struct {
	Path        string         `json:"path"`
	Name        string         `json:"name"`
	Definitions []CLISymbolHit `json:"definitions"`
	References  []CLISymbolHit `json:"references"`
	Occurrences []CLISymbolHit `json:"occurrences"`
}

// CLIStats is the JSON-friendly cache statistics snapshot.
type CLIStats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	HashMismatches int64 `json:"hash_mismatches"`
	Parses         int64 `json:"parses"`
	Promotions     int64 `json:"promotions"`
	Demotions      int64 `json:"demotions"`
	FrozenTimeouts int64 `json:"frozen_timeouts"`
	FrozenErrors   int64 `json:"frozen_errors"`
	FrozenEvicted  int64 `json:"frozen_evicted"`
	Sweeps         int64 `json:"sweeps"`

	HotEntries    int   `json:"hot_entries"`
	WarmEntries   int   `json:"warm_entries"`
	ColdEntries   int   `json:"cold_entries"`
	FrozenEntries int   `json:"frozen_entries"`
	HotBytes      int64 `json:"hot_bytes"`
	WarmBytes     int64 `json:"warm_bytes"`
	ColdBytes     int64 `json:"cold_bytes"`
	FrozenBytes   int64 `json:"frozen_bytes"`

	ChunkBytes        int64 `json:"chunk_bytes"`
	SharedSourceBytes int64 `json:"shared_source_bytes"`
	InternedStrings   int   `json:"interned_strings"`
	InternedBytes     int64 `json:"interned_bytes"`
}

func cliStatsFrom(s grove.Stats) CLIStats {
	return CLIStats{
		Hits:           s.Hits,
		Misses:         s.Misses,
		HashMismatches: s.HashMismatches,
		Parses:         s.Parses,
		Promotions:     s.Promotions,
		Demotions:      s.Demotions,
		FrozenTimeouts: s.FrozenTimeouts,
		FrozenErrors:   s.FrozenErrors,
		FrozenEvicted:  s.FrozenEvicted,
		Sweeps:         s.Sweeps,

		HotEntries:    s.HotEntries,
		WarmEntries:   s.WarmEntries,
		ColdEntries:   s.ColdEntries,
		FrozenEntries: s.FrozenEntries,
		HotBytes:      s.HotBytes,
		WarmBytes:     s.WarmBytes,
		ColdBytes:     s.ColdBytes,
		FrozenBytes:   s.FrozenBytes,

		ChunkBytes:        s.ChunkBytes,
		SharedSourceBytes: s.SharedSourceBytes,
		InternedStrings:   s.InternedStrings,
		InternedBytes:     s.InternedBytes,
	}
}

// CLIInspect is the inspect command's result: cache contents plus counters.
type CLIInspect struct {
	CacheDir string        `json:"cache_dir"`
	Entries  []grove.Entry `json:"entries"`
	Stats    CLIStats      `json:"stats"`
}
