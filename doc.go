// Package grove caches parsed syntax trees across four residency tiers so
// a code-intelligence backend can keep thousands of files queryable without
// keeping thousands of live parse trees in memory.
//
// # Representation
//
// Trees are stored as flat pre-order tables ([Tree]): one row per node
// carrying an interned kind id, byte range, flags, field id, and subtree
// size. The layout makes descendant traversal a slice walk and serializes
// compactly. [Encode] converts any parser's tree, exposed through the
// [RawTree] adapter interface, into this form; [MarshalTree] and
// [UnmarshalTree] move it to and from a validated binary blob.
//
// # Tiers
//
// Each cached path occupies exactly one tier:
//
//   - Hot — live [Tree] plus source, shared per content hash.
//   - Warm — content-defined chunk delta against earlier versions, with an
//     LZ4 fallback copy.
//   - Cold — one zstd blob.
//   - Frozen — checksummed segment file on disk with a SQLite catalog.
//
// Entries demote tier by tier as they sit idle and promote back as they
// are accessed; a background sweep drives both. Hot promotions re-parse
// the reconstructed source, so lower tiers trade lookup latency for
// memory. Frozen entries survive restarts.
//
// # Usage
//
// Create a [Cache], hand it content and a parse callback, then query the
// returned handle:
//
//	c, err := grove.New(cacheDir)
//	if err != nil { ... }
//	defer c.Close()
//
//	h, err := c.GetOrParse(ctx, "src/main.rs", hash, src, parser.Parse)
//	if err != nil { ... }
//
//	pos, ok := h.FindDefinition("foo")
//	refs := h.FindReferences("bar")
//
// The parse callback runs only when no tier can serve the request;
// concurrent calls for the same (path, hash) share one parse.
//
// # Queries
//
// [Engine] matches structural patterns (kind, flags, field, capture) against
// trees without re-parsing. [FindByKind] and [FindInRange] answer the
// common flat lookups, both pruned by subtree size so they skip regions
// that cannot match. Symbol lookups go through each handle's lazily built
// [SymbolIndex], which classifies nodes with the per-language tables in
// package langtab.
package grove
