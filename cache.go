package grove

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/aproctor/grove/internal/segment"
	"github.com/aproctor/grove/internal/tier"
	"github.com/aproctor/grove/langtab"
)

var (
	// ErrClosed reports an operation against a closed cache.
	ErrClosed = errors.New("cache closed")

	// ErrNotResident reports a symbol query against a path whose tree is
	// not currently hot. Callers recover by going through GetOrParse.
	ErrNotResident = errors.New("tree not resident")
)

// Cache is a four-tier store of parsed syntax trees keyed by file path and
// content hash. Hot entries hold live trees; warm, cold, and frozen entries
// hold progressively cheaper encodings that trade latency for footprint.
// Entries demote as they idle and promote as they are accessed; a
// background sweep drives both directions.
//
// A Cache is safe for concurrent use.
type Cache struct {
	log    *slog.Logger
	pool   *InternPool
	tables map[string]*langtab.Table

	mgr    *tier.Manager[*Handle]
	flight singleflight.Group

	parses atomic.Int64
	closed atomic.Bool
}

// New opens a cache rooted at dir. Frozen segments and their catalog live
// under dir/frozen, created when missing; entries frozen by a previous run
// are recovered into the frozen tier.
func New(dir string, opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.pool == nil {
		cfg.pool = NewInternPool()
	}

	tables := make(map[string]*langtab.Table)
	for _, lang := range langtab.Languages() {
		t, _ := langtab.ForLanguage(lang)
		tables[lang] = t
	}
	for _, t := range cfg.tables {
		tables[t.Language()] = t
	}

	seg, err := segment.Open(filepath.Join(dir, "frozen"), cfg.frozenQuota, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("grove: open frozen store: %w", err)
	}

	c := &Cache{log: cfg.logger, pool: cfg.pool, tables: tables}
	mgr, err := tier.NewManager(tier.Config{
		HotCapacityBytes:  cfg.hotCapacity,
		WarmCapacityBytes: cfg.warmCapacity,
		PromoteToHot:      cfg.promoteToHot,
		PromoteToWarm:     cfg.promoteToWarm,
		DemoteHotAfter:    cfg.demoteHotAfter,
		DemoteWarmAfter:   cfg.demoteWarmAfter,
		DemoteColdAfter:   cfg.demoteColdAfter,
		FrozenReadTimeout: cfg.frozenReadTimeout,
		ColdStart:         cfg.coldStart,
		Logger:            cfg.logger,
		Now:               cfg.now,
	}, tier.Hooks[*Handle]{
		Marshal: func(h *Handle) ([]byte, error) { return MarshalTree(h.tree) },
		SizeOf:  func(h *Handle) int64 { return h.tree.MemoryBytes() },
	}, seg)
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("grove: recover frozen tier: %w", err)
	}
	c.mgr = mgr
	if cfg.sweepInterval > 0 {
		mgr.StartSweeper(cfg.sweepInterval)
	}
	return c, nil
}

// Close stops the background sweeper and closes the frozen store. Frozen
// entries stay on disk and are recovered by the next New on the same dir.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.mgr.Close()
}

// GetOrParse returns the tree handle for (path, contentHash). Hits at any
// tier avoid the parser where possible: hot hits return the live handle,
// frozen hits decode the stored tree blob. Warm and cold hits reconstruct
// the source and re-parse it. A full miss, including a hash mismatch
// against the cached version, parses source with parse and inserts the
// result hot.
//
// Concurrent calls for the same (path, contentHash) share one lookup and at
// most one parse. Parse and encode failures propagate to every waiter.
func (c *Cache) GetOrParse(ctx context.Context, path, contentHash string, source []byte, parse ParseFunc) (*Handle, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("grove: get %s: %w", path, ErrClosed)
	}
	if parse == nil {
		return nil, fmt.Errorf("grove: get %s: nil parse func", path)
	}

	key := path + "\x00" + contentHash
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if res, ok := c.mgr.Lookup(ctx, path, contentHash); ok {
			return c.serve(ctx, path, contentHash, parse, res)
		}
		t, err := c.parse(ctx, path, parse, source)
		if err != nil {
			return nil, err
		}
		h := c.newHandle(path, contentHash, t)
		c.mgr.InsertHot(path, contentHash, h, source)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// serve materializes a handle from a tier hit. Warm and cold hits re-parse
// the reconstructed source and apply any promotion the access earned.
// Frozen hits prefer the stored tree blob and fall back to the parser when
// the blob is rejected; thawing never promotes in-call.
func (c *Cache) serve(ctx context.Context, path, hash string, parse ParseFunc, res tier.Result[*Handle]) (*Handle, error) {
	switch res.Tier {
	case tier.Hot:
		return res.Tree, nil

	case tier.Frozen:
		if len(res.TreeBlob) > 0 {
			t, err := UnmarshalTree(res.TreeBlob, res.Source, c.pool)
			if err == nil {
				return c.newHandle(path, hash, t), nil
			}
			c.log.Warn("stored tree blob rejected, re-parsing",
				"path", path, "error", err)
		}
		t, err := c.parse(ctx, path, parse, res.Source)
		if err != nil {
			return nil, err
		}
		return c.newHandle(path, hash, t), nil

	default: // Warm, Cold
		t, err := c.parse(ctx, path, parse, res.Source)
		if err != nil {
			return nil, err
		}
		h := c.newHandle(path, hash, t)
		switch res.PromoteTo {
		case tier.Hot:
			c.mgr.PromoteHot(path, hash, h, res.Source)
		case tier.Warm:
			if res.Tier == tier.Cold {
				c.mgr.PromoteWarm(path, hash, res.Source)
			}
		}
		return h, nil
	}
}

// parse runs the caller's parser on source and encodes the raw tree.
func (c *Cache) parse(ctx context.Context, path string, parse ParseFunc, source []byte) (*Tree, error) {
	raw, err := parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("grove: parse %s: %w", path, err)
	}
	c.parses.Add(1)
	t, err := Encode(raw, source, c.pool)
	if err != nil {
		return nil, fmt.Errorf("grove: encode %s: %w", path, err)
	}
	return t, nil
}

// Store inserts an externally parsed tree, replacing any cached version of
// path. Storing a (path, contentHash) that is already hot returns the
// existing handle unchanged.
func (c *Cache) Store(path, contentHash string, raw RawTree, source []byte) (*Handle, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("grove: store %s: %w", path, ErrClosed)
	}
	if h, ok := c.mgr.Resident(path); ok && h.hash == contentHash {
		return h, nil
	}
	t, err := Encode(raw, source, c.pool)
	if err != nil {
		return nil, fmt.Errorf("grove: encode %s: %w", path, err)
	}
	h := c.newHandle(path, contentHash, t)
	c.mgr.InsertHot(path, contentHash, h, source)
	return h, nil
}

// Invalidate drops path from whichever tier holds it.
func (c *Cache) Invalidate(path string) {
	c.mgr.Remove(path)
}

// SweepNow runs one demotion and promotion pass synchronously. The
// background sweeper does the same on its interval.
func (c *Cache) SweepNow() {
	c.mgr.SweepOnce()
}

// FindSymbol returns every occurrence of name in path's hot tree. Paths
// not resident in the hot tier report ErrNotResident.
func (c *Cache) FindSymbol(path, name string) ([]uint32, error) {
	h, err := c.resident(path)
	if err != nil {
		return nil, err
	}
	return h.FindSymbol(name), nil
}

// FindDefinition returns the position of name's definition in path's hot
// tree, false when the tree defines no such symbol.
func (c *Cache) FindDefinition(path, name string) (uint32, bool, error) {
	h, err := c.resident(path)
	if err != nil {
		return 0, false, err
	}
	pos, ok := h.FindDefinition(name)
	return pos, ok, nil
}

// FindReferences returns the positions referencing name in path's hot tree.
func (c *Cache) FindReferences(path, name string) ([]uint32, error) {
	h, err := c.resident(path)
	if err != nil {
		return nil, err
	}
	return h.FindReferences(name), nil
}

func (c *Cache) resident(path string) (*Handle, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("grove: find in %s: %w", path, ErrClosed)
	}
	h, ok := c.mgr.Resident(path)
	if !ok {
		return nil, fmt.Errorf("grove: find in %s: %w", path, ErrNotResident)
	}
	return h, nil
}

// Pool returns the cache's intern pool. Symbol and kind ids from trees the
// cache produced resolve against it.
func (c *Cache) Pool() *InternPool {
	return c.pool
}

// Stats returns a snapshot of hit, transition, and residency counters.
func (c *Cache) Stats() Stats {
	return statsFrom(c.mgr.Stats(), c.parses.Load(), c.pool)
}

// Entries lists every cached path with its tier and access metadata,
// sorted by path.
func (c *Cache) Entries() []Entry {
	infos := c.mgr.Entries()
	out := make([]Entry, 0, len(infos))
	for _, in := range infos {
		out = append(out, Entry{
			Path:        in.Path,
			ContentHash: in.Hash,
			Tier:        in.Tier.String(),
			Size:        in.Size,
			CreatedAt:   in.CreatedAt,
			LastAccess:  in.LastAccess,
			AccessCount: in.AccessCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (c *Cache) newHandle(path, hash string, t *Tree) *Handle {
	h := &Handle{path: path, hash: hash, tree: t}
	if lang, ok := langtab.LanguageForFile(path); ok {
		h.table = c.tables[lang]
	}
	return h
}

// Handle is an immutable view of one cached tree version. Symbol lookups
// build the handle's index on first use; concurrent callers share the
// build.
type Handle struct {
	path  string
	hash  string
	tree  *Tree
	table *langtab.Table

	once sync.Once
	idx  *SymbolIndex
}

// Path returns the file path the handle was cached under.
func (h *Handle) Path() string { return h.path }

// ContentHash returns the content hash the handle's tree was parsed from.
func (h *Handle) ContentHash() string { return h.hash }

// Tree returns the decoded tree.
func (h *Handle) Tree() *Tree { return h.tree }

// Index returns the handle's symbol index, building it on first use.
// Files with no language table index as empty.
func (h *Handle) Index() *SymbolIndex {
	h.once.Do(func() { h.idx = BuildIndex(h.tree, h.table) })
	return h.idx
}

// FindSymbol returns the positions of every plain occurrence of name.
func (h *Handle) FindSymbol(name string) []uint32 {
	return h.Index().FindSymbol(name)
}

// FindDefinition returns the position of name's definition.
func (h *Handle) FindDefinition(name string) (uint32, bool) {
	return h.Index().FindDefinition(name)
}

// FindReferences returns the positions referencing name.
func (h *Handle) FindReferences(name string) []uint32 {
	return h.Index().FindReferences(name)
}
