package tier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aproctor/grove/internal/chunk"
	"github.com/aproctor/grove/internal/segment"
)

var errFrozenTimeout = errors.New("frozen read timed out")

// Manager owns the four tier tables and the per-path metadata map. It is
// safe for concurrent use. The metadata lock is held only for map and
// pointer updates; compression, parsing and disk I/O all happen outside
// it.
type Manager[T any] struct {
	cfg   Config
	hooks Hooks[T]
	log   *slog.Logger
	now   func() time.Time

	entMu   sync.RWMutex
	entries map[string]*entry

	hot    *tierTable[*hotPayload[T]]
	warm   *tierTable[*warmPayload]
	cold   *tierTable[*coldPayload]
	frozen *tierTable[*frozenPayload]

	sources *sourceStore
	chunks  *chunk.Store
	seg     *segment.Store

	// sweepMu serializes sweeps so at most one goroutine runs transitions
	// and frozen writes at a time.
	sweepMu   sync.Mutex
	stopSweep chan struct{}
	sweepDone chan struct{}

	hits           atomic.Int64
	misses         atomic.Int64
	hashMismatches atomic.Int64
	promotions     atomic.Int64
	demotions      atomic.Int64
	frozenTimeouts atomic.Int64
	frozenErrors   atomic.Int64
	frozenEvicted  atomic.Int64
	sweeps         atomic.Int64
}

// NewManager builds a manager over seg. The caller keeps ownership of
// nothing: Close tears down the sweeper and the segment store.
func NewManager[T any](cfg Config, hooks Hooks[T], seg *segment.Store) (*Manager[T], error) {
	if hooks.Marshal == nil || hooks.SizeOf == nil {
		return nil, errors.New("tier: both hooks are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Manager[T]{
		cfg:     cfg,
		hooks:   hooks,
		log:     cfg.Logger,
		now:     cfg.Now,
		entries: make(map[string]*entry),
		hot:     newTierTable[*hotPayload[T]](true),
		warm:    newTierTable[*warmPayload](true),
		cold:    newTierTable[*coldPayload](false),
		frozen:  newTierTable[*frozenPayload](false),
		sources: newSourceStore(),
		chunks:  chunk.NewStore(),
		seg:     seg,
	}
	if err := m.recoverFrozen(); err != nil {
		return nil, err
	}
	return m, nil
}

// recoverFrozen rebuilds frozen entries from the segment catalog so a
// restart keeps serving previously frozen files.
func (m *Manager[T]) recoverFrozen() error {
	handles, err := m.seg.Handles()
	if err != nil {
		return fmt.Errorf("recover frozen entries: %w", err)
	}
	for _, h := range handles {
		e := &entry{
			path:      h.Path,
			hash:      h.ContentHash,
			createdAt: time.Unix(h.CreatedAt, 0).UnixNano(),
			tier:      Frozen,
		}
		e.lastAccess.Store(time.Unix(h.LastAccess, 0).UnixNano())
		m.entries[h.Path] = e
		m.frozen.put(h.Path, &frozenPayload{handle: h})
	}
	if len(handles) > 0 {
		m.log.Info("recovered frozen entries", "count", len(handles))
	}
	return nil
}

// StartSweeper runs SweepOnce every interval until Close.
func (m *Manager[T]) StartSweeper(interval time.Duration) {
	if interval <= 0 || m.stopSweep != nil {
		return
	}
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})
	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepOnce()
			case <-m.stopSweep:
				return
			}
		}
	}()
}

// Close stops the sweeper and closes the segment store.
func (m *Manager[T]) Close() error {
	if m.stopSweep != nil {
		close(m.stopSweep)
		<-m.sweepDone
		m.stopSweep = nil
	}
	return m.seg.Close()
}

// Lookup finds path at whatever tier holds it. A stale hash, an
// unreadable payload or a frozen read past its deadline all report a
// miss; the caller re-parses and the entry is replaced.
func (m *Manager[T]) Lookup(ctx context.Context, path, hash string) (Result[T], bool) {
	var res Result[T]

	m.entMu.RLock()
	e, ok := m.entries[path]
	if !ok {
		m.entMu.RUnlock()
		m.misses.Add(1)
		return res, false
	}
	if e.hash != hash {
		m.entMu.RUnlock()
		m.hashMismatches.Add(1)
		m.misses.Add(1)
		return res, false
	}
	cur := e.tier
	e.lastAccess.Store(m.now().UnixNano())
	count := e.accessCount.Add(1)

	switch cur {
	case Hot:
		p, ok := m.hot.get(path)
		m.entMu.RUnlock()
		if !ok {
			m.misses.Add(1)
			return res, false
		}
		m.hot.touch(path)
		m.hits.Add(1)
		return Result[T]{Tier: Hot, Tree: p.tree, Source: p.src.Bytes(), PromoteTo: Hot}, true

	case Warm:
		p, ok := m.warm.get(path)
		m.entMu.RUnlock()
		if !ok {
			m.misses.Add(1)
			return res, false
		}
		src, err := m.decodeWarm(path, p)
		if err != nil {
			m.log.Warn("warm payload unreadable", "path", path, "error", err)
			m.misses.Add(1)
			return res, false
		}
		m.warm.touch(path)
		m.hits.Add(1)
		return Result[T]{Tier: Warm, Source: src, PromoteTo: m.promoteTarget(Warm, count)}, true

	case Cold:
		p, ok := m.cold.get(path)
		m.entMu.RUnlock()
		if !ok {
			m.misses.Add(1)
			return res, false
		}
		src, err := chunk.DecompressZstd(p.srcZstd)
		if err != nil {
			m.log.Warn("cold payload unreadable", "path", path, "error", err)
			m.misses.Add(1)
			return res, false
		}
		m.hits.Add(1)
		return Result[T]{Tier: Cold, Source: src, PromoteTo: m.promoteTarget(Cold, count)}, true

	case Frozen:
		p, ok := m.frozen.get(path)
		m.entMu.RUnlock()
		if !ok {
			m.misses.Add(1)
			return res, false
		}
		src, blob, err := m.readFrozen(ctx, p.handle)
		switch {
		case errors.Is(err, errFrozenTimeout):
			m.frozenTimeouts.Add(1)
			m.misses.Add(1)
			return res, false
		case err != nil:
			m.frozenErrors.Add(1)
			m.log.Warn("frozen entry unreadable, dropping", "path", path, "error", err)
			m.dropEntry(path, e)
			m.misses.Add(1)
			return res, false
		}
		if terr := m.seg.Touch(path); terr != nil {
			m.log.Debug("frozen touch failed", "path", path, "error", terr)
		}
		m.hits.Add(1)
		// Thawing leaves the entry frozen; the next sweep promotes it
		// once its access count clears the threshold.
		return Result[T]{Tier: Frozen, Source: src, TreeBlob: blob, PromoteTo: Frozen}, true
	}

	m.entMu.RUnlock()
	m.misses.Add(1)
	return res, false
}

// decodeWarm reconstructs source from a warm payload, preferring the
// chunk delta and falling back to the LZ4 copy.
func (m *Manager[T]) decodeWarm(path string, p *warmPayload) ([]byte, error) {
	if p.delta != nil {
		src, err := m.chunks.Decode(p.delta)
		if err == nil {
			return src, nil
		}
		m.log.Debug("delta decode failed, using lz4 copy", "path", path, "error", err)
	}
	return chunk.DecompressLZ4(p.lz4)
}

// readFrozen loads and decompresses a segment off the caller's goroutine,
// bounded by the configured deadline.
func (m *Manager[T]) readFrozen(ctx context.Context, h *segment.Handle) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errFrozenTimeout, err)
	}
	type frozenRead struct {
		src, tree []byte
		err       error
	}
	ch := make(chan frozenRead, 1)
	go func() {
		srcZ, treeZ, err := m.seg.Read(h)
		if err != nil {
			ch <- frozenRead{err: err}
			return
		}
		src, err := chunk.DecompressZstd(srcZ)
		if err != nil {
			ch <- frozenRead{err: err}
			return
		}
		var tree []byte
		if len(treeZ) > 0 {
			if tree, err = chunk.DecompressZstd(treeZ); err != nil {
				ch <- frozenRead{err: err}
				return
			}
		}
		ch <- frozenRead{src: src, tree: tree}
	}()

	timeout := m.cfg.FrozenReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.src, r.tree, r.err
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %v", errFrozenTimeout, ctx.Err())
	case <-timer.C:
		return nil, nil, errFrozenTimeout
	}
}

func (m *Manager[T]) promoteTarget(cur Tier, count int64) Tier {
	switch cur {
	case Warm:
		if m.cfg.PromoteToHot > 0 && count >= m.cfg.PromoteToHot {
			return Hot
		}
	case Cold:
		if m.cfg.PromoteToHot > 0 && count >= m.cfg.PromoteToHot {
			return Hot
		}
		if m.cfg.PromoteToWarm > 0 && count >= m.cfg.PromoteToWarm {
			return Warm
		}
	}
	return cur
}

// InsertHot stores a freshly parsed entry, replacing whatever was there.
// Under the ColdStart policy the entry lands at Cold instead.
func (m *Manager[T]) InsertHot(path, hash string, tree T, source []byte) {
	if m.cfg.ColdStart {
		m.insertCold(path, hash, tree, source)
		return
	}
	ref := m.sources.retain(hash, source)
	p := &hotPayload[T]{tree: tree, src: ref, mem: m.hooks.SizeOf(tree) + int64(len(source))}
	e := m.newEntry(path, hash, int64(len(source)), Hot)

	m.entMu.Lock()
	var cleanup func()
	if old, ok := m.entries[path]; ok {
		cleanup = m.removePayloadLocked(path, old.tier)
	}
	m.entries[path] = e
	m.hot.put(path, p)
	m.entMu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	m.enforceCapacity()
}

func (m *Manager[T]) insertCold(path, hash string, tree T, source []byte) {
	var treeZstd []byte
	if blob, err := m.hooks.Marshal(tree); err != nil {
		m.log.Warn("tree marshal failed, cold entry keeps source only", "path", path, "error", err)
	} else {
		treeZstd = chunk.CompressZstd(blob)
	}
	p := &coldPayload{srcZstd: chunk.CompressZstd(source), treeZstd: treeZstd, srcLen: len(source)}
	e := m.newEntry(path, hash, int64(len(source)), Cold)

	m.entMu.Lock()
	var cleanup func()
	if old, ok := m.entries[path]; ok {
		cleanup = m.removePayloadLocked(path, old.tier)
	}
	m.entries[path] = e
	m.cold.put(path, p)
	m.entMu.Unlock()

	if cleanup != nil {
		cleanup()
	}
}

func (m *Manager[T]) newEntry(path, hash string, size int64, t Tier) *entry {
	now := m.now().UnixNano()
	e := &entry{path: path, hash: hash, size: size, createdAt: now, tier: t}
	e.lastAccess.Store(now)
	e.accessCount.Store(1)
	return e
}

// PromoteHot installs a re-parsed tree for an entry currently resident in
// a lower tier. Reports false when the entry vanished or was replaced
// while the caller parsed.
func (m *Manager[T]) PromoteHot(path, hash string, tree T, source []byte) bool {
	ref := m.sources.retain(hash, source)
	p := &hotPayload[T]{tree: tree, src: ref, mem: m.hooks.SizeOf(tree) + int64(len(source))}

	m.entMu.Lock()
	e, ok := m.entries[path]
	if !ok || e.hash != hash || e.tier == Hot {
		m.entMu.Unlock()
		m.sources.release(ref)
		return false
	}
	cleanup := m.removePayloadLocked(path, e.tier)
	e.tier = Hot
	e.size = int64(len(source))
	e.accessCount.Store(0)
	e.lastAccess.Store(m.now().UnixNano())
	m.hot.put(path, p)
	m.entMu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	m.promotions.Add(1)
	m.enforceCapacity()
	return true
}

// PromoteWarm lifts a Cold entry to Warm without a re-parse.
func (m *Manager[T]) PromoteWarm(path, hash string, source []byte) bool {
	m.entMu.RLock()
	e, ok := m.entries[path]
	var cp *coldPayload
	if ok && e.hash == hash && e.tier == Cold {
		cp, _ = m.cold.get(path)
	}
	m.entMu.RUnlock()
	if cp == nil {
		return false
	}

	wp := m.buildWarmPayload(source, cp.treeZstd)

	m.entMu.Lock()
	if cur, ok := m.entries[path]; !ok || cur != e || cur.tier != Cold {
		m.entMu.Unlock()
		m.releaseWarmPayload(wp)
		return false
	}
	m.cold.remove(path)
	m.warm.put(path, wp)
	e.tier = Warm
	e.size = int64(len(source))
	e.accessCount.Store(0)
	e.lastAccess.Store(m.now().UnixNano())
	m.entMu.Unlock()

	m.promotions.Add(1)
	m.enforceWarmCapacity()
	return true
}

// buildWarmPayload compresses source for warm residency: always an LZ4
// copy, plus a chunk delta when enough of the content is already in the
// chunk store.
func (m *Manager[T]) buildWarmPayload(source, treeZstd []byte) *warmPayload {
	p := &warmPayload{lz4: chunk.CompressLZ4(source), treeZstd: treeZstd, srcLen: len(source)}
	if d, err := m.chunks.Encode(source); err == nil {
		p.delta = d
	}
	return p
}

func (m *Manager[T]) releaseWarmPayload(p *warmPayload) {
	if p != nil && p.delta != nil {
		m.chunks.Release(p.delta)
	}
}

// Remove drops path from every tier, including its frozen segment.
func (m *Manager[T]) Remove(path string) {
	m.entMu.Lock()
	e, ok := m.entries[path]
	if !ok {
		m.entMu.Unlock()
		return
	}
	delete(m.entries, path)
	cleanup := m.removePayloadLocked(path, e.tier)
	m.entMu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

// dropEntry removes path only if its metadata record is still stale.
func (m *Manager[T]) dropEntry(path string, stale *entry) {
	m.entMu.Lock()
	e, ok := m.entries[path]
	if !ok || e != stale {
		m.entMu.Unlock()
		return
	}
	delete(m.entries, path)
	cleanup := m.removePayloadLocked(path, e.tier)
	m.entMu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

// removePayloadLocked detaches path's payload from its tier table and
// returns the cleanup to run after the entry lock is released. Frozen
// cleanup touches disk, so it must never run under the lock.
func (m *Manager[T]) removePayloadLocked(path string, t Tier) func() {
	switch t {
	case Hot:
		if p, ok := m.hot.remove(path); ok {
			return func() { m.sources.release(p.src) }
		}
	case Warm:
		if p, ok := m.warm.remove(path); ok {
			return func() { m.releaseWarmPayload(p) }
		}
	case Cold:
		m.cold.remove(path)
	case Frozen:
		if _, ok := m.frozen.remove(path); ok {
			return func() {
				if err := m.seg.Remove(path); err != nil {
					m.log.Warn("segment removal failed", "path", path, "error", err)
				}
			}
		}
	}
	return nil
}

// Resident returns the live tree for a hot entry without counting an
// access or checking a hash. Non-hot and absent paths report false.
func (m *Manager[T]) Resident(path string) (T, bool) {
	var zero T
	m.entMu.RLock()
	defer m.entMu.RUnlock()
	e, ok := m.entries[path]
	if !ok || e.tier != Hot {
		return zero, false
	}
	p, ok := m.hot.get(path)
	if !ok {
		return zero, false
	}
	return p.tree, true
}

// Entries returns a metadata snapshot of every cached path.
func (m *Manager[T]) Entries() []EntryInfo {
	m.entMu.RLock()
	defer m.entMu.RUnlock()
	out := make([]EntryInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.info())
	}
	return out
}

// Stats returns a counters snapshot.
func (m *Manager[T]) Stats() Counters {
	c := Counters{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		HashMismatches: m.hashMismatches.Load(),
		Promotions:     m.promotions.Load(),
		Demotions:      m.demotions.Load(),
		FrozenTimeouts: m.frozenTimeouts.Load(),
		FrozenErrors:   m.frozenErrors.Load(),
		FrozenEvicted:  m.frozenEvicted.Load(),
		Sweeps:         m.sweeps.Load(),

		ChunkBytes:        m.chunks.Bytes(),
		SharedSourceBytes: m.sources.totalBytes(),
	}
	c.Entries[Hot] = m.hot.len()
	c.Entries[Warm] = m.warm.len()
	c.Entries[Cold] = m.cold.len()
	c.Entries[Frozen] = m.frozen.len()
	c.Bytes[Hot] = m.hot.memTotal()
	c.Bytes[Warm] = m.warm.memTotal()
	c.Bytes[Cold] = m.cold.memTotal()
	c.Bytes[Frozen] = m.frozen.memTotal()
	return c
}
