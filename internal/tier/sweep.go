package tier

import (
	"time"

	"github.com/aproctor/grove/internal/chunk"
)

type sweepItem struct {
	path  string
	e     *entry
	tier  Tier
	idle  time.Duration
	count int64
}

// SweepOnce runs one demotion and promotion pass over a metadata
// snapshot, then enforces capacities and the frozen disk quota. Sweeps
// are serialized; concurrent callers queue.
//
// Compression and segment writes happen against payload snapshots outside
// the entry lock, and each transition re-validates the entry before
// committing, so lookups and stores racing the sweep simply win.
func (m *Manager[T]) SweepOnce() {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	m.sweeps.Add(1)
	now := m.now().UnixNano()

	m.entMu.RLock()
	items := make([]sweepItem, 0, len(m.entries))
	for path, e := range m.entries {
		items = append(items, sweepItem{
			path:  path,
			e:     e,
			tier:  e.tier,
			idle:  time.Duration(now - e.lastAccess.Load()),
			count: e.accessCount.Load(),
		})
	}
	m.entMu.RUnlock()

	for _, it := range items {
		switch it.tier {
		case Hot:
			if d := m.cfg.DemoteHotAfter; d > 0 && it.idle >= d {
				m.demoteHotToWarm(it.path, it.e, false)
			}
		case Warm:
			if d := m.cfg.DemoteWarmAfter; d > 0 && it.idle >= d {
				m.demoteWarmToCold(it.path, it.e, false)
			}
		case Cold:
			if d := m.cfg.DemoteColdAfter; d > 0 && it.idle >= d {
				m.demoteColdToFrozen(it.path, it.e)
			}
		case Frozen:
			// Thaws accumulated since freezing lift the entry back to
			// Cold, parser-free.
			if m.cfg.PromoteToWarm > 0 && it.count >= m.cfg.PromoteToWarm {
				m.promoteFrozenToCold(it.path, it.e)
			}
		}
	}

	m.enforceCapacity()

	if evicted, err := m.seg.EvictOverQuota(); err != nil {
		m.log.Warn("frozen quota eviction failed", "error", err)
	} else if len(evicted) > 0 {
		for _, path := range evicted {
			m.forgetFrozen(path)
		}
		m.frozenEvicted.Add(int64(len(evicted)))
	}

	if freed := m.chunks.Prune(); freed > 0 {
		m.log.Debug("pruned unreferenced chunks", "bytes", freed)
	}
}

// demoteHotToWarm compresses a hot entry's source and drops its tree. The
// tree is marshaled first so the eventual frozen segment can thaw without
// a parser. force skips the idle re-check for capacity demotions.
func (m *Manager[T]) demoteHotToWarm(path string, e *entry, force bool) bool {
	m.entMu.RLock()
	var hp *hotPayload[T]
	if m.entries[path] == e && e.tier == Hot {
		hp, _ = m.hot.get(path)
	}
	m.entMu.RUnlock()
	if hp == nil {
		return false
	}

	source := hp.src.Bytes()
	var treeZstd []byte
	if blob, err := m.hooks.Marshal(hp.tree); err != nil {
		m.log.Warn("tree marshal failed, demoting without tree blob", "path", path, "error", err)
	} else {
		treeZstd = chunk.CompressZstd(blob)
	}
	wp := m.buildWarmPayload(source, treeZstd)

	m.entMu.Lock()
	if m.entries[path] != e || e.tier != Hot {
		m.entMu.Unlock()
		m.releaseWarmPayload(wp)
		return false
	}
	if !force && m.idleFor(e) < m.cfg.DemoteHotAfter {
		// Accessed while we were compressing.
		m.entMu.Unlock()
		m.releaseWarmPayload(wp)
		return false
	}
	old, _ := m.hot.remove(path)
	m.warm.put(path, wp)
	e.tier = Warm
	e.accessCount.Store(0)
	e.lastAccess.Store(m.now().UnixNano())
	m.entMu.Unlock()

	if old != nil {
		m.sources.release(old.src)
	}
	m.demotions.Add(1)
	return true
}

// demoteWarmToCold recompresses the source as one zstd blob and releases
// the chunk delta.
func (m *Manager[T]) demoteWarmToCold(path string, e *entry, force bool) bool {
	m.entMu.RLock()
	var wp *warmPayload
	if m.entries[path] == e && e.tier == Warm {
		wp, _ = m.warm.get(path)
	}
	m.entMu.RUnlock()
	if wp == nil {
		return false
	}

	source, err := m.decodeWarm(path, wp)
	if err != nil {
		m.log.Warn("warm payload unreadable, dropping entry", "path", path, "error", err)
		m.dropEntry(path, e)
		return false
	}
	cp := &coldPayload{srcZstd: chunk.CompressZstd(source), treeZstd: wp.treeZstd, srcLen: wp.srcLen}

	m.entMu.Lock()
	if m.entries[path] != e || e.tier != Warm {
		m.entMu.Unlock()
		return false
	}
	if !force && m.idleFor(e) < m.cfg.DemoteWarmAfter {
		m.entMu.Unlock()
		return false
	}
	old, _ := m.warm.remove(path)
	m.cold.put(path, cp)
	e.tier = Cold
	e.accessCount.Store(0)
	e.lastAccess.Store(m.now().UnixNano())
	m.entMu.Unlock()

	m.releaseWarmPayload(old)
	m.demotions.Add(1)
	return true
}

// demoteColdToFrozen spills the cold payload to a disk segment. A failed
// write leaves the entry cold; the next sweep retries.
func (m *Manager[T]) demoteColdToFrozen(path string, e *entry) bool {
	m.entMu.RLock()
	var cp *coldPayload
	if m.entries[path] == e && e.tier == Cold {
		cp, _ = m.cold.get(path)
	}
	m.entMu.RUnlock()
	if cp == nil {
		return false
	}

	h, err := m.seg.Write(path, e.hash, cp.srcZstd, cp.treeZstd)
	if err != nil {
		m.log.Warn("freeze failed", "path", path, "error", err)
		return false
	}

	m.entMu.Lock()
	if m.entries[path] != e || e.tier != Cold {
		m.entMu.Unlock()
		// The entry moved while we wrote; the segment is orphaned and
		// safe to delete since sweeps are serialized.
		if rerr := m.seg.Remove(path); rerr != nil {
			m.log.Warn("orphaned segment removal failed", "path", path, "error", rerr)
		}
		return false
	}
	if m.idleFor(e) < m.cfg.DemoteColdAfter {
		m.entMu.Unlock()
		if rerr := m.seg.Remove(path); rerr != nil {
			m.log.Warn("orphaned segment removal failed", "path", path, "error", rerr)
		}
		return false
	}
	m.cold.remove(path)
	m.frozen.put(path, &frozenPayload{handle: h})
	e.tier = Frozen
	e.accessCount.Store(0)
	e.lastAccess.Store(m.now().UnixNano())
	m.entMu.Unlock()

	m.demotions.Add(1)
	return true
}

// promoteFrozenToCold lifts a thawed entry's payload back into memory.
// The segment already holds the exact zstd blobs Cold wants.
func (m *Manager[T]) promoteFrozenToCold(path string, e *entry) bool {
	m.entMu.RLock()
	var fp *frozenPayload
	if m.entries[path] == e && e.tier == Frozen {
		fp, _ = m.frozen.get(path)
	}
	m.entMu.RUnlock()
	if fp == nil {
		return false
	}

	srcZstd, treeZstd, err := m.seg.Read(fp.handle)
	if err != nil {
		m.frozenErrors.Add(1)
		m.log.Warn("frozen entry unreadable, dropping", "path", path, "error", err)
		m.dropEntry(path, e)
		return false
	}
	cp := &coldPayload{srcZstd: srcZstd, treeZstd: treeZstd, srcLen: chunk.RawLen(srcZstd)}

	m.entMu.Lock()
	if m.entries[path] != e || e.tier != Frozen {
		m.entMu.Unlock()
		return false
	}
	m.frozen.remove(path)
	m.cold.put(path, cp)
	e.tier = Cold
	e.size = int64(cp.srcLen)
	e.accessCount.Store(0)
	e.lastAccess.Store(m.now().UnixNano())
	m.entMu.Unlock()

	if err := m.seg.Remove(path); err != nil {
		m.log.Warn("segment removal failed", "path", path, "error", err)
	}
	m.promotions.Add(1)
	return true
}

// forgetFrozen clears the in-memory record of a quota-evicted segment.
func (m *Manager[T]) forgetFrozen(path string) {
	m.entMu.Lock()
	defer m.entMu.Unlock()
	if e, ok := m.entries[path]; ok && e.tier == Frozen {
		delete(m.entries, path)
		m.frozen.remove(path)
	}
}

func (m *Manager[T]) idleFor(e *entry) time.Duration {
	return time.Duration(m.now().UnixNano() - e.lastAccess.Load())
}

// enforceCapacity demotes least recently used entries while a bounded
// tier is over its byte budget. The newest entry is never demoted, so one
// oversized file settles in place instead of thrashing.
func (m *Manager[T]) enforceCapacity() {
	if limit := m.cfg.HotCapacityBytes; limit > 0 {
		for m.hot.memTotal() > limit && m.hot.len() > 1 {
			path, ok := m.hot.oldest()
			if !ok {
				break
			}
			e := m.entryFor(path)
			if e == nil || !m.demoteHotToWarm(path, e, true) {
				break
			}
		}
	}
	m.enforceWarmCapacity()
}

func (m *Manager[T]) enforceWarmCapacity() {
	limit := m.cfg.WarmCapacityBytes
	if limit <= 0 {
		return
	}
	for m.warm.memTotal() > limit && m.warm.len() > 1 {
		path, ok := m.warm.oldest()
		if !ok {
			break
		}
		e := m.entryFor(path)
		if e == nil || !m.demoteWarmToCold(path, e, true) {
			break
		}
	}
}

func (m *Manager[T]) entryFor(path string) *entry {
	m.entMu.RLock()
	defer m.entMu.RUnlock()
	return m.entries[path]
}
