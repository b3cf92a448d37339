// Package tlb implements spec.md §4.2: a bounded LRU translation cache
// keyed by (StreamID, PASID, IOVA-page, SecurityDomain), with secondary
// indices by StreamID, by (StreamID, PASID), and by SecurityDomain so
// that selective invalidation is O(k) in the number of affected entries
// rather than O(N) in cache size.
package tlb

import (
	"container/list"

	"github.com/sasha-s/go-deadlock"

	"github.com/arm-smmu/smmuv3/internal/atomicbits"
	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// CacheKey identifies one cached translation.
type CacheKey struct {
	SID  types.StreamID
	PID  types.PASID
	Page uint64
	Sec  types.SecurityDomain
}

type streamPASID struct {
	SID types.StreamID
	PID types.PASID
}

// Entry is a cached translation tuple. TLB owns entries by value; callers
// always receive a copy, never a pointer that outlives the cache.
type Entry struct {
	SID       types.StreamID
	PID       types.PASID
	IOVAPage  uint64
	PAPage    uint64
	Perms     types.PagePermissions
	Sec       types.SecurityDomain
	Valid     bool
	Timestamp int64
}

type node struct {
	key   CacheKey
	entry Entry
}

// Stats is a consistent snapshot of the cache's lifetime counters.
type Stats struct {
	Hits         uint64
	Misses       uint64
	TotalLookups uint64
	CurrentSize  int
	Bound        int
}

// TLB is the bounded, secondary-indexed LRU translation cache.
type TLB struct {
	mu deadlock.Mutex

	bound int
	order *list.List // front = MRU, back = LRU
	index map[CacheKey]*list.Element

	byStream       map[types.StreamID]map[*list.Element]struct{}
	byStreamPASID  map[streamPASID]map[*list.Element]struct{}
	bySecurity     map[types.SecurityDomain]map[*list.Element]struct{}

	hits   atomicbits.Uint64
	misses atomicbits.Uint64
}

// New constructs a TLB bounded to hold at most bound entries.
func New(bound int) *TLB {
	if bound <= 0 {
		bound = 1
	}
	return &TLB{
		bound:         bound,
		order:         list.New(),
		index:         make(map[CacheKey]*list.Element),
		byStream:      make(map[types.StreamID]map[*list.Element]struct{}),
		byStreamPASID: make(map[streamPASID]map[*list.Element]struct{}),
		bySecurity:    make(map[types.SecurityDomain]map[*list.Element]struct{}),
	}
}

func (t *TLB) addToIndices(el *list.Element) {
	n := el.Value.(*node)
	sid := n.key.SID
	sp := streamPASID{SID: n.key.SID, PID: n.key.PID}
	sec := n.key.Sec

	if _, ok := t.byStream[sid]; !ok {
		t.byStream[sid] = make(map[*list.Element]struct{})
	}
	t.byStream[sid][el] = struct{}{}

	if _, ok := t.byStreamPASID[sp]; !ok {
		t.byStreamPASID[sp] = make(map[*list.Element]struct{})
	}
	t.byStreamPASID[sp][el] = struct{}{}

	if _, ok := t.bySecurity[sec]; !ok {
		t.bySecurity[sec] = make(map[*list.Element]struct{})
	}
	t.bySecurity[sec][el] = struct{}{}
}

func (t *TLB) removeFromIndices(el *list.Element) {
	n := el.Value.(*node)
	sid := n.key.SID
	sp := streamPASID{SID: n.key.SID, PID: n.key.PID}
	sec := n.key.Sec

	delete(t.byStream[sid], el)
	if len(t.byStream[sid]) == 0 {
		delete(t.byStream, sid)
	}
	delete(t.byStreamPASID[sp], el)
	if len(t.byStreamPASID[sp]) == 0 {
		delete(t.byStreamPASID, sp)
	}
	delete(t.bySecurity[sec], el)
	if len(t.bySecurity[sec]) == 0 {
		delete(t.bySecurity, sec)
	}
}

// removeElementLocked assumes t.mu is held.
func (t *TLB) removeElementLocked(el *list.Element) {
	n := el.Value.(*node)
	t.removeFromIndices(el)
	delete(t.index, n.key)
	t.order.Remove(el)
}

func (t *TLB) evictLRULocked() {
	back := t.order.Back()
	if back == nil {
		return
	}
	t.removeElementLocked(back)
}

// Lookup validates the PASID range, then answers a cache query. On a hit
// the entry is promoted to MRU and a copy is returned; on a miss or an
// out-of-range PASID a typed error is returned. The StreamID is not
// range-checked here; the TLB holds no stream bound.
func (t *TLB) Lookup(sid types.StreamID, pid types.PASID, iovaPage uint64, sec types.SecurityDomain) types.Result[Entry] {
	if !types.ValidPASID(pid) {
		return types.Err[Entry](types.InvalidPASID)
	}

	key := CacheKey{SID: sid, PID: pid, Page: iovaPage, Sec: sec}

	t.mu.Lock()
	el, ok := t.index[key]
	if !ok {
		t.mu.Unlock()
		t.misses.Inc()
		return types.Err[Entry](types.CacheEntryNotFound)
	}
	t.order.MoveToFront(el)
	entry := el.Value.(*node).entry
	t.mu.Unlock()

	t.hits.Inc()
	return types.Ok(entry)
}

// Insert adds or overwrites the entry for entry's key, promoting it to
// MRU. If the key is new and the cache is at its bound, the LRU entry is
// evicted first.
func (t *TLB) Insert(entry Entry) {
	key := CacheKey{SID: entry.SID, PID: entry.PID, Page: entry.IOVAPage, Sec: entry.Sec}

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.index[key]; ok {
		el.Value.(*node).entry = entry
		t.order.MoveToFront(el)
		return
	}

	if len(t.index) >= t.bound {
		t.evictLRULocked()
	}

	el := t.order.PushFront(&node{key: key, entry: entry})
	t.index[key] = el
	t.addToIndices(el)
}

// Invalidate removes one entry; it is not an error if absent.
func (t *TLB) Invalidate(sid types.StreamID, pid types.PASID, iovaPage uint64, sec types.SecurityDomain) {
	key := CacheKey{SID: sid, PID: pid, Page: iovaPage, Sec: sec}
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.index[key]; ok {
		t.removeElementLocked(el)
	}
}

// InvalidateStream removes every entry for sid via the StreamID index.
func (t *TLB) InvalidateStream(sid types.StreamID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for el := range t.byStream[sid] {
		t.removeElementLocked(el)
	}
}

// InvalidatePASID removes every entry for (sid, pid) via the
// (StreamID, PASID) index.
func (t *TLB) InvalidatePASID(sid types.StreamID, pid types.PASID) {
	sp := streamPASID{SID: sid, PID: pid}
	t.mu.Lock()
	defer t.mu.Unlock()
	for el := range t.byStreamPASID[sp] {
		t.removeElementLocked(el)
	}
}

// InvalidateBySecurityDomain removes every entry tagged sec via the
// SecurityDomain index.
func (t *TLB) InvalidateBySecurityDomain(sec types.SecurityDomain) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for el := range t.bySecurity[sec] {
		t.removeElementLocked(el)
	}
}

// InvalidateAll drops every entry.
func (t *TLB) InvalidateAll() { t.Clear() }

// Clear drops every entry and resets the secondary indices.
func (t *TLB) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = list.New()
	t.index = make(map[CacheKey]*list.Element)
	t.byStream = make(map[types.StreamID]map[*list.Element]struct{})
	t.byStreamPASID = make(map[streamPASID]map[*list.Element]struct{})
	t.bySecurity = make(map[types.SecurityDomain]map[*list.Element]struct{})
}

// SetMaxSize changes the bound, evicting from the LRU end until the
// cache fits.
func (t *TLB) SetMaxSize(n int) {
	if n <= 0 {
		n = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = n
	for len(t.index) > t.bound {
		t.evictLRULocked()
	}
}

// Stats returns a consistent {hits, misses, totalLookups, currentSize,
// bound} snapshot: hits and misses are re-read until a stable pair is
// observed, per spec.md §4.2/§9, so hits+misses == totalLookups always
// holds in the returned value even though they're incremented with
// independent relaxed atomics.
func (t *TLB) Stats() Stats {
	var hits, misses uint64
	for {
		h1, m1 := t.hits.Load(), t.misses.Load()
		h2, m2 := t.hits.Load(), t.misses.Load()
		if h1 == h2 && m1 == m2 {
			hits, misses = h1, m1
			break
		}
	}

	t.mu.Lock()
	size, bound := len(t.index), t.bound
	t.mu.Unlock()

	return Stats{
		Hits:         hits,
		Misses:       misses,
		TotalLookups: hits + misses,
		CurrentSize:  size,
		Bound:        bound,
	}
}

// ResetStats zeroes the hit/miss counters without touching cache
// contents.
func (t *TLB) ResetStats() {
	t.hits.Store(0)
	t.misses.Store(0)
}
