// Package addrspace implements spec.md §4.1: a sparse per-stage page
// table and its single-page translation query. Exactly one AddressSpace
// backs one Stage-1 context (one per PASID) or one shared Stage-2
// context; it knows nothing about streams, PASIDs, or the two-stage
// pipeline above it — that composition lives in pkg/smmu/stream.
//
// Storage is a hash map keyed by virtual page number, the same "sparse
// map is the model, no descriptor walk" choice spec.md §4.1 mandates. A
// secondary btree.BTree of mapped page numbers (github.com/google/btree,
// a direct dependency of the teacher) gives GetMappedRanges and
// HasOverlappingMappings an address-ordered walk without sorting the
// whole map on every call; it is not an alternate source of truth, the
// hash map remains authoritative for membership and PageEntry lookups.
package addrspace

import (
	"math"

	"github.com/google/btree"
	"github.com/sasha-s/go-deadlock"

	"github.com/arm-smmu/smmuv3/internal/atomicbits"
	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// Config fixes the page size and address width for one AddressSpace.
type Config struct {
	Granule        types.Granule
	MaxAddressBits uint // 32, 40, 48, or 52
}

// DefaultConfig is 4 KiB pages with a 48-bit address space.
func DefaultConfig() Config {
	return Config{Granule: types.Granule4K, MaxAddressBits: 48}
}

type vpnItem uint64

func (v vpnItem) Less(than btree.Item) bool { return v < than.(vpnItem) }

// AddressSpace is the authoritative sparse page table for one translation
// stage. It may be shared by reference across PASIDs (Stage-1 reuse) or
// across stream contexts (a single shared Stage-2), per spec.md's
// "shared ownership" data-model entry; callers that share an instance
// must use Retain/Release to track the last-holder lifetime described in
// spec.md §9.
type AddressSpace struct {
	mu deadlock.RWMutex

	cfg      Config
	pageSize uint64
	shift    uint
	addrMask uint64

	entries map[uint64]types.PageEntry
	index   *btree.BTree

	refcount atomicbits.Int32
}

// New constructs an empty AddressSpace for the given configuration.
func New(cfg Config) *AddressSpace {
	if !types.ValidGranule(cfg.Granule) {
		cfg.Granule = types.Granule4K
	}
	if cfg.MaxAddressBits == 0 {
		cfg.MaxAddressBits = 48
	}
	shift := cfg.Granule.Shift()
	as := &AddressSpace{
		cfg:      cfg,
		pageSize: uint64(cfg.Granule),
		shift:    shift,
		entries:  make(map[uint64]types.PageEntry),
		index:    btree.New(32),
	}
	if cfg.MaxAddressBits >= 64 {
		as.addrMask = math.MaxUint64
	} else {
		as.addrMask = (uint64(1) << cfg.MaxAddressBits) - 1
	}
	as.refcount.Store(1)
	return as
}

// Retain increments the shared-ownership refcount (spec.md §9).
func (as *AddressSpace) Retain() { as.refcount.Add(1) }

// Release decrements the shared-ownership refcount and reports whether
// this was the last holder. It does not itself clear the map: callers
// (pkg/smmu/stream, pkg/smmu/engine) decide whether a zero-refcount
// AddressSpace should be dropped.
func (as *AddressSpace) Release() bool {
	return as.refcount.Add(-1) <= 0
}

func (as *AddressSpace) pageNumber(addr uint64) uint64 { return addr >> as.shift }

func (as *AddressSpace) pageAlign(addr uint64) uint64 {
	return addr &^ (as.pageSize - 1)
}

func (as *AddressSpace) inRange(addr uint64) bool { return addr <= as.addrMask }

// MapPage installs (or replaces) a single mapping. Replacing an existing
// entry is not an error. The supplied pa is page-aligned before storage;
// iova is page-aligned to form the lookup key.
func (as *AddressSpace) MapPage(iova, pa uint64, perms types.PagePermissions, sec types.SecurityDomain) error {
	if !as.inRange(iova) || !as.inRange(pa) {
		return types.NewError(types.InvalidAddress)
	}
	if perms.IsZero() {
		return types.NewError(types.InvalidPermissions)
	}
	if !types.ValidSecurityDomain(sec) {
		return types.NewError(types.InvalidSecurityDomain)
	}

	vpn := as.pageNumber(as.pageAlign(iova))
	entry := types.PageEntry{PA: as.pageAlign(pa), Perms: perms, Sec: sec, Valid: true}

	as.mu.Lock()
	defer as.mu.Unlock()
	if _, exists := as.entries[vpn]; !exists {
		as.index.ReplaceOrInsert(vpnItem(vpn))
	}
	as.entries[vpn] = entry
	return nil
}

// mapPageLocked assumes as.mu is already held for writing and that the
// caller has already validated inputs (used by MapRange/MapPages for
// fail-fast bulk semantics).
func (as *AddressSpace) mapPageLocked(iova, pa uint64, perms types.PagePermissions, sec types.SecurityDomain) {
	vpn := as.pageNumber(as.pageAlign(iova))
	if _, exists := as.entries[vpn]; !exists {
		as.index.ReplaceOrInsert(vpnItem(vpn))
	}
	as.entries[vpn] = types.PageEntry{PA: as.pageAlign(pa), Perms: perms, Sec: sec, Valid: true}
}

// MapRange establishes contiguous page-granularity mappings for
// [startIova, endIova) backed by physical frames starting at startPa.
// Every page in the range is mapped before this returns ok; inputs are
// validated before any mutation (fail-fast, all-or-nothing on validation,
// not required to be transactional on a mid-range panic since none can
// occur here).
func (as *AddressSpace) MapRange(startIova, endIova, startPa uint64, perms types.PagePermissions, sec types.SecurityDomain) error {
	if endIova <= startIova || !as.inRange(startIova) || !as.inRange(endIova-1) {
		return types.NewError(types.InvalidAddress)
	}
	if perms.IsZero() {
		return types.NewError(types.InvalidPermissions)
	}
	if !types.ValidSecurityDomain(sec) {
		return types.NewError(types.InvalidSecurityDomain)
	}
	size := endIova - startIova
	endPa := startPa + size
	if endPa < startPa || !as.inRange(endPa-1) {
		return types.NewError(types.InvalidAddress)
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	alignedStart := as.pageAlign(startIova)
	for off := uint64(0); off < size; off += as.pageSize {
		as.mapPageLocked(alignedStart+off, startPa+off, perms, sec)
	}
	return nil
}

// PageSpec is one entry of a bulk Map/UnmapPages call.
type PageSpec struct {
	IOVA  uint64
	PA    uint64
	Perms types.PagePermissions
	Sec   types.SecurityDomain
}

// MapPages validates every entry before mutating anything (fail-fast),
// then installs them all.
func (as *AddressSpace) MapPages(specs []PageSpec) error {
	for _, s := range specs {
		if !as.inRange(s.IOVA) || !as.inRange(s.PA) {
			return types.NewError(types.InvalidAddress)
		}
		if s.Perms.IsZero() {
			return types.NewError(types.InvalidPermissions)
		}
		if !types.ValidSecurityDomain(s.Sec) {
			return types.NewError(types.InvalidSecurityDomain)
		}
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, s := range specs {
		as.mapPageLocked(s.IOVA, s.PA, s.Perms, s.Sec)
	}
	return nil
}

// UnmapPage removes a single mapping.
func (as *AddressSpace) UnmapPage(iova uint64) error {
	if !as.inRange(iova) {
		return types.NewError(types.InvalidAddress)
	}
	vpn := as.pageNumber(as.pageAlign(iova))

	as.mu.Lock()
	defer as.mu.Unlock()
	if _, ok := as.entries[vpn]; !ok {
		return types.NewError(types.PageNotMapped)
	}
	delete(as.entries, vpn)
	as.index.Delete(vpnItem(vpn))
	return nil
}

// UnmapRange removes every mapping in [startIova, endIova). At least one
// page in the range must have been mapped, else PageNotMapped.
func (as *AddressSpace) UnmapRange(startIova, endIova uint64) error {
	if endIova <= startIova || !as.inRange(startIova) || !as.inRange(endIova-1) {
		return types.NewError(types.InvalidAddress)
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	alignedStart := as.pageAlign(startIova)
	size := endIova - startIova
	removed := false
	for off := uint64(0); off < size; off += as.pageSize {
		vpn := as.pageNumber(alignedStart + off)
		if _, ok := as.entries[vpn]; ok {
			delete(as.entries, vpn)
			as.index.Delete(vpnItem(vpn))
			removed = true
		}
	}
	if !removed {
		return types.NewError(types.PageNotMapped)
	}
	return nil
}

// UnmapPages removes every listed page; validation of all addresses
// precedes any mutation.
func (as *AddressSpace) UnmapPages(iovas []uint64) error {
	for _, iova := range iovas {
		if !as.inRange(iova) {
			return types.NewError(types.InvalidAddress)
		}
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, iova := range iovas {
		vpn := as.pageNumber(as.pageAlign(iova))
		delete(as.entries, vpn)
		as.index.Delete(vpnItem(vpn))
	}
	return nil
}

// TranslatePage answers a single-page translation query. Checks run in
// the fixed order spec.md §4.1 requires: existence, validity, security
// match, permission match. The returned PA carries iova's in-page offset
// OR'd onto the stored page-aligned frame.
func (as *AddressSpace) TranslatePage(iova uint64, access types.AccessKind, sec types.SecurityDomain) types.Result[types.TranslationResult] {
	if !as.inRange(iova) {
		return types.Err[types.TranslationResult](types.InvalidAddress)
	}
	vpn := as.pageNumber(as.pageAlign(iova))

	as.mu.RLock()
	entry, ok := as.entries[vpn]
	as.mu.RUnlock()

	if !ok {
		return types.Err[types.TranslationResult](types.TranslationFault)
	}
	if !entry.Valid {
		return types.Err[types.TranslationResult](types.TranslationFault)
	}
	if entry.Sec != sec {
		return types.Err[types.TranslationResult](types.SecurityFault)
	}
	if !entry.Perms.Admits(access) {
		return types.Err[types.TranslationResult](types.PermissionFault)
	}

	offset := iova & (as.pageSize - 1)
	return types.Ok(types.TranslationResult{
		PA:    entry.PA | offset,
		Perms: entry.Perms,
		Sec:   entry.Sec,
	})
}

// IsPageMapped reports whether iova's page has a stored mapping.
func (as *AddressSpace) IsPageMapped(iova uint64) bool {
	vpn := as.pageNumber(as.pageAlign(iova))
	as.mu.RLock()
	defer as.mu.RUnlock()
	_, ok := as.entries[vpn]
	return ok
}

// GetPagePermissions returns the permissions stored for iova's page.
func (as *AddressSpace) GetPagePermissions(iova uint64) (types.PagePermissions, error) {
	vpn := as.pageNumber(as.pageAlign(iova))
	as.mu.RLock()
	defer as.mu.RUnlock()
	entry, ok := as.entries[vpn]
	if !ok {
		return types.PagePermissions{}, types.NewError(types.PageNotMapped)
	}
	return entry.Perms, nil
}

// GetPageCount returns the number of mapped pages.
func (as *AddressSpace) GetPageCount() int {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return len(as.entries)
}

// GetMappedRanges returns ascending, non-overlapping, coalesced virtual
// address ranges covering every mapped page.
func (as *AddressSpace) GetMappedRanges() []types.MappedRange {
	as.mu.RLock()
	defer as.mu.RUnlock()

	var ranges []types.MappedRange
	var rangeStartVPN, prevVPN uint64
	haveOpen := false

	as.index.Ascend(func(item btree.Item) bool {
		vpn := uint64(item.(vpnItem))
		switch {
		case !haveOpen:
			rangeStartVPN, prevVPN = vpn, vpn
			haveOpen = true
		case vpn == prevVPN+1:
			prevVPN = vpn
		default:
			ranges = append(ranges, types.MappedRange{
				Start: types.IOVA(rangeStartVPN << as.shift),
				End:   types.IOVA((prevVPN + 1) << as.shift),
			})
			rangeStartVPN, prevVPN = vpn, vpn
		}
		return true
	})
	if haveOpen {
		ranges = append(ranges, types.MappedRange{
			Start: types.IOVA(rangeStartVPN << as.shift),
			End:   types.IOVA((prevVPN + 1) << as.shift),
		})
	}
	return ranges
}

// HasOverlappingMappings reports whether any valid entry exists in
// [start, end).
func (as *AddressSpace) HasOverlappingMappings(start, end uint64) bool {
	if end <= start {
		return false
	}
	startVPN := as.pageNumber(as.pageAlign(start))
	endVPN := as.pageNumber(as.pageAlign(end-1)) + 1

	as.mu.RLock()
	defer as.mu.RUnlock()
	found := false
	as.index.AscendRange(vpnItem(startVPN), vpnItem(endVPN), func(btree.Item) bool {
		found = true
		return false
	})
	return found
}

// Clear drops every entry.
func (as *AddressSpace) Clear() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.entries = make(map[uint64]types.PageEntry)
	as.index = btree.New(32)
}

// PageSize returns the configured page size in bytes.
func (as *AddressSpace) PageSize() uint64 { return as.pageSize }
