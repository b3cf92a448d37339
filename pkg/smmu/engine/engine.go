// Package engine implements spec.md §4.5: the TranslationEngine façade
// that owns the StreamID→StreamContext map, the global TLB, the fault
// queue, and the active configuration, and that orchestrates the
// translate hot path and the invalidation command surface.
package engine

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/arm-smmu/smmuv3/internal/atomicbits"
	"github.com/arm-smmu/smmuv3/pkg/smmu/addrspace"
	"github.com/arm-smmu/smmuv3/pkg/smmu/config"
	"github.com/arm-smmu/smmuv3/pkg/smmu/fault"
	"github.com/arm-smmu/smmuv3/pkg/smmu/stream"
	"github.com/arm-smmu/smmuv3/pkg/smmu/tlb"
	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// Engine is spec.md §4.5's TranslationEngine: a value a caller constructs
// and owns outright (spec.md §9: "Mutable global state: None — the
// engine is a value a user constructs and owns. No singletons.").
//
// Lock order, mirroring the package-doc convention in
// _examples/maxnasonov-gvisor/pkg/sentry/mm/mm.go (spec.md §5):
//
//	Engine.mu (StreamID -> *stream.Context map)
//		stream.Context's internal lock
//			addrspace.AddressSpace's internal lock
//				TLB.mu
//					fault.Queue.mu
//
// The translate hot path acquires the TLB lock outside the context lock
// on a cache hit — it never touches Engine.mu or a stream lock at all.
type Engine struct {
	mu deadlock.RWMutex

	streams map[types.StreamID]*stream.Context

	tlbCache *tlb.TLB
	faults   *fault.Queue
	cfg      config.Config

	log *logrus.Logger

	threadGate *semaphore.Weighted

	totalPASIDs atomicbits.Int32
}

// New constructs an Engine from cfg.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	e := &Engine{
		streams:  make(map[types.StreamID]*stream.Context),
		tlbCache: tlb.New(cfg.TLBCacheSize),
		faults:   fault.New(cfg.EventQueueSize),
		cfg:      cfg,
		log:      log,
	}
	if cfg.EnableResourceTracking {
		e.threadGate = semaphore.NewWeighted(int64(cfg.MaxThreadCount))
	}
	return e, nil
}

// NewFromProfile constructs an Engine from a named profile
// (config.ProfileDefault, config.ProfileServer, ...).
func NewFromProfile(name string) (*Engine, error) {
	cfg, err := config.Profile(name)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Logger exposes the engine's structured logger for callers that want to
// attach it to their own log pipeline (e.g. redirect output, add hooks).
func (e *Engine) Logger() *logrus.Logger { return e.log }

func (e *Engine) validStreamID(sid types.StreamID) bool {
	return uint32(sid) < e.cfg.MaxStreamCount
}

// clockBase anchors stream access timestamps to the wall clock once.
var clockBase = time.Now()

// nowNanos returns Unix nanoseconds at package init plus the monotonic
// time elapsed since, so successive readings never go backwards.
func nowNanos() int64 { return clockBase.UnixNano() + int64(time.Since(clockBase)) }

// --- Configuration surface ----------------------------------------------

// ConfigureStream creates (or overwrites) the StreamContext for sid.
func (e *Engine) ConfigureStream(sid types.StreamID, cfg stream.Config) error {
	if !e.validStreamID(sid) {
		return types.NewError(types.InvalidStreamID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.streams[sid]; !exists && uint32(len(e.streams)) >= e.cfg.MaxStreamCount {
		return types.NewError(types.StreamLimitExceeded)
	}

	asCfg := addrspace.Config{Granule: e.cfg.Granule, MaxAddressBits: maxBits(e.cfg)}
	ctx, err := stream.New(cfg, asCfg)
	if err != nil {
		return types.NewError(types.InvalidConfiguration)
	}
	e.streams[sid] = ctx
	e.tlbCache.InvalidateStream(sid)
	return nil
}

func maxBits(cfg config.Config) uint {
	if cfg.MaxIOVASize > cfg.MaxPASize {
		return cfg.MaxIOVASize
	}
	return cfg.MaxPASize
}

func (e *Engine) lookupStream(sid types.StreamID) (*stream.Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ctx, ok := e.streams[sid]
	if !ok {
		return nil, types.NewError(types.StreamNotConfigured)
	}
	return ctx, nil
}

// EnableStream enables a previously configured stream.
func (e *Engine) EnableStream(sid types.StreamID) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return err
	}
	return ctx.EnableStream()
}

// DisableStream disables a previously configured stream.
func (e *Engine) DisableStream(sid types.StreamID) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return err
	}
	ctx.DisableStream()
	return nil
}

// IsStreamEnabled reports whether sid is configured and enabled.
func (e *Engine) IsStreamEnabled(sid types.StreamID) (bool, error) {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return false, err
	}
	return ctx.IsEnabled(), nil
}

// CreateStreamPASID allocates a Stage-1 AddressSpace for (sid, pid).
func (e *Engine) CreateStreamPASID(sid types.StreamID, pid types.PASID) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	if !types.ValidPASID(pid) {
		return types.NewError(types.InvalidPASID)
	}
	if uint32(e.totalPASIDs.Load()) >= e.cfg.MaxPASIDCount {
		return types.NewError(types.PASIDLimitExceeded)
	}
	if err := ctx.CreatePASID(pid); err != nil {
		return err
	}
	e.totalPASIDs.Add(1)
	return nil
}

// RemoveStreamPASID drops (sid, pid)'s Stage-1 AddressSpace, first
// invalidating every cached translation for that (StreamID, PASID) pair
// (spec.md §4.5: "MUST invalidate all cached entries ... before dropping
// the PASID").
func (e *Engine) RemoveStreamPASID(sid types.StreamID, pid types.PASID) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	if !types.ValidPASID(pid) {
		return types.NewError(types.InvalidPASID)
	}
	e.tlbCache.InvalidatePASID(sid, pid)
	if err := ctx.RemovePASID(pid); err != nil {
		return err
	}
	e.totalPASIDs.Add(-1)
	return nil
}

// MapPage forwards to the chosen PASID's Stage-1 AddressSpace.
func (e *Engine) MapPage(sid types.StreamID, pid types.PASID, iova, pa uint64, perms types.PagePermissions, sec types.SecurityDomain) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	as, ok := ctx.AddressSpaceFor(pid)
	if !ok {
		return types.NewError(types.PASIDNotFound)
	}
	return as.MapPage(iova, pa, perms, sec)
}

// UnmapPage forwards to the chosen PASID's Stage-1 AddressSpace and
// invalidates the corresponding TLB entry.
func (e *Engine) UnmapPage(sid types.StreamID, pid types.PASID, iova uint64) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	as, ok := ctx.AddressSpaceFor(pid)
	if !ok {
		return types.NewError(types.PASIDNotFound)
	}
	if err := as.UnmapPage(iova); err != nil {
		return err
	}
	for _, sec := range []types.SecurityDomain{types.NonSecure, types.Secure, types.Realm} {
		e.tlbCache.Invalidate(sid, pid, iova>>e.cfg.Granule.Shift(), sec)
	}
	return nil
}

// MapStage2Page installs a Stage-2 mapping on sid's shared Stage-2
// AddressSpace, creating one if none is attached yet. Dedicated call per
// spec.md §9 (DESIGN.md, Open Question decisions #2), rather than
// overloading PASID 0 in MapPage.
func (e *Engine) MapStage2Page(sid types.StreamID, ipa, pa uint64, perms types.PagePermissions, sec types.SecurityDomain) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	as, ok := ctx.Stage2AddressSpace()
	if !ok {
		as = addrspace.New(addrspace.Config{Granule: e.cfg.Granule, MaxAddressBits: maxBits(e.cfg)})
		ctx.SetStage2AddressSpace(as)
	}
	return as.MapPage(ipa, pa, perms, sec)
}

// UnmapStage2Page removes a Stage-2 mapping and invalidates every cached
// entry for sid (Stage-2 is shared across every PASID on the stream, so
// a narrower invalidation can't be correct).
func (e *Engine) UnmapStage2Page(sid types.StreamID, ipa uint64) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	as, ok := ctx.Stage2AddressSpace()
	if !ok {
		return types.NewError(types.PageNotMapped)
	}
	if err := as.UnmapPage(ipa); err != nil {
		return err
	}
	e.tlbCache.InvalidateStream(sid)
	return nil
}

// UpdateStreamConfiguration fully replaces sid's StreamConfig.
func (e *Engine) UpdateStreamConfiguration(sid types.StreamID, cfg stream.Config) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	return ctx.UpdateConfiguration(cfg)
}

// ApplyStreamConfigurationChanges merges cfg onto sid's current
// StreamConfig.
func (e *Engine) ApplyStreamConfigurationChanges(sid types.StreamID, cfg stream.Config) error {
	ctx, err := e.lookupStream(sid)
	if err != nil {
		return types.NewError(types.InvalidStreamID)
	}
	return ctx.ApplyConfigurationChanges(cfg)
}

// threadGateAcquire blocks (never fails) until a translation slot is
// free, when resource tracking is enabled. It never errors because
// context.Background() never cancels; spec.md §5 guarantees no unbounded
// waits since MaxThreadCount itself is bounded and callers are expected
// to return their slot promptly (Translate releases it before
// returning).
func (e *Engine) threadGateAcquire() {
	if e.threadGate == nil {
		return
	}
	_ = e.threadGate.Acquire(context.Background(), 1)
}

func (e *Engine) threadGateRelease() {
	if e.threadGate == nil {
		return
	}
	e.threadGate.Release(1)
}
