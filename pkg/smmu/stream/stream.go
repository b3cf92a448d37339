// Package stream implements spec.md §4.3: per-device state holding the
// PASID→Stage-1-AddressSpace map, an optional shared Stage-2
// AddressSpace, stream configuration, enable/fault-mode flags, and the
// composed two-stage translation entry point.
package stream

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/arm-smmu/smmuv3/internal/atomicbits"
	"github.com/arm-smmu/smmuv3/pkg/smmu/addrspace"
	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// FaultHandler is an optional observer a StreamContext may hold without
// owning: per spec.md §9's cyclic-reference note, the handler must be
// reachable from the stream but must not be kept alive by it, so it is
// owned by whoever installs it with SetFaultHandler. The engine installs
// none. The hot translate path never calls it — fault attribution happens
// at the engine, which knows the StreamID; see pkg/smmu/engine.
type FaultHandler interface {
	OnFault(pid types.PASID, addr uint64, access types.AccessKind, kind types.Kind)
}

// Statistics are the per-stream counters spec.md §4.3 and §9 require.
type Statistics struct {
	TranslationCount     uint64
	FaultCount           uint64
	LastAccessTimestamp  int64
}

// Context is spec.md §3/§4.3's StreamContext.
type Context struct {
	mu deadlock.RWMutex

	pasidMap map[types.PASID]*addrspace.AddressSpace
	as2      *addrspace.AddressSpace

	cfg     Config
	enabled bool

	faultHandler FaultHandler

	translationCount    atomicbits.Uint64
	faultCount          atomicbits.Uint64
	lastAccessTimestamp atomicbits.Int64

	asConfig addrspace.Config
}

// New constructs a Context with the given initial configuration and the
// AddressSpace configuration (granule/address width) new PASIDs should
// be created with.
func New(cfg Config, asConfig addrspace.Config) (*Context, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Context{
		pasidMap: make(map[types.PASID]*addrspace.AddressSpace),
		cfg:      cfg,
		asConfig: asConfig,
	}, nil
}

// --- PASID management -------------------------------------------------

// CreatePASID allocates a fresh Stage-1 AddressSpace for pid.
func (c *Context) CreatePASID(pid types.PASID) error {
	if !types.ValidPASID(pid) {
		return types.NewError(types.InvalidPASID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pasidMap[pid]; exists {
		return types.NewError(types.PASIDAlreadyExists)
	}
	c.pasidMap[pid] = addrspace.New(c.asConfig)
	return nil
}

// AddPASID attaches an externally provided Stage-1 AddressSpace,
// supporting address-space reuse across PASIDs. A nil as, or an
// out-of-range pid, is silently ignored: spec.md §9 preserves this
// asymmetry with CreatePASID's error return as a deliberate interface-
// stability choice (see DESIGN.md, Open Question decisions, #1).
func (c *Context) AddPASID(pid types.PASID, as *addrspace.AddressSpace) {
	if as == nil || !types.ValidPASID(pid) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	as.Retain()
	c.pasidMap[pid] = as
}

// RemovePASID drops the Stage-1 reference for pid. TLB coordination for
// the dropped (SID, PID) pair happens at the engine level, per spec.md
// §4.3.
func (c *Context) RemovePASID(pid types.PASID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	as, ok := c.pasidMap[pid]
	if !ok {
		return types.NewError(types.PASIDNotFound)
	}
	as.Release()
	delete(c.pasidMap, pid)
	return nil
}

// HasPASID reports whether pid currently has a Stage-1 AddressSpace.
func (c *Context) HasPASID(pid types.PASID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pasidMap[pid]
	return ok
}

// GetPASIDCount returns the number of PASIDs currently attached.
func (c *Context) GetPASIDCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pasidMap)
}

// ClearAllPASIDs drops every PASID's Stage-1 reference.
func (c *Context) ClearAllPASIDs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, as := range c.pasidMap {
		as.Release()
	}
	c.pasidMap = make(map[types.PASID]*addrspace.AddressSpace)
}

// AddressSpaceFor returns the Stage-1 AddressSpace for pid, for callers
// (the engine) that need to forward MapPage/UnmapPage.
func (c *Context) AddressSpaceFor(pid types.PASID) (*addrspace.AddressSpace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	as, ok := c.pasidMap[pid]
	return as, ok
}

// --- Stage-2 attach -----------------------------------------------------

// SetStage2AddressSpace attaches the shared Stage-2 AddressSpace. A
// dedicated setter, rather than overloading PASID 0 in MapPage, per
// spec.md §9's suggested alternative (DESIGN.md, Open Question decisions
// #2).
func (c *Context) SetStage2AddressSpace(as *addrspace.AddressSpace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.as2 != nil {
		c.as2.Release()
	}
	if as != nil {
		as.Retain()
	}
	c.as2 = as
}

// Stage2AddressSpace returns the currently attached shared Stage-2
// AddressSpace, if any.
func (c *Context) Stage2AddressSpace() (*addrspace.AddressSpace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.as2, c.as2 != nil
}

// --- Configuration ------------------------------------------------------

// Config returns a copy of the current configuration.
func (c *Context) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// validatePASIDsLocked checks that, if Stage-1 is enabled, every existing
// PASID has a non-nil Stage-1 AddressSpace (always true by construction
// here, but re-checked to satisfy spec.md §4.3's validation rule
// explicitly) and is itself in range.
func (c *Context) validatePASIDsLocked(cfg Config) error {
	if !cfg.Stage1Enabled {
		return nil
	}
	for pid, as := range c.pasidMap {
		if !types.ValidPASID(pid) {
			return types.NewError(types.InvalidConfiguration)
		}
		if as == nil {
			return types.NewError(types.InvalidConfiguration)
		}
	}
	return nil
}

// UpdateConfiguration fully replaces the configuration: validates first,
// applies only on success.
func (c *Context) UpdateConfiguration(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validatePASIDsLocked(cfg); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// ApplyConfigurationChanges merges cfg onto the current configuration
// (see mergeConfig), validates the result, and applies it; it is a no-op
// if the merge produces no change.
func (c *Context) ApplyConfigurationChanges(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged, err := mergeConfig(c.cfg, cfg)
	if err != nil {
		return err
	}
	if merged == c.cfg {
		return nil
	}
	if err := merged.validate(); err != nil {
		return err
	}
	if err := c.validatePASIDsLocked(merged); err != nil {
		return err
	}
	c.cfg = merged
	return nil
}

// EnableStream enables the stream. It requires a currently-valid
// configuration with at least one stage enabled.
func (c *Context) EnableStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Stage1Enabled && !c.cfg.Stage2Enabled {
		return types.NewError(types.ConfigurationError)
	}
	c.enabled = true
	return nil
}

// DisableStream disables the stream, independent of TranslationEnabled.
func (c *Context) DisableStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// IsEnabled reports the stream-enabled flag.
func (c *Context) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetFaultHandler installs (or clears, with nil) the optional fault
// observer. Ownership stays with the caller; see FaultHandler's doc
// comment.
func (c *Context) SetFaultHandler(h FaultHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faultHandler = h
}

// --- Translation ----------------------------------------------------

// Statistics returns a snapshot of the per-stream counters.
func (c *Context) Statistics() Statistics {
	return Statistics{
		TranslationCount:    c.translationCount.Load(),
		FaultCount:          c.faultCount.Load(),
		LastAccessTimestamp: c.lastAccessTimestamp.Load(),
	}
}

func (c *Context) bumpFault() { c.faultCount.Inc() }

// Translate runs the composed Stage-1/Stage-2 pipeline for (pid, iova),
// exactly following spec.md §4.3's algorithm. now is a monotonic
// timestamp (nanoseconds) supplied by the caller so the stream itself
// never touches a clock directly.
func (c *Context) Translate(pid types.PASID, iova uint64, access types.AccessKind, sec types.SecurityDomain, now int64) (types.TranslationResult, types.FaultStage, error) {
	c.translationCount.Inc()
	c.lastAccessTimestamp.Store(now)

	c.mu.RLock()
	cfg := c.cfg
	enabled := c.enabled
	c.mu.RUnlock()

	if !cfg.Stage1Enabled && !cfg.Stage2Enabled {
		return types.TranslationResult{PA: iova, Perms: types.PagePermissions{Read: true, Write: true, Execute: true}, Sec: sec}, types.StageNone, nil
	}

	if cfg.TranslationEnabled && !enabled {
		c.bumpFault()
		return types.TranslationResult{}, types.StageNone, types.NewError(types.StreamDisabled)
	}

	if !types.ValidPASID(pid) {
		c.bumpFault()
		return types.TranslationResult{}, types.StageNone, types.NewError(types.InvalidPASID)
	}

	intermediate := iova
	var stage1Perms types.PagePermissions
	haveStage1 := false

	if cfg.Stage1Enabled {
		as1, ok := c.AddressSpaceFor(pid)
		if !ok {
			c.bumpFault()
			return types.TranslationResult{}, types.Stage1Only, types.NewError(types.PageNotMapped)
		}
		r1 := as1.TranslatePage(iova, access, sec)
		if r1.IsErr() {
			c.bumpFault()
			return types.TranslationResult{}, types.Stage1Only, types.NewError(r1.Kind())
		}
		intermediate = r1.Value().PA
		stage1Perms = r1.Value().Perms
		haveStage1 = true
	}

	if cfg.Stage2Enabled {
		as2, ok := c.Stage2AddressSpace()
		if !ok {
			c.bumpFault()
			stage := types.Stage2Only
			if haveStage1 {
				stage = types.BothStages
			}
			return types.TranslationResult{}, stage, types.NewError(types.PageNotMapped)
		}
		r2 := as2.TranslatePage(intermediate, access, sec)
		if r2.IsErr() {
			c.bumpFault()
			stage := types.Stage2Only
			if haveStage1 {
				stage = types.BothStages
			}
			return types.TranslationResult{}, stage, types.NewError(r2.Kind())
		}
		perms := r2.Value().Perms
		if haveStage1 {
			// Permission intersection across stages (spec.md §3/§8 #8;
			// DESIGN.md Open Question decisions #3) rather than returning
			// Stage-2's permissions alone.
			perms = stage1Perms.And(perms)
			if !perms.Admits(access) {
				c.bumpFault()
				return types.TranslationResult{}, types.BothStages, types.NewError(types.PermissionFault)
			}
		}
		return types.TranslationResult{PA: r2.Value().PA, Perms: perms, Sec: sec}, types.BothStages, nil
	}

	// Stage-1 only.
	return types.TranslationResult{PA: intermediate, Perms: stage1Perms, Sec: sec}, types.Stage1Only, nil
}
