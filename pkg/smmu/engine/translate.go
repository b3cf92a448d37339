package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/arm-smmu/smmuv3/pkg/smmu/fault"
	"github.com/arm-smmu/smmuv3/pkg/smmu/tlb"
	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// Translate is spec.md §4.5's hot path:
//
//  1. bound-check SID/PID
//  2. TLB lookup; on hit, re-check permissions against the requested
//     access (a hit is never a permission bypass) and return
//  3. on miss, locate the StreamContext and delegate to its Translate
//  4. on success, insert into the TLB and return the PA
//  5. on failure, build and record a FaultRecord, return the typed error
func (e *Engine) Translate(sid types.StreamID, pid types.PASID, iova uint64, access types.AccessKind, sec types.SecurityDomain) (uint64, error) {
	if !e.validStreamID(sid) {
		return 0, types.NewError(types.InvalidStreamID)
	}
	if !types.ValidPASID(pid) {
		return 0, types.NewError(types.InvalidPASID)
	}

	e.threadGateAcquire()
	defer e.threadGateRelease()

	shift := e.cfg.Granule.Shift()
	pageSize := uint64(e.cfg.Granule)
	iovaPage := iova >> shift
	offset := iova & (pageSize - 1)

	if hit := e.tlbCache.Lookup(sid, pid, iovaPage, sec); hit.IsOk() {
		entry := hit.Value()
		if !entry.Perms.Admits(access) {
			e.recordFault(sid, pid, iova, access, sec, types.PermissionFault, types.StageNone, 0)
			return 0, types.NewError(types.PermissionFault)
		}
		return entry.PAPage | offset, nil
	}

	ctx, err := e.lookupStream(sid)
	if err != nil {
		e.recordFault(sid, pid, iova, access, sec, types.StreamNotConfigured, types.StageNone, 1)
		return 0, err
	}

	result, stage, err := ctx.Translate(pid, iova, access, sec, nowNanos())
	if err != nil {
		kind := types.KindOf(err)
		level := 0
		if kind == types.TranslationFault || kind == types.PageNotMapped {
			level = 1
		}
		e.recordFault(sid, pid, iova, access, sec, kind, stage, level)
		return 0, err
	}

	e.tlbCache.Insert(tlb.Entry{
		SID:      sid,
		PID:      pid,
		IOVAPage: iovaPage,
		PAPage:   result.PA &^ (pageSize - 1),
		Perms:    result.Perms,
		Sec:      result.Sec,
		Valid:    true,
	})

	return result.PA, nil
}

func (e *Engine) recordFault(sid types.StreamID, pid types.PASID, addr uint64, access types.AccessKind, sec types.SecurityDomain, kind types.Kind, stage types.FaultStage, level int) {
	var rec fault.Record
	if kind == types.PermissionFault {
		rec = e.faults.RecordPermissionFault(sid, pid, addr, access, stage, sec)
	} else {
		rec = e.faults.RecordTranslationFault(sid, pid, addr, access, stage, level, sec)
	}
	e.log.WithFields(logrus.Fields{
		"stream_id":  sid,
		"pasid":      pid,
		"address":    addr,
		"access":     access.String(),
		"fault_type": rec.FaultType.String(),
		"stage":      stage.String(),
	}).Warn("smmu: translation fault recorded")
}

// --- Invalidation command surface ---------------------------------------

// InvalidatePage invalidates a single cached translation.
func (e *Engine) InvalidatePage(sid types.StreamID, pid types.PASID, iova uint64) error {
	if !types.ValidPASID(pid) {
		return types.NewError(types.InvalidPASID)
	}
	e.tlbCache.Invalidate(sid, pid, iova>>e.cfg.Granule.Shift(), types.NonSecure)
	e.tlbCache.Invalidate(sid, pid, iova>>e.cfg.Granule.Shift(), types.Secure)
	e.tlbCache.Invalidate(sid, pid, iova>>e.cfg.Granule.Shift(), types.Realm)
	e.log.WithFields(logrus.Fields{"stream_id": sid, "pasid": pid, "iova": iova}).Debug("smmu: invalidate page")
	return nil
}

// InvalidatePASID invalidates every cached translation for (sid, pid).
func (e *Engine) InvalidatePASID(sid types.StreamID, pid types.PASID) error {
	if !types.ValidPASID(pid) {
		return types.NewError(types.InvalidPASID)
	}
	e.tlbCache.InvalidatePASID(sid, pid)
	e.log.WithFields(logrus.Fields{"stream_id": sid, "pasid": pid}).Debug("smmu: invalidate pasid")
	return nil
}

// InvalidateStream invalidates every cached translation for sid.
func (e *Engine) InvalidateStream(sid types.StreamID) error {
	e.tlbCache.InvalidateStream(sid)
	e.log.WithFields(logrus.Fields{"stream_id": sid}).Debug("smmu: invalidate stream")
	return nil
}

// InvalidateAll invalidates the entire TLB.
func (e *Engine) InvalidateAll() {
	e.tlbCache.InvalidateAll()
	e.log.Debug("smmu: invalidate all")
}

// InvalidateBySecurityDomain invalidates every cached translation tagged
// sec.
func (e *Engine) InvalidateBySecurityDomain(sec types.SecurityDomain) {
	e.tlbCache.InvalidateBySecurityDomain(sec)
	e.log.WithFields(logrus.Fields{"security_domain": sec.String()}).Debug("smmu: invalidate by security domain")
}

// --- Statistics & events -------------------------------------------------

// GetCacheStatistics proxies to the TLB's consistent statistics snapshot.
func (e *Engine) GetCacheStatistics() tlb.Stats { return e.tlbCache.Stats() }

// ResetStatistics resets the TLB's hit/miss counters.
func (e *Engine) ResetStatistics() { e.tlbCache.ResetStats() }

// GetEvents proxies to the fault queue's snapshot.
func (e *Engine) GetEvents() []fault.Record { return e.faults.GetEvents() }

// ClearEvents proxies to the fault queue.
func (e *Engine) ClearEvents() { e.faults.ClearEvents() }

// FaultStatistics proxies to the fault queue's lifetime statistics.
func (e *Engine) FaultStatistics() fault.Statistics { return e.faults.GetStatistics() }
