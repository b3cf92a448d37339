package fault

import (
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/arm-smmu/smmuv3/internal/atomicbits"
	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// Record is one entry in the fault queue: the full attribution of a
// translation failure, plus its packed and structured syndrome.
type Record struct {
	StreamID  types.StreamID
	PASID     types.PASID
	Address   uint64
	Access    types.AccessKind
	FaultType types.Kind
	Stage     types.FaultStage
	Level     int
	Syndrome  uint32
	Structured Syndrome
	Sec       types.SecurityDomain
	Timestamp int64
}

// Queue is the bounded FIFO of fault records, with filterable queries and
// lifetime statistics. Overflow is silent tail-drop: once the bound is
// reached, appending a record pops the oldest first.
type Queue struct {
	mu deadlock.Mutex

	bound   int
	records []Record

	totalFaults       atomicbits.Uint64
	translationFaults atomicbits.Uint64
	permissionFaults  atomicbits.Uint64
}

// New constructs a Queue bounded to hold at most bound records.
func New(bound int) *Queue {
	if bound <= 0 {
		bound = 1
	}
	return &Queue{bound: bound, records: make([]Record, 0, bound)}
}

// clockBase anchors fault timestamps to the wall clock once, at package
// init.
var clockBase = time.Now()

// nowNanos is the monotonic clock source for fault timestamps: Unix
// nanoseconds at package init plus the monotonic time elapsed since then
// (time.Since uses the runtime's monotonic reading), so readings never go
// backwards when the wall clock is stepped.
func nowNanos() int64 { return clockBase.UnixNano() + int64(time.Since(clockBase)) }

// RecordFault appends rec, stamping its lifetime counters. If the queue
// now exceeds its bound, the oldest records are dropped until it's back
// at bound (tail-drop policy).
func (q *Queue) RecordFault(rec Record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.records = append(q.records, rec)
	if len(q.records) > q.bound {
		drop := len(q.records) - q.bound
		q.records = q.records[drop:]
	}

	q.totalFaults.Inc()
	switch rec.FaultType {
	case types.TranslationFault, types.Level0TranslationFault,
		types.Level1TranslationFault, types.Level2TranslationFault,
		types.Level3TranslationFault:
		q.translationFaults.Inc()
	case types.PermissionFault:
		q.permissionFaults.Inc()
	}
}

// RecordTranslationFault is a convenience constructor that builds and
// appends a Record for a translation-stage failure, stamping Timestamp
// from the monotonic clock.
func (q *Queue) RecordTranslationFault(sid types.StreamID, pid types.PASID, addr uint64, access types.AccessKind, stage types.FaultStage, level int, sec types.SecurityDomain) Record {
	kind := types.TranslationFault
	switch level {
	case 0:
		kind = types.Level0TranslationFault
	case 1:
		kind = types.Level1TranslationFault
	case 2:
		kind = types.Level2TranslationFault
	case 3:
		kind = types.Level3TranslationFault
	}
	structured := Syndrome{Stage: stage, Level: level, AccessClass: access, IsWrite: access == types.AccessWrite}
	rec := Record{
		StreamID:   sid,
		PASID:      pid,
		Address:    addr,
		Access:     access,
		FaultType:  kind,
		Stage:      stage,
		Level:      level,
		Structured: structured,
		Sec:        sec,
		Timestamp:  nowNanos(),
	}
	rec.Syndrome = Pack(kind, pid, subReasonFor(structured))
	q.RecordFault(rec)
	return rec
}

// RecordPermissionFault is a convenience constructor for a permission
// violation, stamping Timestamp from the monotonic clock.
func (q *Queue) RecordPermissionFault(sid types.StreamID, pid types.PASID, addr uint64, access types.AccessKind, stage types.FaultStage, sec types.SecurityDomain) Record {
	structured := Syndrome{Stage: stage, AccessClass: access, IsWrite: access == types.AccessWrite}
	rec := Record{
		StreamID:   sid,
		PASID:      pid,
		Address:    addr,
		Access:     access,
		FaultType:  types.PermissionFault,
		Stage:      stage,
		Structured: structured,
		Sec:        sec,
		Timestamp:  nowNanos(),
	}
	rec.Syndrome = Pack(types.PermissionFault, pid, subReasonFor(structured))
	q.RecordFault(rec)
	return rec
}

// GetEvents returns a snapshot copy of every currently-queued record.
func (q *Queue) GetEvents() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, len(q.records))
	copy(out, q.records)
	return out
}

// ClearEvents drops every queued record without touching lifetime
// counters.
func (q *Queue) ClearEvents() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = q.records[:0]
}

// HasEvents reports whether any record is currently queued.
func (q *Queue) HasEvents() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records) > 0
}

// GetEventCount returns the number of currently-queued records.
func (q *Queue) GetEventCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// GetFaultsByStream returns a filtered copy of records matching sid.
func (q *Queue) GetFaultsByStream(sid types.StreamID) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Record
	for _, r := range q.records {
		if r.StreamID == sid {
			out = append(out, r)
		}
	}
	return out
}

// GetFaultsByPASID returns a filtered copy of records matching pid.
func (q *Queue) GetFaultsByPASID(pid types.PASID) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Record
	for _, r := range q.records {
		if r.PASID == pid {
			out = append(out, r)
		}
	}
	return out
}

// GetRecentFaults returns a filtered copy of records whose timestamp is
// within window of now (inclusive), both in nanoseconds.
func (q *Queue) GetRecentFaults(now int64, window int64) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Record
	cutoff := now - window
	for _, r := range q.records {
		if r.Timestamp >= cutoff && r.Timestamp <= now {
			out = append(out, r)
		}
	}
	return out
}

// SetMaxQueueSize adjusts the bound, dropping the oldest records until
// back in bounds.
func (q *Queue) SetMaxQueueSize(n int) {
	if n <= 0 {
		n = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bound = n
	if len(q.records) > q.bound {
		drop := len(q.records) - q.bound
		q.records = q.records[drop:]
	}
}

// Statistics is the lifetime counter snapshot plus per-kind/per-access
// breakdowns computed on demand by scanning the current queue contents.
type Statistics struct {
	TotalFaults       uint64
	TranslationFaults uint64
	PermissionFaults  uint64
	ByFaultType       map[types.Kind]int
	ByAccessKind      map[types.AccessKind]int
}

// GetStatistics returns the lifetime counters plus a breakdown of the
// records currently queued (per-request counters are necessarily a scan
// of live state, since dropped records' classification isn't retained).
func (q *Queue) GetStatistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Statistics{
		TotalFaults:       q.totalFaults.Load(),
		TranslationFaults: q.translationFaults.Load(),
		PermissionFaults:  q.permissionFaults.Load(),
		ByFaultType:       make(map[types.Kind]int),
		ByAccessKind:      make(map[types.AccessKind]int),
	}
	for _, r := range q.records {
		stats.ByFaultType[r.FaultType]++
		stats.ByAccessKind[r.Access]++
	}
	return stats
}
