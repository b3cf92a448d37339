// Package atomicbits provides small named wrappers around sync/atomic for
// the counters that must survive concurrent access without taking a lock.
//
// This mirrors the role github.com/maxnasonov/gvisor/pkg/atomicbitops
// plays for mm.MemoryManager's users/active/dumpability fields: a named
// type instead of a bare int32/int64 so call sites read as "this field is
// accessed without synchronization" rather than looking like an ordinary
// struct field a reader might assume is lock-protected.
package atomicbits

import "sync/atomic"

// Uint64 is a monotonically-usable 64-bit counter accessed with relaxed
// atomics (no memory ordering beyond what the Go memory model already
// guarantees for atomic operations).
type Uint64 struct {
	v atomic.Uint64
}

func (c *Uint64) Load() uint64       { return c.v.Load() }
func (c *Uint64) Store(val uint64)   { c.v.Store(val) }
func (c *Uint64) Add(delta uint64) uint64 { return c.v.Add(delta) }
func (c *Uint64) Inc() uint64        { return c.v.Add(1) }

// Int32 wraps a 32-bit signed counter.
type Int32 struct {
	v atomic.Int32
}

func (c *Int32) Load() int32               { return c.v.Load() }
func (c *Int32) Store(val int32)           { c.v.Store(val) }
func (c *Int32) Add(delta int32) int32     { return c.v.Add(delta) }
func (c *Int32) CompareAndSwap(old, new_ int32) bool {
	return c.v.CompareAndSwap(old, new_)
}

// Bool wraps a boolean flag accessed atomically.
type Bool struct {
	v atomic.Bool
}

func (c *Bool) Load() bool     { return c.v.Load() }
func (c *Bool) Store(val bool) { c.v.Store(val) }

// Int64 wraps a signed 64-bit counter, used for timestamps that must be
// readable without the owning component's lock.
type Int64 struct {
	v atomic.Int64
}

func (c *Int64) Load() int64           { return c.v.Load() }
func (c *Int64) Store(val int64)       { c.v.Store(val) }
func (c *Int64) Add(delta int64) int64 { return c.v.Add(delta) }
