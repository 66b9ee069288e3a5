// Package atomicx provides small lock-free counters and flags shared
// across the gossip and raft engines, in place of holding a mutex for a
// single machine word.
package atomicx

import "sync/atomic"

// Bool is an atomic boolean flag.
type Bool struct {
	v int32
}

// NewBool returns an unset Bool.
func NewBool() *Bool {
	return &Bool{}
}

// Set the flag.
func (b *Bool) Set() {
	atomic.StoreInt32(&b.v, 1)
}

// UnSet clears the flag.
func (b *Bool) UnSet() {
	atomic.StoreInt32(&b.v, 0)
}

// True reports whether the flag is set.
func (b *Bool) True() bool {
	return atomic.LoadInt32(&b.v) == 1
}

// False reports whether the flag is clear.
func (b *Bool) False() bool {
	return !b.True()
}

// Uint64 is an atomic monotonic counter.
type Uint64 struct {
	v uint64
}

// NewUint64 returns a zeroed Uint64.
func NewUint64() *Uint64 {
	return &Uint64{}
}

// Get the current value.
func (u *Uint64) Get() uint64 {
	return atomic.LoadUint64(&u.v)
}

// Set the value.
func (u *Uint64) Set(v uint64) {
	atomic.StoreUint64(&u.v, v)
}

// Add delta to the value and return the new value.
func (u *Uint64) Add(delta uint64) uint64 {
	return atomic.AddUint64(&u.v, delta)
}

// Int64 is an atomic signed counter, used for stats like pings_sent/acks_received.
type Int64 struct {
	v int64
}

// NewInt64 returns a zeroed Int64.
func NewInt64() *Int64 {
	return &Int64{}
}

// Get the current value.
func (i *Int64) Get() int64 {
	return atomic.LoadInt64(&i.v)
}

// Incr increments the value by one and returns the new value.
func (i *Int64) Incr() int64 {
	return atomic.AddInt64(&i.v, 1)
}

// Add adds delta to the value and returns the new value.
func (i *Int64) Add(delta int64) int64 {
	return atomic.AddInt64(&i.v, delta)
}
