// Package sync provides the busy-wait mutual exclusion primitive that guards
// all shared kernel state (frame allocator cursor, DMA buffer table, PCI
// registry, GPU handles). Critical sections are expected to be short; no
// lock may be held while invoking an operation that could reacquire it.
package sync

import "sync/atomic"

// spinAttemptsBeforeYielding defines the number of acquisition attempts made
// before the current task offers to yield.
const spinAttemptsBeforeYielding = 1024

var (
	// TODO: replace with real yield function when context-switching is implemented.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	var attempt uint32
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		attempt++
		if attempt == spinAttemptsBeforeYielding {
			attempt = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
