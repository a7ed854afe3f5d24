// Package sync provides the ticket spinlocks used by the scheduler core and
// its blocking primitives.
package sync

import (
	"runtime"
	"sync/atomic"

	xcpu "golang.org/x/sys/cpu"
)

var (
	// relaxFn is invoked between attempts to acquire a contended lock.
	// Hosted builds yield the goroutine so that lock holders parked on the
	// same OS thread can make progress.
	relaxFn = runtime.Gosched
)

// Spinlock implements a ticket lock where each task trying to acquire it
// busy-waits till its ticket is served. Tickets are served in FIFO order.
type Spinlock struct {
	next uint32
	_    xcpu.CacheLinePad
	// serving never exceeds next.
	serving uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	l.acquire(relaxFn)
}

func (l *Spinlock) acquire(relax func()) {
	ticket := atomic.AddUint32(&l.next, 1) - 1
	for atomic.LoadUint32(&l.serving) != ticket {
		relax()
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	serving := atomic.LoadUint32(&l.serving)
	return atomic.CompareAndSwapUint32(&l.next, serving, serving+1)
}

// Release relinquishes a held lock allowing the next ticket holder to acquire
// it. Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	serving := atomic.LoadUint32(&l.serving)
	if serving == atomic.LoadUint32(&l.next) {
		return
	}
	atomic.StoreUint32(&l.serving, serving+1)
}

// Held returns true if some task currently holds the lock.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.serving) != atomic.LoadUint32(&l.next)
}
