// Package timer implements the tick-driven watchdog queue. Pending timers are
// kept in a list sorted by expiry where each node stores its distance in ticks
// from the previous node, so advancing the clock only touches the list head.
package timer

import (
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/sync"
)

// Func is invoked when a timer expires. It runs on the CPU that advances the
// queue with interrupts disabled and must not block or cancel timers; it may
// start timers, including the one that fired.
type Func func(lc cpu.Local)

// Timer is a one-shot watchdog. The zero value is ready to use. A Timer must
// not be copied once started.
type Timer struct {
	prev, next *Timer
	delta      int
	queued     bool
	fn         Func
}

// Queue is a sorted list of pending timers.
type Queue struct {
	lock sync.IRQSpinlock

	// cbLock is held while a callback runs. Cancel acquires it to wait for
	// an in-flight callback. Lock order: lock then cbLock.
	cbLock sync.IRQSpinlock

	head     *Timer
	count    int
	inflight *Timer
}

// Start arms t to fire fn after the given number of ticks. A non-positive
// tick count fires on the next tick. Start returns false and leaves t
// untouched if t is already pending.
func (q *Queue) Start(lc cpu.Local, t *Timer, ticks int, fn Func) bool {
	if ticks < 1 {
		ticks = 1
	}

	g := q.lock.Acquire(lc)
	defer g.Release()

	if t.queued {
		return false
	}

	var prev *Timer
	next := q.head
	for next != nil && next.delta <= ticks {
		ticks -= next.delta
		prev, next = next, next.next
	}

	t.fn = fn
	t.delta = ticks
	t.prev, t.next = prev, next
	if prev == nil {
		q.head = t
	} else {
		prev.next = t
	}
	if next != nil {
		next.prev = t
		next.delta -= ticks
	}
	t.queued = true
	q.count++
	return true
}

// unlink removes t from the list. The delta of t is handed to its successor
// so that later expiries are unchanged.
func (q *Queue) unlink(t *Timer) {
	if t.next != nil {
		t.next.delta += t.delta
		t.next.prev = t.prev
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		q.head = t.next
	}
	t.prev, t.next = nil, nil
	t.queued = false
	q.count--
}

// Cancel removes t from the queue and reports whether it was still pending.
// If the callback of t is executing on another CPU, Cancel waits for it to
// complete; if that callback re-armed t, the new expiry is cancelled too.
// Once Cancel returns the callback of t is neither running nor pending.
// Cancel must not be called from a timer callback.
func (q *Queue) Cancel(lc cpu.Local, t *Timer) bool {
	for {
		g := q.lock.Acquire(lc)
		if t.queued {
			q.unlink(t)
			g.Release()
			return true
		}

		inflight := q.inflight == t
		g.Release()
		if !inflight {
			return false
		}

		cg := q.cbLock.Acquire(lc)
		cg.Release()
	}
}

// Advance accounts for one elapsed tick and runs the callbacks of all timers
// that expired. The list lock is dropped while a callback runs.
func (q *Queue) Advance(lc cpu.Local) {
	wasEnabled := lc.DisableInterrupts()
	defer lc.RestoreInterrupts(wasEnabled)

	g := q.lock.Acquire(lc)
	if q.head != nil {
		q.head.delta--
	}

	for q.head != nil && q.head.delta <= 0 {
		t := q.head
		q.unlink(t)
		fn := t.fn
		q.inflight = t

		cg := q.cbLock.Acquire(lc)
		g.Release()
		fn(lc)
		cg.Release()

		g = q.lock.Acquire(lc)
		q.inflight = nil
	}
	g.Release()
}

// Len returns the number of pending timers.
func (q *Queue) Len(lc cpu.Local) int {
	g := q.lock.Acquire(lc)
	defer g.Release()
	return q.count
}

// Pending reports whether t is queued.
func (q *Queue) Pending(lc cpu.Local, t *Timer) bool {
	g := q.lock.Acquire(lc)
	defer g.Release()
	return t.queued
}

// Remaining returns the number of ticks until t expires, or 0 if it is not
// pending.
func (q *Queue) Remaining(lc cpu.Local, t *Timer) int {
	g := q.lock.Acquire(lc)
	defer g.Release()

	if !t.queued {
		return 0
	}
	ticks := 0
	for n := q.head; n != nil; n = n.next {
		ticks += n.delta
		if n == t {
			break
		}
	}
	return ticks
}
