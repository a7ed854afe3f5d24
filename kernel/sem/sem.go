// Package sem provides a counting semaphore with an upper limit whose waiters
// block through the scheduler.
package sem

import (
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/sched"
	"github.com/songziming/wheel-sub001/kernel/sync"
)

var (
	errBadInit  = &kernel.Error{Module: "sem", Message: "invalid semaphore value or limit"}
	errBadCount = &kernel.Error{Module: "sem", Message: "take count out of range"}
)

// Semaphore is a counting semaphore. Its value always stays within
// [0, limit]. Waiters are served in priority order, FIFO within a priority,
// and a waiter is only granted once its whole request can be satisfied.
type Semaphore struct {
	s *sched.Scheduler

	lock    sync.IRQSpinlock
	value   int
	limit   int
	waiters sched.WaitQueue
}

// New returns a semaphore initialized by Init.
func New(s *sched.Scheduler, value, limit int) *Semaphore {
	sem := new(Semaphore)
	sem.Init(s, value, limit)
	return sem
}

// Init sets up sem with the given initial value and limit. The limit must be
// positive and the value must lie within [0, limit].
func (sem *Semaphore) Init(s *sched.Scheduler, value, limit int) {
	if limit <= 0 || value < 0 || value > limit {
		kfmt.Panic(errBadInit)
	}

	sem.s = s
	sem.value = value
	sem.limit = limit
	sem.waiters.Init(&sem.lock, true, sem.grant)
}

// Take acquires n units. If they are not available it waits for up to
// timeout ticks (sched.Forever waits indefinitely, sched.NoWait fails at
// once) and reports whether the units were acquired. cur is the calling
// task; callers outside task context may only use sched.NoWait.
func (sem *Semaphore) Take(cur *sched.Task, n, timeout int) bool {
	if n <= 0 || n > sem.limit {
		kfmt.Panic(errBadCount)
	}

	g := sem.lock.Acquire(sem.s.Local(cur))
	if sem.value >= n {
		sem.value -= n
		g.Release()
		return true
	}
	if timeout == sched.NoWait {
		g.Release()
		return false
	}

	p := sched.Pender{Need: n}
	return sem.s.Pend(cur, &sem.waiters, &p, g, timeout) == sched.Granted
}

// Give releases n units. The value saturates at the limit; the excess is
// discarded. Waiters that can now be satisfied are granted in order and
// their CPUs are kicked. cur is the calling task or nil.
func (sem *Semaphore) Give(cur *sched.Task, n int) {
	if n <= 0 {
		return
	}

	lc := sem.s.Local(cur)
	g := sem.lock.Acquire(lc)
	sem.value += n
	if sem.value > sem.limit {
		sem.value = sem.limit
	}
	targets := sem.grant(lc)
	g.Release()

	sem.s.Kick(cur, targets)
}

// grant serves waiters from the head of the queue while the value covers
// their request. The caller holds the semaphore lock.
func (sem *Semaphore) grant(lc cpu.Local) cpu.Set {
	var targets cpu.Set
	for p := sem.waiters.Head(); p != nil && sem.value >= p.Need; p = sem.waiters.Head() {
		sem.value -= p.Need
		if c := sem.s.Wake(lc, p); c >= 0 {
			targets = targets.Add(c)
		}
	}
	return targets
}

// Value returns the current value. cur is the calling task or nil.
func (sem *Semaphore) Value(cur *sched.Task) int {
	g := sem.lock.Acquire(sem.s.Local(cur))
	defer g.Release()
	return sem.value
}

// Limit returns the upper bound of the value.
func (sem *Semaphore) Limit() int { return sem.limit }

// Waiters returns the number of blocked takers. cur is the calling task or
// nil.
func (sem *Semaphore) Waiters(cur *sched.Task) int {
	g := sem.lock.Acquire(sem.s.Local(cur))
	defer g.Release()
	return sem.waiters.Len()
}
