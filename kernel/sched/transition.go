package sched

import (
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
)

var (
	errIdleTask = &kernel.Error{Module: "sched", Message: "state transition on an idle task"}
)

// Stop adds bits to the state of t and returns the previous state. When t
// leaves the Ready state it is removed from its ready queue. Stop does not
// switch context: if t is running it keeps running until its CPU next
// reschedules.
func (s *Scheduler) Stop(lc cpu.Local, t *Task, bits State) State {
	prev, _ := s.stop(lc, t, bits)
	return prev
}

// stop is Stop that also returns the CPU t is currently running on, or -1.
func (s *Scheduler) stop(lc cpu.Local, t *Task, bits State) (State, int) {
	if t.idle {
		kfmt.Panic(errIdleTask)
	}

	g := t.lock.Acquire(lc)
	defer g.Release()

	prev := t.State()
	t.state.Store(uint32(prev | bits))
	if prev != Ready || bits == 0 {
		return prev, -1
	}

	running := -1
	c := t.LastCPU()
	pc := s.percpu.Get(c)
	rg := pc.rq.lock.Acquire(lc)
	pc.rq.remove(t)
	if pc.current == t {
		running = c
	}
	rg.Release()

	return prev, running
}

// Cont clears bits from the state of t and returns the previous state. When t
// becomes Ready it is placed on a ready queue. The returned CPU is the one
// whose running task t should preempt, or -1; the caller is responsible for
// kicking it once every resource lock has been released. Zombie is never
// cleared.
func (s *Scheduler) Cont(lc cpu.Local, t *Task, bits State) (State, int) {
	if t.idle {
		kfmt.Panic(errIdleTask)
	}

	g := t.lock.Acquire(lc)
	defer g.Release()

	prev := t.State()
	next := prev &^ (bits &^ Zombie)
	t.state.Store(uint32(next))
	if prev == Ready || next != Ready {
		return prev, -1
	}

	c := s.place(t)
	pc := s.percpu.Get(c)
	rg := pc.rq.lock.Acquire(lc)
	t.lastCPU.Store(int32(c))
	t.sliceLeft = t.sliceTotal
	pc.rq.push(t)

	target := -1
	if cur := pc.current; cur == nil || cur.idle || t.prio < cur.prio {
		target = c
	}
	rg.Release()

	return prev, target
}

// place selects the ready queue for t. A task that is still on a CPU goes
// back to that CPU's queue. Otherwise its last CPU is kept unless another
// CPU is running less urgent work, or equally urgent work with fewer queued
// tasks. The caller holds the task lock.
func (s *Scheduler) place(t *Task) int {
	last := t.LastCPU()
	if t.onCPU.Load() {
		return last
	}

	best := last
	if best < 0 {
		best = 0
	}
	bestTop, bestLoad := s.rq(best).top(), s.rq(best).load()

	for c := 0; c < s.arch.CPUCount(); c++ {
		if c == best {
			continue
		}

		rq := s.rq(c)
		top, load := rq.top(), rq.load()
		if top > bestTop || (top == bestTop && load < bestLoad) {
			best, bestTop, bestLoad = c, top, load
		}
	}
	return best
}

// Kick asks every CPU in set to reschedule. Remote CPUs receive an IPI. If
// set contains the CPU of cur, cur reschedules synchronously, so Kick must be
// called without holding any spinlock. A nil cur (interrupt handlers and
// callers outside task context) sends an IPI to every CPU in set.
func (s *Scheduler) Kick(cur *Task, set cpu.Set) {
	local := false
	set.ForEach(func(c int) {
		if cur != nil && c == cur.cpu {
			local = true
			return
		}
		s.arch.SendIPI(c)
	})

	if local {
		s.schedule(cur)
	}
}

// kickOne is Kick for a single CPU index as returned by Cont; -1 is ignored.
func (s *Scheduler) kickOne(cur *Task, c int) {
	if c >= 0 {
		s.Kick(cur, cpu.Set(0).Add(c))
	}
}
