package sched

import (
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
)

var (
	errStillRunning = &kernel.Error{Module: "sched", Message: "dispatching a task that is running on another cpu"}
	errZombieResume = &kernel.Error{Module: "sched", Message: "exited task was resumed"}
)

// schedule switches cur out if its ready queue offers a better candidate. It
// returns once cur is dispatched again, possibly on a different CPU.
func (s *Scheduler) schedule(cur *Task) {
	c := cur.cpu
	lc := s.arch.CPU(c)
	wasEnabled := lc.DisableInterrupts()
	pc := s.percpu.Get(c)

	g := pc.rq.lock.Acquire(lc)
	pc.needResched = false
	next := pc.rq.pick()
	if next == nil {
		next = pc.idle
	}
	if next == cur {
		g.Release()
		lc.RestoreInterrupts(wasEnabled)
		return
	}
	if next.onCPU.Load() {
		kfmt.Panic(errStillRunning)
	}

	next.cpu = c
	next.onCPU.Store(true)
	pc.current = next
	pc.prev = cur
	g.Release()

	pc.switches.Add(1)
	next.dispatches.Add(1)

	if cur.State()&Zombie != 0 {
		s.arch.Exit(lc, next.ctx)
	}
	s.arch.Switch(lc, cur.ctx, next.ctx)

	// Resumed, maybe on another CPU.
	s.finishSwitch(cur.cpu)
	s.arch.CPU(cur.cpu).RestoreInterrupts(wasEnabled)
}

// finishSwitch runs on the incoming side of every switch. It releases the
// outgoing task, which may now be dispatched by any CPU, and reclaims it if
// it exited.
func (s *Scheduler) finishSwitch(c int) {
	pc := s.percpu.Get(c)
	prev := pc.prev
	pc.prev = nil
	if prev == nil {
		return
	}

	prev.onCPU.Store(false)
	if prev.State()&Zombie != 0 {
		s.tasks.release(s.arch.CPU(c), prev)
	}
}

// trampoline is the first code executed by a new task context.
func (s *Scheduler) trampoline(t *Task) {
	s.finishSwitch(t.cpu)
	s.arch.CPU(t.cpu).RestoreInterrupts(true)

	t.entry(t)
	s.Exit(t)
}

// Preempt is a preemption point. It delivers pending interrupts and switches
// to a more urgent task if the tick or a reschedule IPI asked for it. Tasks
// that run for long stretches without blocking should call it regularly.
func (s *Scheduler) Preempt(cur *Task) {
	s.arch.CPU(cur.cpu).Poll()
	if s.percpu.Get(cur.cpu).needResched {
		s.schedule(cur)
	}
}

// Yield moves cur behind the other ready tasks of its priority and
// reschedules.
func (s *Scheduler) Yield(cur *Task) {
	lc := s.arch.CPU(cur.cpu)
	rq := s.rq(cur.cpu)

	g := rq.lock.Acquire(lc)
	rq.rotate(cur)
	cur.sliceLeft = cur.sliceTotal
	g.Release()

	s.schedule(cur)
}
