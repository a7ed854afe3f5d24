// Package sched implements the SMP scheduler core: per-CPU ready queues, the
// task state machine, CPU placement, time slicing and the wait substrate that
// blocking primitives are built on.
//
// No global lock serializes the scheduler. Every ready queue and every task
// has its own spinlock and locks are always taken in the order resource,
// task, ready queue. A task blocks only from task context, with interrupts
// enabled and without holding any spinlock.
package sched

import (
	"runtime"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/irq"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/timer"
)

var (
	errAlreadyStarted = &kernel.Error{Module: "sched", Message: "scheduler already started"}
	errBadTimerCPU    = &kernel.Error{Module: "sched", Message: "timer cpu out of range"}
)

// perCPU is the scheduler state of one CPU. The idle task is not kept in the
// ready queue; it runs whenever the queue is empty.
type perCPU struct {
	rq ReadyQueue

	idle *Task

	// current is written by the dispatcher with rq.lock held.
	current *Task

	// prev and needResched are only accessed by the code that owns the
	// CPU (the running task or an interrupt handler on it).
	prev        *Task
	needResched bool

	switches atomic.Uint64
	ticks    atomic.Uint64
}

// Scheduler schedules tasks over the CPUs of an Arch.
type Scheduler struct {
	arch   cpu.Arch
	percpu *cpu.PerCPU[perCPU]
	tasks  table
	timers timer.Queue

	timeSlice int
	timerCPU  int
	tickHooks []func(lc cpu.Local)
	log       *logiface.Logger[logiface.Event]

	started atomic.Bool
}

// New returns a scheduler for arch and installs its interrupt handler. Tasks
// may be created and resumed before Start; they run once their CPU boots.
func New(arch cpu.Arch, opts ...Option) *Scheduler {
	s := &Scheduler{
		arch:      arch,
		percpu:    cpu.NewPerCPU[perCPU](arch.CPUCount()),
		timeSlice: DefaultTimeSlice,
		log:       kfmt.ModuleLogger("sched"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.timerCPU < 0 || s.timerCPU >= arch.CPUCount() {
		kfmt.Panic(errBadTimerCPU)
	}

	s.tasks.init()
	s.percpu.ForEach(func(_ int, pc *perCPU) {
		pc.rq.init(&s.tasks)
	})

	arch.SetInterruptHandler(s.interrupt)
	return s
}

// Start creates the idle task of every CPU and boots the CPUs.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		kfmt.Panic(errAlreadyStarted)
	}

	lc := s.Local(nil)
	for c := 0; c < s.arch.CPUCount(); c++ {
		idle, err := s.newTask(lc, "idle", IdlePriority, s.idleLoop)
		if err != nil {
			kfmt.Panic(err)
		}
		idle.idle = true
		idle.state.Store(uint32(Ready))
		idle.lastCPU.Store(int32(c))
		idle.cpu = c
		idle.onCPU.Store(true)

		pc := s.percpu.Get(c)
		g := pc.rq.lock.Acquire(lc)
		pc.idle = idle
		pc.current = idle
		g.Release()
	}

	for c := 0; c < s.arch.CPUCount(); c++ {
		s.arch.Boot(c, s.percpu.Get(c).idle.ctx)
	}
	s.log.Info().Int("cpus", s.arch.CPUCount()).Int("slice", s.timeSlice).Log("scheduler started")
}

// CPUCount returns the number of CPUs being scheduled.
func (s *Scheduler) CPUCount() int { return s.arch.CPUCount() }

// Timers returns the timer queue advanced by the scheduler tick.
func (s *Scheduler) Timers() *timer.Queue { return &s.timers }

// Local returns the CPU that cur is running on. A nil cur denotes a caller
// outside task context, such as an external goroutine or an interrupt
// handler; such callers get a handle that owns no CPU.
func (s *Scheduler) Local(cur *Task) cpu.Local {
	if cur == nil {
		return newOutsideLocal()
	}
	return s.arch.CPU(cur.cpu)
}

func (s *Scheduler) rq(c int) *ReadyQueue {
	return &s.percpu.Get(c).rq
}

func (s *Scheduler) idleLoop(t *Task) {
	lc := s.arch.CPU(t.cpu)
	for {
		s.Preempt(t)
		lc.Halt()
	}
}

// interrupt is the handler installed into the arch layer.
func (s *Scheduler) interrupt(c int, v irq.Vector) {
	switch v {
	case irq.VectorTick:
		s.tick(c)
	case irq.VectorReschedule:
		s.percpu.Get(c).needResched = true
	}
}

// tick charges the running task one tick of its time slice. When the slice
// is used up the task is rotated behind its peers.
func (s *Scheduler) tick(c int) {
	var (
		lc = s.arch.CPU(c)
		pc = s.percpu.Get(c)
	)

	pc.ticks.Add(1)

	g := pc.rq.lock.Acquire(lc)
	if cur := pc.current; cur != nil {
		if !cur.idle {
			cur.sliceLeft--
			if cur.sliceLeft <= 0 {
				cur.sliceLeft = cur.sliceTotal
				pc.rq.rotate(cur)
			}
		}
		if next := pc.rq.pick(); next != nil && next != cur {
			pc.needResched = true
		}
	}
	g.Release()

	if c == s.timerCPU {
		s.timers.Advance(lc)
	}
	for _, fn := range s.tickHooks {
		fn(lc)
	}
}

var outsideSeq atomic.Int32

// outsideLocal stands in for a CPU when the caller does not own one. Each
// handle gets a distinct index so that spinlock ownership checks do not
// confuse unrelated callers.
type outsideLocal struct {
	index   int
	enabled bool
}

func newOutsideLocal() *outsideLocal {
	return &outsideLocal{index: cpu.MaxCPUs + int(outsideSeq.Add(1)&0xffffff), enabled: true}
}

func (o *outsideLocal) Index() int { return o.index }

func (o *outsideLocal) DisableInterrupts() bool {
	was := o.enabled
	o.enabled = false
	return was
}

func (o *outsideLocal) RestoreInterrupts(wasEnabled bool) {
	if wasEnabled {
		o.enabled = true
	}
}

func (o *outsideLocal) InterruptsEnabled() bool { return o.enabled }
func (o *outsideLocal) IRQDepth() int           { return 0 }
func (o *outsideLocal) Relax()                  { runtime.Gosched() }
func (o *outsideLocal) Halt()                   { runtime.Gosched() }
func (o *outsideLocal) Poll()                   {}
