package sched

import (
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
)

var (
	errBadPriority = &kernel.Error{Module: "sched", Message: "task priority out of range"}
	errNilEntry    = &kernel.Error{Module: "sched", Message: "task entry is nil"}
	errNoTask      = &kernel.Error{Module: "sched", Message: "blocking call outside task context"}
	errBlockInIRQ  = &kernel.Error{Module: "sched", Message: "blocking call from interrupt handler"}
	errBlockMasked = &kernel.Error{Module: "sched", Message: "blocking call with interrupts disabled"}
)

func (s *Scheduler) newTask(lc cpu.Local, name string, prio int, entry func(*Task)) (*Task, *kernel.Error) {
	if prio < 0 || prio >= PriorityLevels {
		kfmt.Panic(errBadPriority)
	}
	if entry == nil {
		kfmt.Panic(errNilEntry)
	}

	t := &Task{
		s:          s,
		name:       name,
		prio:       prio,
		entry:      entry,
		prev:       noSlot,
		next:       noSlot,
		sliceLeft:  s.timeSlice,
		sliceTotal: s.timeSlice,
	}
	t.lastCPU.Store(-1)
	t.state.Store(uint32(Stopped))

	if err := s.tasks.alloc(lc, t); err != nil {
		return nil, err
	}
	t.ctx = s.arch.NewContext(func() { s.trampoline(t) })
	return t, nil
}

// Create allocates a task that will run entry at the given priority. The
// task starts in the Stopped state; Resume makes it runnable. Returning from
// entry exits the task.
func (s *Scheduler) Create(name string, prio int, entry func(t *Task)) (*Task, *kernel.Error) {
	t, err := s.newTask(s.Local(nil), name, prio, entry)
	if err != nil {
		s.log.Warning().Str("task", name).Err(err).Log("task creation failed")
		return nil, err
	}

	s.log.Debug().Str("task", name).Uint64("tid", uint64(t.tid)).Int("prio", prio).Log("task created")
	return t, nil
}

// Lookup returns the live task with the given TID or nil.
func (s *Scheduler) Lookup(id TID) *Task {
	return s.tasks.lookup(id)
}

// Resume clears the Stopped state of t. cur is the calling task or nil.
func (s *Scheduler) Resume(cur, t *Task) {
	_, c := s.Cont(s.Local(cur), t, Stopped)
	s.kickOne(cur, c)
}

// Suspend sets the Stopped state of t. A task suspending itself returns
// once another task resumes it. cur is the calling task or nil.
func (s *Scheduler) Suspend(cur, t *Task) {
	if t == cur {
		s.checkBlocking(cur)
	}

	_, running := s.stop(s.Local(cur), t, Stopped)
	switch {
	case t == cur:
		s.schedule(cur)
	case running >= 0:
		s.kickOne(cur, running)
	}
}

// Sleep blocks cur for the given number of ticks. NoWait yields instead and
// Forever sleeps until Wakeup is called.
func (s *Scheduler) Sleep(cur *Task, ticks int) {
	if ticks == NoWait {
		s.Yield(cur)
		return
	}
	s.checkBlocking(cur)

	lc := s.Local(cur)
	s.Stop(lc, cur, Waiting)
	if ticks > 0 {
		s.timers.Start(lc, &cur.sleepTimer, ticks, func(lc cpu.Local) {
			_, c := s.Cont(lc, cur, Waiting)
			s.kickOne(nil, c)
		})
	}
	s.schedule(cur)

	if ticks > 0 {
		s.timers.Cancel(s.Local(cur), &cur.sleepTimer)
	}
}

// Wakeup ends the sleep of t early. It has no effect on a task that is not
// sleeping.
func (s *Scheduler) Wakeup(cur, t *Task) {
	_, c := s.Cont(s.Local(cur), t, Waiting)
	s.kickOne(cur, c)
}

// Exit terminates cur. Its table slot is reclaimed by the next task to run
// on its CPU once the switch has completed.
func (s *Scheduler) Exit(cur *Task) {
	s.checkBlocking(cur)
	s.log.Debug().Str("task", cur.name).Uint64("tid", uint64(cur.tid)).Log("task exit")

	s.Stop(s.Local(cur), cur, Zombie)
	s.schedule(cur)

	kfmt.Panic(errZombieResume)
}

func (s *Scheduler) checkBlocking(cur *Task) {
	if cur == nil {
		kfmt.Panic(errNoTask)
	}

	lc := s.arch.CPU(cur.cpu)
	if lc.IRQDepth() != 0 {
		kfmt.Panic(errBlockInIRQ)
	}
	if !lc.InterruptsEnabled() {
		kfmt.Panic(errBlockMasked)
	}
}

// TaskCount returns the number of allocated tasks, idle tasks included.
func (s *Scheduler) TaskCount() int {
	return s.tasks.count(s.Local(nil))
}
