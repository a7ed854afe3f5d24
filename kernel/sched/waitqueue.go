package sched

import (
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/sync"
	"github.com/songziming/wheel-sub001/kernel/timer"
)

var (
	errDoubleWake    = &kernel.Error{Module: "sched", Message: "pender woken twice"}
	errPenderQueued  = &kernel.Error{Module: "sched", Message: "pender is already queued"}
	errQueueNotReady = &kernel.Error{Module: "sched", Message: "wait queue used before Init"}
)

// Result is the outcome of a blocking wait.
type Result uint8

const (
	// Queued is the result of a pender that is still waiting.
	Queued Result = iota

	// Granted is reported when a resource satisfied the pender.
	Granted

	// TimedOut is reported when the timeout expired first.
	TimedOut
)

// Pender describes a task blocked on a resource. Resources fill in Need and
// Data before calling Pend and use them to decide when to grant it.
type Pender struct {
	// Need is the amount of the resource the task waits for.
	Need int

	// Data carries resource specific request state.
	Data interface{}

	task   *Task
	prio   int
	result Result
	queue  *WaitQueue
	prev   *Pender
	next   *Pender
	timer  timer.Timer
}

// Task returns the blocked task.
func (p *Pender) Task() *Task { return p.task }

// Result returns the outcome of the wait.
func (p *Pender) Result() Result { return p.result }

// Next returns the pender queued behind p, or nil. Read it before waking p
// when walking a queue, since Wake unlinks p.
func (p *Pender) Next() *Pender { return p.next }

// WaitQueue is the list of tasks blocked on a resource. It is protected by
// the resource lock passed to Init.
type WaitQueue struct {
	lock    *sync.IRQSpinlock
	ordered bool

	// settle is invoked with the resource lock held after a pender timed
	// out, so that waiters queued behind it can be served. It returns the
	// CPUs to kick.
	settle func(lc cpu.Local) cpu.Set

	head, tail *Pender
	n          int
}

// Init binds q to the lock of its resource. Ordered queues keep penders
// sorted by task priority (FIFO within a priority); unordered queues are
// plain FIFO. settle may be nil.
func (q *WaitQueue) Init(lock *sync.IRQSpinlock, ordered bool, settle func(lc cpu.Local) cpu.Set) {
	q.lock = lock
	q.ordered = ordered
	q.settle = settle
}

// Head returns the first pender or nil.
func (q *WaitQueue) Head() *Pender { return q.head }

// Len returns the number of queued penders.
func (q *WaitQueue) Len() int { return q.n }

// Tasks returns the queued tasks in wake order.
func (q *WaitQueue) Tasks() []*Task {
	var list []*Task
	for p := q.head; p != nil; p = p.next {
		list = append(list, p.task)
	}
	return list
}

func (q *WaitQueue) insert(p *Pender) {
	if p.queue != nil {
		kfmt.Panic(errPenderQueued)
	}

	after := q.tail
	if q.ordered {
		for after != nil && after.prio > p.prio {
			after = after.prev
		}
	}

	p.prev = after
	if after == nil {
		p.next = q.head
		q.head = p
	} else {
		p.next = after.next
		after.next = p
	}
	if p.next == nil {
		q.tail = p
	} else {
		p.next.prev = p
	}
	p.queue = q
	q.n++
}

func (q *WaitQueue) remove(p *Pender) {
	if p.prev == nil {
		q.head = p.next
	} else {
		p.prev.next = p.next
	}
	if p.next == nil {
		q.tail = p.prev
	} else {
		p.next.prev = p.prev
	}
	p.prev, p.next, p.queue = nil, nil, nil
	q.n--
}

// Pend blocks cur on q until a resource grants p through Wake or the timeout
// expires. The caller holds the resource lock through g; Pend releases it.
// NoWait returns TimedOut immediately. Blocking while interrupts were
// already masked when g was acquired (another spinlock held) is fatal.
func (s *Scheduler) Pend(cur *Task, q *WaitQueue, p *Pender, g sync.IRQGuard, timeout int) Result {
	if q.lock == nil {
		kfmt.Panic(errQueueNotReady)
	}
	if cur == nil {
		kfmt.Panic(errNoTask)
	}
	lc := g.Local()
	if lc.IRQDepth() != 0 {
		kfmt.Panic(errBlockInIRQ)
	}

	if timeout == NoWait {
		g.Release()
		return TimedOut
	}
	if !g.InterruptsWereEnabled() {
		kfmt.Panic(errBlockMasked)
	}

	p.task = cur
	p.prio = cur.prio
	p.result = Queued
	q.insert(p)
	s.Stop(lc, cur, Pending)
	if timeout > 0 {
		s.timers.Start(lc, &p.timer, timeout, func(lc cpu.Local) {
			s.expire(lc, q, p)
		})
	}
	g.Release()

	s.schedule(cur)

	if timeout > 0 {
		s.timers.Cancel(s.Local(cur), &p.timer)
	}
	return p.result
}

// Wake removes p from its queue, marks it granted and makes its task
// runnable. The caller holds the resource lock. Wake returns the CPU to kick
// (see Cont) or -1. Waking a pender that is not queued is fatal.
func (s *Scheduler) Wake(lc cpu.Local, p *Pender) int {
	if p.queue == nil {
		kfmt.Panic(errDoubleWake)
	}

	p.queue.remove(p)
	p.result = Granted
	_, c := s.Cont(lc, p.task, Pending)
	return c
}

// expire is the timeout callback of a pender. It takes the same Cont path as
// Wake. If the pender was granted in the meantime it does nothing.
func (s *Scheduler) expire(lc cpu.Local, q *WaitQueue, p *Pender) {
	var set cpu.Set

	g := q.lock.Acquire(lc)
	if p.queue != q {
		g.Release()
		return
	}

	q.remove(p)
	p.result = TimedOut
	if _, c := s.Cont(lc, p.task, Pending); c >= 0 {
		set = set.Add(c)
	}
	if q.settle != nil {
		set |= q.settle(lc)
	}
	g.Release()

	s.Kick(nil, set)
}
