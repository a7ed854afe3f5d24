package sched

import (
	"sync/atomic"

	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/sync"
	"github.com/songziming/wheel-sub001/kernel/timer"
)

var (
	errTableFull = &kernel.Error{Module: "sched", Message: "task table exhausted"}
)

// TID identifies a task. The low 16 bits select a task table slot and the
// high bits hold the generation of that slot, so a TID of a reclaimed task
// never resolves to its successor.
type TID uint32

const (
	slotBits = 16
	slotMask = 1<<slotBits - 1
	noSlot   = int32(-1)
)

func makeTID(slot int32, gen uint16) TID { return TID(uint32(gen)<<slotBits | uint32(slot)) }

// Slot returns the task table index encoded in the TID.
func (id TID) Slot() int { return int(id & slotMask) }

// Task is the control block of a schedulable execution context.
type Task struct {
	s    *Scheduler
	tid  TID
	slot int32
	name string
	prio int
	idle bool

	// lock protects state transitions. Lock order: resource lock, task
	// lock, ready queue lock.
	lock  sync.IRQSpinlock
	state atomic.Uint32

	// lastCPU is the CPU whose ready queue holds (or last held) the task.
	// It is -1 until the task is first made ready. Written with both the
	// task lock and the target queue lock held.
	lastCPU atomic.Int32

	// cpu is written by the dispatcher before the task is switched in and
	// only read by the task itself.
	cpu int

	// onCPU is set while the task executes on, or is still switching away
	// from, a CPU.
	onCPU atomic.Bool

	// Ready queue linkage, protected by the queue lock.
	prev, next int32
	queued     bool
	sliceLeft  int
	sliceTotal int

	ctx        cpu.Context
	entry      func(*Task)
	sleepTimer timer.Timer
	dispatches atomic.Uint64
}

// TID returns the task identifier.
func (t *Task) TID() TID { return t.tid }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Priority returns the task priority.
func (t *Task) Priority() int { return t.prio }

// State returns a snapshot of the task state.
func (t *Task) State() State { return State(t.state.Load()) }

// LastCPU returns the CPU the task was last placed on, or -1.
func (t *Task) LastCPU() int { return int(t.lastCPU.Load()) }

// Dispatches returns how many times the task was switched in.
func (t *Task) Dispatches() uint64 { return t.dispatches.Load() }

// table is an arena of task slots addressed by TID.
type table struct {
	lock  sync.IRQSpinlock
	slots [MaxTasks]atomic.Pointer[Task]
	gens  [MaxTasks]uint16
	free  []int32
	used  int
}

func (tb *table) init() {
	tb.free = make([]int32, 0, MaxTasks)
	for i := MaxTasks - 1; i >= 0; i-- {
		tb.free = append(tb.free, int32(i))
	}
}

// alloc stores t in a free slot and assigns its TID.
func (tb *table) alloc(lc cpu.Local, t *Task) *kernel.Error {
	g := tb.lock.Acquire(lc)
	defer g.Release()

	if len(tb.free) == 0 {
		return errTableFull
	}

	slot := tb.free[len(tb.free)-1]
	tb.free = tb.free[:len(tb.free)-1]
	tb.used++

	t.slot = slot
	t.tid = makeTID(slot, tb.gens[slot])
	tb.slots[slot].Store(t)
	return nil
}

// release frees the slot of t and bumps its generation.
func (tb *table) release(lc cpu.Local, t *Task) {
	g := tb.lock.Acquire(lc)
	defer g.Release()

	if tb.slots[t.slot].Load() != t {
		return
	}
	tb.slots[t.slot].Store(nil)
	tb.gens[t.slot]++
	tb.free = append(tb.free, t.slot)
	tb.used--
}

// get returns the task in the given slot.
func (tb *table) get(slot int32) *Task {
	return tb.slots[slot].Load()
}

// lookup resolves id to a live task.
func (tb *table) lookup(id TID) *Task {
	slot := id.Slot()
	if slot >= MaxTasks {
		return nil
	}
	if t := tb.slots[slot].Load(); t != nil && t.tid == id {
		return t
	}
	return nil
}

func (tb *table) count(lc cpu.Local) int {
	g := tb.lock.Acquire(lc)
	defer g.Release()
	return tb.used
}

// forEach invokes fn for every live task in slot order.
func (tb *table) forEach(fn func(t *Task)) {
	for i := range tb.slots {
		if t := tb.slots[i].Load(); t != nil {
			fn(t)
		}
	}
}
