package sched

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/sync"
)

var (
	errDoubleQueue = &kernel.Error{Module: "sched", Message: "task is already in a ready queue"}
	errNotQueued   = &kernel.Error{Module: "sched", Message: "task is not in this ready queue"}
)

type rqList struct {
	head, tail int32
}

// ReadyQueue holds the runnable tasks of one CPU in one FIFO list per
// priority. Bit i of the priority bitmap is set exactly when list i is
// non-empty. The running task stays in the queue.
type ReadyQueue struct {
	lock sync.IRQSpinlock
	tab  *table

	// bitmap and count are written with lock held but may be read
	// without it by the placement heuristic.
	bitmap atomic.Uint32
	count  atomic.Int32

	heads [PriorityLevels]rqList
}

func (rq *ReadyQueue) init(tab *table) {
	rq.tab = tab
	for i := range rq.heads {
		rq.heads[i] = rqList{head: noSlot, tail: noSlot}
	}
}

// push appends t to the tail of its priority list.
func (rq *ReadyQueue) push(t *Task) {
	if t.queued {
		kfmt.Panic(errDoubleQueue)
	}

	l := &rq.heads[t.prio]
	t.prev, t.next = l.tail, noSlot
	if l.tail == noSlot {
		l.head = t.slot
	} else {
		rq.tab.get(l.tail).next = t.slot
	}
	l.tail = t.slot
	t.queued = true

	rq.bitmap.Store(rq.bitmap.Load() | 1<<uint(t.prio))
	rq.count.Add(1)
}

// remove unlinks t from its priority list.
func (rq *ReadyQueue) remove(t *Task) {
	if !t.queued {
		kfmt.Panic(errNotQueued)
	}

	l := &rq.heads[t.prio]
	if t.prev == noSlot {
		l.head = t.next
	} else {
		rq.tab.get(t.prev).next = t.next
	}
	if t.next == noSlot {
		l.tail = t.prev
	} else {
		rq.tab.get(t.next).prev = t.prev
	}
	t.prev, t.next = noSlot, noSlot
	t.queued = false

	if l.head == noSlot {
		rq.bitmap.Store(rq.bitmap.Load() &^ (1 << uint(t.prio)))
	}
	rq.count.Add(-1)
}

// pick returns the head of the most urgent non-empty list, or nil.
func (rq *ReadyQueue) pick() *Task {
	bitmap := rq.bitmap.Load()
	if bitmap == 0 {
		return nil
	}
	return rq.tab.get(rq.heads[bits.TrailingZeros32(bitmap)].head)
}

// rotate moves t behind its peers if it heads its priority list. A task that
// was already displaced is left in place.
func (rq *ReadyQueue) rotate(t *Task) bool {
	l := &rq.heads[t.prio]
	if !t.queued || l.head != t.slot || l.tail == t.slot {
		return false
	}
	rq.remove(t)
	rq.push(t)
	return true
}

// top returns the most urgent queued priority, or PriorityLevels if the
// queue is empty. Larger values are more preemptible.
func (rq *ReadyQueue) top() int {
	return bits.TrailingZeros32(rq.bitmap.Load())
}

// load returns the number of queued tasks.
func (rq *ReadyQueue) load() int {
	return int(rq.count.Load())
}

// tasks returns the queued tasks of the given priority in list order.
func (rq *ReadyQueue) tasks(prio int) []*Task {
	var list []*Task
	for slot := rq.heads[prio].head; slot != noSlot; {
		t := rq.tab.get(slot)
		list = append(list, t)
		slot = t.next
	}
	return list
}

// check verifies the queue invariants. The caller holds the queue lock.
func (rq *ReadyQueue) check() error {
	bitmap := rq.bitmap.Load()
	total := 0
	for prio := range rq.heads {
		list := rq.tasks(prio)
		if (bitmap&(1<<uint(prio)) != 0) != (len(list) != 0) {
			return fmt.Errorf("priority %d: bitmap bit does not match list (len %d)", prio, len(list))
		}

		prev := noSlot
		for _, t := range list {
			if t.prio != prio || !t.queued || t.prev != prev {
				return fmt.Errorf("priority %d: corrupt link at task %q", prio, t.name)
			}
			prev = t.slot
		}
		if rq.heads[prio].tail != prev {
			return fmt.Errorf("priority %d: tail mismatch", prio)
		}
		total += len(list)
	}

	if total != rq.load() {
		return fmt.Errorf("count %d does not match %d queued tasks", rq.load(), total)
	}
	return nil
}
