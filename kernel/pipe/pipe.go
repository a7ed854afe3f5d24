// Package pipe implements a bounded byte stream with blocking readers and
// writers. Every transfer moves between min and max bytes: a request is only
// served once at least min bytes (or min bytes of room) are available, and
// then moves as many bytes as possible up to max.
package pipe

import (
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/sched"
	"github.com/songziming/wheel-sub001/kernel/sync"
)

// DefaultCapacity is the buffer size used by New when no capacity is given.
const DefaultCapacity = 4096

var (
	errBadCapacity = &kernel.Error{Module: "pipe", Message: "pipe capacity must be positive"}
	errBadRange    = &kernel.Error{Module: "pipe", Message: "transfer range out of bounds"}
)

// request is the state of a blocked reader or writer.
type request struct {
	buf []byte
	n   int
}

// Pipe is a FIFO byte stream. Blocked readers and writers are each served in
// arrival order.
type Pipe struct {
	s *sched.Scheduler

	lock    sync.IRQSpinlock
	ring    ring
	readers sched.WaitQueue
	writers sched.WaitQueue
}

// New returns a pipe with the given capacity; a non-positive capacity selects
// DefaultCapacity.
func New(s *sched.Scheduler, capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := new(Pipe)
	p.Init(s, make([]byte, capacity))
	return p
}

// Init sets up p to use buf as its buffer.
func (p *Pipe) Init(s *sched.Scheduler, buf []byte) {
	if len(buf) == 0 {
		kfmt.Panic(errBadCapacity)
	}

	p.s = s
	p.ring = ring{buf: buf}
	p.readers.Init(&p.lock, false, p.settle)
	p.writers.Init(&p.lock, false, p.settle)
}

func (p *Pipe) checkRange(buf []byte, min, max int) int {
	if max > len(buf) {
		max = len(buf)
	}
	if min <= 0 || min > max || min > p.ring.capacity() {
		kfmt.Panic(errBadRange)
	}
	return max
}

// Write copies between min and max bytes of src into the pipe and returns the
// number of bytes written. If less than min bytes of room are available it
// waits up to timeout ticks and returns 0 if the wait fails. cur is the
// calling task; callers outside task context may only use sched.NoWait.
func (p *Pipe) Write(cur *sched.Task, src []byte, min, max, timeout int) int {
	max = p.checkRange(src, min, max)

	lc := p.s.Local(cur)
	g := p.lock.Acquire(lc)
	if p.ring.free() >= min {
		n := p.ring.write(src[:max])
		targets := p.settle(lc)
		g.Release()
		p.s.Kick(cur, targets)
		return n
	}
	if timeout == sched.NoWait {
		g.Release()
		return 0
	}

	req := request{buf: src[:max]}
	pd := sched.Pender{Need: min, Data: &req}
	if p.s.Pend(cur, &p.writers, &pd, g, timeout) != sched.Granted {
		return 0
	}
	return req.n
}

// Read moves between min and max bytes from the pipe into dst and returns
// the number of bytes read. If less than min bytes are buffered it waits up
// to timeout ticks and returns 0 if the wait fails.
func (p *Pipe) Read(cur *sched.Task, dst []byte, min, max, timeout int) int {
	max = p.checkRange(dst, min, max)

	lc := p.s.Local(cur)
	g := p.lock.Acquire(lc)
	if p.ring.len() >= min {
		n := p.ring.read(dst[:max])
		targets := p.settle(lc)
		g.Release()
		p.s.Kick(cur, targets)
		return n
	}
	if timeout == sched.NoWait {
		g.Release()
		return 0
	}

	req := request{buf: dst[:max]}
	pd := sched.Pender{Need: min, Data: &req}
	if p.s.Pend(cur, &p.readers, &pd, g, timeout) != sched.Granted {
		return 0
	}
	return req.n
}

// ForceWrite stores src in the pipe, discarding the oldest unread bytes if
// there is not enough room, and wakes any reader that can now be served. It
// never blocks and may be called from an interrupt handler with the local
// CPU of the handler.
func (p *Pipe) ForceWrite(lc cpu.Local, src []byte) int {
	g := p.lock.Acquire(lc)
	n := p.ring.overwrite(src)
	targets := p.settle(lc)
	g.Release()

	p.s.Kick(nil, targets)
	return n
}

// settle walks the blocked readers and then the blocked writers in arrival
// order and serves every one whose minimum the buffer can meet. A waiter
// that cannot be served does not hold back the ones queued behind it. The
// walk repeats while a pass made progress, since reads free room for writers
// and writes add data for readers. The caller holds the pipe lock.
func (p *Pipe) settle(lc cpu.Local) cpu.Set {
	var targets cpu.Set
	serve := func(q *sched.WaitQueue, avail func() int, transfer func([]byte) int) bool {
		served := false
		for pd := q.Head(); pd != nil; {
			next := pd.Next()
			if avail() >= pd.Need {
				req := pd.Data.(*request)
				req.n = transfer(req.buf)
				if c := p.s.Wake(lc, pd); c >= 0 {
					targets = targets.Add(c)
				}
				served = true
			}
			pd = next
		}
		return served
	}

	for {
		read := serve(&p.readers, p.ring.len, p.ring.read)
		wrote := serve(&p.writers, p.ring.free, p.ring.write)
		if !read && !wrote {
			return targets
		}
	}
}

// Len returns the number of buffered bytes. cur is the calling task or nil.
func (p *Pipe) Len(cur *sched.Task) int {
	g := p.lock.Acquire(p.s.Local(cur))
	defer g.Release()
	return p.ring.len()
}

// Cap returns the capacity of the pipe.
func (p *Pipe) Cap() int { return p.ring.capacity() }

// Waiters returns the number of blocked readers and writers. cur is the
// calling task or nil.
func (p *Pipe) Waiters(cur *sched.Task) (readers, writers int) {
	g := p.lock.Acquire(p.s.Local(cur))
	defer g.Release()
	return p.readers.Len(), p.writers.Len()
}
