package main

import (
	"sync/atomic"

	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/pipe"
	"github.com/songziming/wheel-sub001/kernel/sched"
	"github.com/songziming/wheel-sub001/kernel/sem"
)

// counters aggregates workload results across tasks.
type counters struct {
	bytesWritten atomic.Int64
	bytesRead    atomic.Int64
	forced       atomic.Int64
	granted      atomic.Int64
	timedOut     atomic.Int64
	given        atomic.Int64
	sleeps       atomic.Int64
	spins        atomic.Int64
}

// workload owns the shared resources of a scenario and the programs run by
// its tasks.
type workload struct {
	sc *scenario
	s  *sched.Scheduler

	sem  *sem.Semaphore
	pipe *pipe.Pipe

	stats     counters
	remaining atomic.Int32
	done      chan struct{}
}

func newWorkload(sc *scenario) *workload {
	w := &workload{sc: sc, done: make(chan struct{})}
	for _, ts := range sc.Tasks {
		w.remaining.Add(int32(ts.Count))
	}
	return w
}

// bind creates the shared resources once the scheduler exists.
func (w *workload) bind(s *sched.Scheduler) {
	w.s = s
	w.sem = sem.New(s, w.sc.Semaphore.Value, w.sc.Semaphore.Limit)
	w.pipe = pipe.New(s, w.sc.Pipe.Capacity)
}

// tickHook force-writes into the pipe from the timer interrupt.
func (w *workload) tickHook(lc cpu.Local) {
	if w.sc.Pipe.TickBytes == 0 || lc.Index() != w.sc.TimerCPU {
		return
	}

	buf := make([]byte, w.sc.Pipe.TickBytes)
	for i := range buf {
		buf[i] = byte(i)
	}
	w.stats.forced.Add(int64(w.pipe.ForceWrite(lc, buf)))
}

// init is the entry of the init task. It starts every workload task and
// exits.
func (w *workload) init(cur *sched.Task) {
	log := kfmt.ModuleLogger("smpsim")

	for _, ts := range w.sc.Tasks {
		ts := ts
		for i := 0; i < ts.Count; i++ {
			task, err := w.s.Create(ts.Name, ts.Priority, func(cur *sched.Task) {
				w.runProgram(cur, ts)
				w.finish()
			})
			if err != nil {
				log.Err().Str("task", ts.Name).Err(err).Log("cannot create task")
				w.finish()
				continue
			}
			w.s.Resume(cur, task)
		}
	}
	log.Info().Int("groups", len(w.sc.Tasks)).Log("workload started")
}

func (w *workload) finish() {
	if w.remaining.Add(-1) == 0 {
		close(w.done)
	}
}

func (w *workload) runProgram(cur *sched.Task, ts taskSpec) {
	switch ts.Kind {
	case kindProducer:
		w.produce(cur, ts)
	case kindConsumer:
		w.consume(cur, ts)
	case kindGiver:
		for i := 0; i < ts.Iterations; i++ {
			w.sem.Give(cur, ts.Units)
			w.stats.given.Add(int64(ts.Units))
			if ts.Ticks > 0 {
				w.s.Sleep(cur, ts.Ticks)
			}
		}
	case kindTaker:
		for i := 0; i < ts.Iterations; i++ {
			if w.sem.Take(cur, ts.Units, ts.Timeout) {
				w.stats.granted.Add(1)
			} else {
				w.stats.timedOut.Add(1)
			}
		}
	case kindSleeper:
		for i := 0; i < ts.Iterations; i++ {
			w.s.Sleep(cur, ts.Ticks)
			w.stats.sleeps.Add(1)
		}
	case kindSpinner:
		for i := 0; i < ts.Iterations; i++ {
			w.stats.spins.Add(1)
			w.s.Preempt(cur)
		}
	}
}

func (w *workload) produce(cur *sched.Task, ts taskSpec) {
	chunk := make([]byte, ts.Bytes)
	for i := 0; i < ts.Iterations; i++ {
		for j := range chunk {
			chunk[j] = byte(i + j)
		}

		for off := 0; off < len(chunk); {
			n := w.pipe.Write(cur, chunk[off:], 1, len(chunk)-off, ts.Timeout)
			if n == 0 {
				w.stats.timedOut.Add(1)
				w.s.Preempt(cur)
				continue
			}
			off += n
			w.stats.bytesWritten.Add(int64(n))
		}
	}
}

func (w *workload) consume(cur *sched.Task, ts taskSpec) {
	buf := make([]byte, ts.Bytes)
	for want := ts.Iterations * ts.Bytes; want > 0; {
		limit := len(buf)
		if want < limit {
			limit = want
		}

		n := w.pipe.Read(cur, buf, 1, limit, ts.Timeout)
		if n == 0 {
			w.stats.timedOut.Add(1)
			w.s.Preempt(cur)
			continue
		}
		want -= n
		w.stats.bytesRead.Add(int64(n))
	}
}
