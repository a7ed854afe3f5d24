package sched

import (
	"bytes"
	"io"

	"github.com/songziming/wheel-sub001/kernel/kfmt"
)

// CPUStats is a snapshot of the scheduler state of one CPU.
type CPUStats struct {
	CPU      int
	Current  string
	Bitmap   uint32
	Load     int
	Switches uint64
	Ticks    uint64
}

// TaskStats is a snapshot of one task.
type TaskStats struct {
	TID        TID
	Name       string
	Priority   int
	State      State
	LastCPU    int
	Dispatches uint64
}

// Stats is a snapshot of the whole scheduler.
type Stats struct {
	CPUs  []CPUStats
	Tasks []TaskStats
}

// Stats returns scheduling counters for every CPU and every live task.
// Counters are read without stopping the CPUs, so the snapshot is not
// atomic.
func (s *Scheduler) Stats() Stats {
	var st Stats

	lc := s.Local(nil)
	s.percpu.ForEach(func(c int, pc *perCPU) {
		cs := CPUStats{
			CPU:      c,
			Bitmap:   pc.rq.bitmap.Load(),
			Load:     pc.rq.load(),
			Switches: pc.switches.Load(),
			Ticks:    pc.ticks.Load(),
		}

		g := pc.rq.lock.Acquire(lc)
		if pc.current != nil {
			cs.Current = pc.current.name
		}
		g.Release()

		st.CPUs = append(st.CPUs, cs)
	})

	s.tasks.forEach(func(t *Task) {
		st.Tasks = append(st.Tasks, TaskStats{
			TID:        t.tid,
			Name:       t.name,
			Priority:   t.prio,
			State:      t.State(),
			LastCPU:    t.LastCPU(),
			Dispatches: t.Dispatches(),
		})
	})
	return st
}

// Dump writes the per-CPU scheduler state to w. It is safe to call from a
// panic handler: queues whose lock is busy are reported as such instead of
// being walked.
func (s *Scheduler) Dump(w io.Writer) {
	var buf bytes.Buffer

	lc := s.Local(nil)
	s.percpu.ForEach(func(c int, pc *perCPU) {
		buf.Reset()
		if g, ok := pc.rq.lock.TryToAcquire(lc); ok {
			s.dumpCPU(&buf, c, pc)
			g.Release()
		} else {
			kfmt.Fprintf(&buf, "cpu %d: ready queue locked\n", c)
		}
		w.Write(buf.Bytes())
	})
}

// dumpCPU formats the state of one CPU. The caller holds its queue lock.
func (s *Scheduler) dumpCPU(w io.Writer, c int, pc *perCPU) {
	cur := "none"
	if pc.current != nil {
		cur = pc.current.name
	}
	kfmt.Fprintf(w, "cpu %d: current=%s bitmap=0x%08x load=%d switches=%d ticks=%d\n",
		c, cur, pc.rq.bitmap.Load(), pc.rq.load(), pc.switches.Load(), pc.ticks.Load())

	for prio := 0; prio < PriorityLevels; prio++ {
		tasks := pc.rq.tasks(prio)
		if len(tasks) == 0 {
			continue
		}

		kfmt.Fprintf(w, "  prio %2d:", prio)
		for _, t := range tasks {
			kfmt.Fprintf(w, " %s(%d)", t.name, t.tid)
		}
		kfmt.Fprintf(w, "\n")
	}
}
