package sched

import (
	"github.com/joeycumines/logiface"
	"github.com/songziming/wheel-sub001/kernel/cpu"
)

const (
	// PriorityLevels is the number of task priorities. Priority 0 is the
	// most urgent.
	PriorityLevels = 32

	// IdlePriority is the priority of the per-CPU idle tasks.
	IdlePriority = PriorityLevels - 1

	// DefaultTimeSlice is the number of ticks a task runs before it is
	// rotated behind its peers of the same priority.
	DefaultTimeSlice = 10

	// MaxTasks is the capacity of the task table, idle tasks included.
	MaxTasks = 1024
)

// Timeouts accepted by blocking operations. Positive values are tick counts.
const (
	NoWait  = 0
	Forever = -1
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeSlice sets the number of ticks per time slice.
func WithTimeSlice(ticks int) Option {
	return func(s *Scheduler) {
		if ticks > 0 {
			s.timeSlice = ticks
		}
	}
}

// WithTimerCPU selects the CPU whose tick advances the timer queue.
func WithTimerCPU(cpuIndex int) Option {
	return func(s *Scheduler) {
		s.timerCPU = cpuIndex
	}
}

// WithLogger replaces the scheduler logger.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// WithTickHook registers fn to run in interrupt context on every tick of
// every CPU, after the scheduler has accounted for the tick.
func WithTickHook(fn func(lc cpu.Local)) Option {
	return func(s *Scheduler) {
		s.tickHooks = append(s.tickHooks, fn)
	}
}
