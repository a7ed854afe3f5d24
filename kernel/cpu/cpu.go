// Package cpu describes the per-CPU and machine-wide services that the
// scheduler core expects from the architecture layer.
package cpu

import "github.com/songziming/wheel-sub001/kernel/irq"

// MaxCPUs is the upper bound on the number of CPUs a machine may expose. It
// matches the width of Set.
const MaxCPUs = 64

// Context is an opaque saved execution context. Only the Arch implementation
// that created a Context knows how to interpret it.
type Context interface{}

// Local exposes the services of the CPU that the caller is currently running
// on. A Local value must only be used by code running on that CPU.
type Local interface {
	// Index returns the index of this CPU in [0, CPUCount).
	Index() int

	// DisableInterrupts masks interrupts on this CPU and reports whether
	// they were enabled before the call.
	DisableInterrupts() (wasEnabled bool)

	// RestoreInterrupts re-enables interrupts if wasEnabled is true. Any
	// interrupt that became pending while masked is delivered before
	// RestoreInterrupts returns.
	RestoreInterrupts(wasEnabled bool)

	// InterruptsEnabled reports whether interrupts are currently unmasked.
	InterruptsEnabled() bool

	// IRQDepth returns the interrupt handler nesting depth. A non-zero
	// value means the caller runs in interrupt context.
	IRQDepth() int

	// Relax is called by busy-wait loops between attempts.
	Relax()

	// Halt parks the CPU until the next interrupt arrives and then
	// delivers it.
	Halt()

	// Poll delivers any pending interrupt without blocking.
	Poll()
}

// Arch is implemented by the architecture layer of a machine.
type Arch interface {
	// CPUCount returns the number of CPUs in the machine.
	CPUCount() int

	// CPU returns the Local handle of CPU i.
	CPU(i int) Local

	// SendIPI posts a reschedule interrupt to the given CPU.
	SendIPI(cpu int)

	// SetInterruptHandler installs the handler invoked for every vector.
	SetInterruptHandler(h irq.Handler)

	// NewContext allocates a context that starts executing entry the first
	// time it is switched to. Returning from entry is a fatal error.
	NewContext(entry func()) Context

	// Switch saves the caller into from and resumes to. Switch returns
	// when another CPU (or this one) later switches back to from.
	// Interrupts must be disabled by the caller.
	Switch(lc Local, from, to Context)

	// Exit resumes to and discards the calling context. It never returns.
	Exit(lc Local, to Context)

	// Boot starts executing ctx on the given CPU.
	Boot(cpu int, ctx Context)
}
