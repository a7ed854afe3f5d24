// Package hal provides a hosted implementation of the architecture layer
// consumed by the scheduler. Each simulated CPU is owned by exactly one
// execution context at a time; contexts are goroutines that hand the CPU over
// to each other through permits, so at most one context per CPU runs at any
// instant while different CPUs run in parallel.
package hal

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/irq"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
)

var (
	errBadCPUCount     = &kernel.Error{Module: "hal", Message: "cpu count out of range"}
	errContextReturned = &kernel.Error{Module: "hal", Message: "context entry returned"}
	errNoHandler       = &kernel.Error{Module: "hal", Message: "cpu booted before an interrupt handler was installed"}
	errAlreadyBooted   = &kernel.Error{Module: "hal", Message: "cpu booted twice"}
	errForeignContext  = &kernel.Error{Module: "hal", Message: "context does not belong to this machine"}
	errInterruptsOn    = &kernel.Error{Module: "hal", Message: "context switch with interrupts enabled"}
	errSwitchInHandler = &kernel.Error{Module: "hal", Message: "context switch from interrupt handler"}
)

// Machine is a simulated SMP machine implementing cpu.Arch.
type Machine struct {
	cpus []*hostCPU

	// handler is installed before any CPU boots.
	handler irq.Handler

	ticks atomic.Uint64
}

// NewMachine returns a machine with n CPUs. All CPUs start halted with
// interrupts disabled until Boot is called for them.
func NewMachine(n int) *Machine {
	if n < 1 || n > cpu.MaxCPUs {
		kfmt.Panic(errBadCPUCount)
	}

	m := &Machine{cpus: make([]*hostCPU, n)}
	for i := range m.cpus {
		m.cpus[i] = &hostCPU{
			m:     m,
			index: i,
			wake:  make(chan struct{}, 1),
		}
	}
	return m
}

// CPUCount implements cpu.Arch.
func (m *Machine) CPUCount() int { return len(m.cpus) }

// CPU implements cpu.Arch.
func (m *Machine) CPU(i int) cpu.Local { return m.cpus[i] }

// SetInterruptHandler implements cpu.Arch. It must be called before any CPU
// is booted.
func (m *Machine) SetInterruptHandler(h irq.Handler) { m.handler = h }

// SendIPI implements cpu.Arch.
func (m *Machine) SendIPI(i int) {
	m.cpus[i].post(irq.VectorReschedule)
}

// Tick posts one timer interrupt to every CPU.
func (m *Machine) Tick() {
	m.ticks.Add(1)
	for _, c := range m.cpus {
		c.post(irq.VectorTick)
	}
}

// Ticks returns the number of timer interrupts posted so far.
func (m *Machine) Ticks() uint64 { return m.ticks.Load() }

// Run posts a tick to every CPU once per period until ctx is cancelled.
func (m *Machine) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
}

// hostContext is a saved execution context backed by a goroutine.
type hostContext struct {
	m       *Machine
	permit  chan struct{}
	entry   func()
	started atomic.Bool
}

// NewContext implements cpu.Arch. The backing goroutine is started the first
// time the context is switched to.
func (m *Machine) NewContext(entry func()) cpu.Context {
	return &hostContext{
		m:      m,
		permit: make(chan struct{}, 1),
		entry:  entry,
	}
}

func (c *hostContext) run() {
	<-c.permit
	c.entry()
	kfmt.Panic(errContextReturned)
}

// resume hands the permit to c, starting its goroutine if required.
func (c *hostContext) resume() {
	if c.started.CompareAndSwap(false, true) {
		go c.run()
	}
	c.permit <- struct{}{}
}

func (m *Machine) context(ctx cpu.Context) *hostContext {
	hc, ok := ctx.(*hostContext)
	if !ok || hc.m != m {
		kfmt.Panic(errForeignContext)
	}
	return hc
}

func (m *Machine) checkSwitch(lc cpu.Local) {
	if lc.InterruptsEnabled() {
		kfmt.Panic(errInterruptsOn)
	}
	if lc.IRQDepth() != 0 {
		kfmt.Panic(errSwitchInHandler)
	}
}

// Switch implements cpu.Arch. The calling goroutine parks until another
// context switches back to from.
func (m *Machine) Switch(lc cpu.Local, from, to cpu.Context) {
	m.checkSwitch(lc)
	f, t := m.context(from), m.context(to)
	t.resume()
	<-f.permit
}

// Exit implements cpu.Arch. The calling goroutine terminates.
func (m *Machine) Exit(lc cpu.Local, to cpu.Context) {
	m.checkSwitch(lc)
	m.context(to).resume()
	runtime.Goexit()
}

// Boot implements cpu.Arch.
func (m *Machine) Boot(i int, ctx cpu.Context) {
	c := m.cpus[i]
	if !c.booted.CompareAndSwap(false, true) {
		kfmt.Panic(errAlreadyBooted)
	}
	if m.handler == nil {
		kfmt.Panic(errNoHandler)
	}

	m.context(ctx).resume()
}
