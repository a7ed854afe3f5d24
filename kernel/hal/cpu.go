package hal

import (
	"runtime"
	"sync/atomic"

	"github.com/songziming/wheel-sub001/kernel/irq"
)

const pendingReschedule = 1 << 0

// hostCPU implements cpu.Local for a simulated CPU. The enabled and depth
// fields belong to whichever context currently owns the CPU; ownership is
// transferred through context permits which order the accesses.
type hostCPU struct {
	m      *Machine
	index  int
	booted atomic.Bool

	enabled bool
	depth   int

	// Posted interrupts. Any goroutine may post; only the owner services.
	ticks   atomic.Uint32
	pending atomic.Uint32
	wake    chan struct{}
}

func (c *hostCPU) Index() int { return c.index }

func (c *hostCPU) DisableInterrupts() bool {
	was := c.enabled
	c.enabled = false
	return was
}

func (c *hostCPU) RestoreInterrupts(wasEnabled bool) {
	if !wasEnabled {
		return
	}
	c.enabled = true
	c.service()
}

func (c *hostCPU) InterruptsEnabled() bool { return c.enabled }

func (c *hostCPU) IRQDepth() int { return c.depth }

func (c *hostCPU) Relax() { runtime.Gosched() }

// Halt enables interrupts and parks the CPU until at least one interrupt has
// been delivered. A stale wakeup may return without delivering anything.
func (c *hostCPU) Halt() {
	c.enabled = true
	if c.service() {
		return
	}

	<-c.wake
	c.service()
}

func (c *hostCPU) Poll() {
	if c.enabled {
		c.service()
	}
}

func (c *hostCPU) post(v irq.Vector) {
	switch v {
	case irq.VectorTick:
		c.ticks.Add(1)
	case irq.VectorReschedule:
		c.pending.Or(pendingReschedule)
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// service runs the interrupt handler for every posted interrupt and reports
// whether any were delivered. Handlers run with interrupts masked.
func (c *hostCPU) service() bool {
	if c.depth != 0 {
		return false
	}

	delivered := false
	for {
		ticks, pending := c.ticks.Swap(0), c.pending.Swap(0)
		if ticks == 0 && pending == 0 {
			return delivered
		}
		delivered = true

		c.enabled = false
		c.depth++
		for ; ticks > 0; ticks-- {
			c.m.handler(c.index, irq.VectorTick)
		}
		if pending&pendingReschedule != 0 {
			c.m.handler(c.index, irq.VectorReschedule)
		}
		c.depth--
		c.enabled = true
	}
}
