// Package irq defines the interrupt vectors delivered to the scheduler core.
package irq

// Vector defines an interrupt vector that the arch layer delivers to the
// registered Handler.
type Vector uint8

const (
	// VectorTick is raised on every CPU by the periodic timer.
	VectorTick = Vector(32)

	// VectorReschedule is the inter-processor interrupt sent to prompt a
	// remote CPU to reschedule.
	VectorReschedule = Vector(0xfd)
)

// String returns a short name for the vector.
func (v Vector) String() string {
	switch v {
	case VectorTick:
		return "tick"
	case VectorReschedule:
		return "resched"
	default:
		return "unknown"
	}
}

// Handler is invoked on the interrupted CPU with interrupts disabled. The
// handler must not block.
type Handler func(cpu int, v Vector)
