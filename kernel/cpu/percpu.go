package cpu

import xcpu "golang.org/x/sys/cpu"

type percpuSlot[T any] struct {
	v T
	_ xcpu.CacheLinePad
}

// PerCPU holds one value of type T for each CPU. Neighbouring slots are padded
// so that writes from different CPUs do not share a cache line.
type PerCPU[T any] struct {
	slots []percpuSlot[T]
}

// NewPerCPU allocates a PerCPU container with n slots.
func NewPerCPU[T any](n int) *PerCPU[T] {
	return &PerCPU[T]{slots: make([]percpuSlot[T], n)}
}

// Get returns a pointer to the slot of the given CPU.
func (p *PerCPU[T]) Get(cpu int) *T {
	return &p.slots[cpu].v
}

// Len returns the number of slots.
func (p *PerCPU[T]) Len() int {
	return len(p.slots)
}

// ForEach invokes fn for each slot in CPU order.
func (p *PerCPU[T]) ForEach(fn func(cpu int, v *T)) {
	for i := range p.slots {
		fn(i, &p.slots[i].v)
	}
}
