package cpu

import (
	"math/bits"
	"strconv"
	"strings"
)

// Set is a bitmask of CPU indices.
type Set uint64

// Add returns a copy of s with cpu included.
func (s Set) Add(cpu int) Set {
	if cpu < 0 || cpu >= MaxCPUs {
		return s
	}
	return s | 1<<uint(cpu)
}

// Has returns true if cpu belongs to s.
func (s Set) Has(cpu int) bool {
	if cpu < 0 || cpu >= MaxCPUs {
		return false
	}
	return s&(1<<uint(cpu)) != 0
}

// Remove returns a copy of s without cpu.
func (s Set) Remove(cpu int) Set {
	if cpu < 0 || cpu >= MaxCPUs {
		return s
	}
	return s &^ (1 << uint(cpu))
}

// Empty returns true if no CPU is in the set.
func (s Set) Empty() bool { return s == 0 }

// Count returns the number of CPUs in the set.
func (s Set) Count() int { return bits.OnesCount64(uint64(s)) }

// ForEach invokes fn for every CPU in the set, in ascending order.
func (s Set) ForEach(fn func(cpu int)) {
	for m := uint64(s); m != 0; m &= m - 1 {
		fn(bits.TrailingZeros64(m))
	}
}

// String implements fmt.Stringer.
func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	s.ForEach(func(cpu int) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(strconv.Itoa(cpu))
	})
	b.WriteByte('}')
	return b.String()
}
