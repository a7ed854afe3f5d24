package cpu

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestPerCPU(t *testing.T) {
	p := NewPerCPU[int](4)
	require.Equal(t, 4, p.Len())

	for i := 0; i < p.Len(); i++ {
		*p.Get(i) = i * 10
	}

	var sum int
	p.ForEach(func(cpu int, v *int) {
		require.Equal(t, cpu*10, *v)
		sum += *v
	})
	require.Equal(t, 60, sum)
}

func TestPerCPUSlotsDoNotShareCacheLine(t *testing.T) {
	p := NewPerCPU[uint64](2)
	a := uintptr(unsafe.Pointer(p.Get(0)))
	b := uintptr(unsafe.Pointer(p.Get(1)))
	require.GreaterOrEqual(t, int(b-a), CacheLineSize())
}
