package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	var s Set
	assert.True(t, s.Empty())

	s = s.Add(3).Add(0).Add(63).Add(3)
	assert.Equal(t, 3, s.Count())
	assert.True(t, s.Has(0))
	assert.True(t, s.Has(63))
	assert.False(t, s.Has(1))

	var got []int
	s.ForEach(func(cpu int) { got = append(got, cpu) })
	assert.Equal(t, []int{0, 3, 63}, got)
	assert.Equal(t, "{0,3,63}", s.String())

	s = s.Remove(3)
	assert.False(t, s.Has(3))
	assert.Equal(t, "{0,63}", s.String())
}

func TestSetOutOfRange(t *testing.T) {
	var s Set
	s = s.Add(-1).Add(MaxCPUs)
	assert.True(t, s.Empty())
	assert.False(t, s.Has(MaxCPUs))
	assert.Equal(t, Set(0), s.Remove(-1))
}
