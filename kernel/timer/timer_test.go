package timer

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/stretchr/testify/require"
)

type fakeLocal struct {
	index   int
	enabled bool
}

func (c *fakeLocal) Index() int { return c.index }
func (c *fakeLocal) DisableInterrupts() bool {
	was := c.enabled
	c.enabled = false
	return was
}
func (c *fakeLocal) RestoreInterrupts(wasEnabled bool) {
	if wasEnabled {
		c.enabled = true
	}
}
func (c *fakeLocal) InterruptsEnabled() bool { return c.enabled }
func (c *fakeLocal) IRQDepth() int           { return 0 }
func (c *fakeLocal) Relax()                  { runtime.Gosched() }
func (c *fakeLocal) Halt()                   {}
func (c *fakeLocal) Poll()                   {}

func TestExpiryOrder(t *testing.T) {
	var (
		q     Queue
		lc    = &fakeLocal{enabled: true}
		now   int
		fired []int
	)

	timers := make([]Timer, 3)
	for i, ticks := range []int{10, 3, 7} {
		ticks := ticks
		require.True(t, q.Start(lc, &timers[i], ticks, func(cpu.Local) {
			fired = append(fired, ticks)
			require.Equal(t, ticks, now)
		}))
	}
	require.Equal(t, 3, q.Len(lc))
	require.Equal(t, 7, q.Remaining(lc, &timers[2]))

	for now = 1; now <= 12; now++ {
		q.Advance(lc)
	}

	if diff := cmp.Diff([]int{3, 7, 10}, fired); diff != "" {
		t.Fatalf("unexpected expiry order (-want +got):\n%s", diff)
	}
	require.Equal(t, 0, q.Len(lc))
	require.True(t, lc.InterruptsEnabled())
}

func TestSameExpiryFiresInStartOrder(t *testing.T) {
	var (
		q     Queue
		lc    = &fakeLocal{}
		fired []int
	)

	timers := make([]Timer, 4)
	for i := range timers {
		i := i
		q.Start(lc, &timers[i], 2, func(cpu.Local) { fired = append(fired, i) })
	}

	q.Advance(lc)
	require.Empty(t, fired)
	q.Advance(lc)
	require.Equal(t, []int{0, 1, 2, 3}, fired)
}

func TestStart(t *testing.T) {
	var (
		q     Queue
		lc    = &fakeLocal{}
		tm    Timer
		fired int
	)

	inc := func(cpu.Local) { fired++ }

	require.True(t, q.Start(lc, &tm, 0, inc))
	require.False(t, q.Start(lc, &tm, 5, inc), "expected Start to fail while the timer is pending")
	require.Equal(t, 1, q.Remaining(lc, &tm))

	q.Advance(lc)
	require.Equal(t, 1, fired)
	require.False(t, q.Pending(lc, &tm))
	require.Equal(t, 0, q.Remaining(lc, &tm))

	// An advance on an empty queue is a no-op.
	q.Advance(lc)
	require.Equal(t, 1, fired)
}

func TestCancelPreservesLaterExpiries(t *testing.T) {
	var (
		q      Queue
		lc     = &fakeLocal{}
		a, b   Timer
		firedA bool
		firedB int
		now    int
	)

	q.Start(lc, &a, 3, func(cpu.Local) { firedA = true })
	q.Start(lc, &b, 5, func(cpu.Local) { firedB = now })

	q.Advance(lc)
	now++
	require.True(t, q.Cancel(lc, &a))
	require.False(t, q.Cancel(lc, &a))
	require.Equal(t, 4, q.Remaining(lc, &b))

	for now = 2; now <= 6; now++ {
		q.Advance(lc)
	}
	require.False(t, firedA)
	require.Equal(t, 5, firedB)
}

func TestCallbackMayRestartTimer(t *testing.T) {
	var (
		q     Queue
		lc    = &fakeLocal{}
		tm    Timer
		fired int
		fn    Func
	)

	fn = func(lc cpu.Local) {
		fired++
		if fired < 3 {
			q.Start(lc, &tm, 2, fn)
		}
	}
	q.Start(lc, &tm, 2, fn)

	for i := 0; i < 10; i++ {
		q.Advance(lc)
	}
	require.Equal(t, 3, fired)
	require.False(t, q.Pending(lc, &tm))
}

func TestCancelWaitsForInflightCallback(t *testing.T) {
	var (
		q        Queue
		tm       Timer
		started  = make(chan struct{})
		release  = make(chan struct{})
		finished atomic.Bool
		returned atomic.Bool
	)

	q.Start(&fakeLocal{}, &tm, 1, func(cpu.Local) {
		close(started)
		<-release
		finished.Store(true)
	})

	go q.Advance(&fakeLocal{index: 0})
	<-started

	var pending atomic.Bool
	go func() {
		pending.Store(q.Cancel(&fakeLocal{index: 1}, &tm))
		returned.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, returned.Load(), "Cancel returned while the callback was running")

	close(release)
	require.Eventually(t, returned.Load, time.Second, time.Millisecond)
	require.True(t, finished.Load())
	require.False(t, pending.Load())
}

func TestCancelFromCallbackIsFatal(t *testing.T) {
	var (
		q  Queue
		lc = &fakeLocal{}
		tm Timer
	)

	q.Start(lc, &tm, 1, func(lc cpu.Local) { q.Cancel(lc, &tm) })

	defer func() {
		_, ok := recover().(*kernel.Error)
		require.True(t, ok, "expected a kernel error panic")
	}()
	q.Advance(lc)
	t.Fatal("expected Cancel from a callback to panic")
}
