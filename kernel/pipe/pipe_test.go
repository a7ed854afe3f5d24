package pipe

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/hal"
	"github.com/songziming/wheel-sub001/kernel/sched"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

func startScheduler(t *testing.T, cpus int) (*hal.Machine, *sched.Scheduler) {
	t.Helper()

	m := hal.NewMachine(cpus)
	s := sched.New(m)
	s.Start()
	return m, s
}

func spawn(t *testing.T, s *sched.Scheduler, prio int, fn func(cur *sched.Task)) {
	t.Helper()

	task, err := s.Create("pipe-user", prio, fn)
	require.Nil(t, err)
	s.Resume(nil, task)
}

func expectKernelPanic(t *testing.T, exp *kernel.Error, fn func()) {
	t.Helper()
	defer func() {
		err, ok := recover().(*kernel.Error)
		require.True(t, ok, "expected a kernel error panic")
		require.Equal(t, exp, err)
	}()
	fn()
}

func TestNonBlockingTransfers(t *testing.T) {
	p := New(sched.New(hal.NewMachine(1)), 8)
	require.Equal(t, 8, p.Cap())

	require.Equal(t, 4, p.Write(nil, []byte("abcd"), 4, 4, sched.NoWait))

	// Only four bytes of room are left, below the minimum of six.
	require.Equal(t, 0, p.Write(nil, []byte("efghij"), 6, 6, sched.NoWait))
	require.Equal(t, 4, p.Len(nil))

	dst := make([]byte, 8)
	require.Equal(t, 4, p.Read(nil, dst, 2, 8, sched.NoWait))
	require.Equal(t, "abcd", string(dst[:4]))
	require.Equal(t, 0, p.Read(nil, dst, 1, 8, sched.NoWait))

	// A partial write moves as much as fits.
	require.Equal(t, 8, p.Write(nil, []byte("0123456789"), 2, 10, sched.NoWait))
	require.Equal(t, 8, p.Len(nil))
}

func TestRangeChecks(t *testing.T) {
	p := New(sched.New(hal.NewMachine(1)), 4)
	buf := make([]byte, 8)

	specs := []struct{ min, max int }{
		{0, 4},
		{3, 2},
		{5, 8},
		{9, 9},
	}
	for _, spec := range specs {
		expectKernelPanic(t, errBadRange, func() { p.Write(nil, buf, spec.min, spec.max, sched.NoWait) })
		expectKernelPanic(t, errBadRange, func() { p.Read(nil, buf, spec.min, spec.max, sched.NoWait) })
	}

	expectKernelPanic(t, errBadCapacity, func() { new(Pipe).Init(nil, nil) })
	require.Equal(t, DefaultCapacity, New(nil, 0).Cap())
}

func TestForceWrite(t *testing.T) {
	s := sched.New(hal.NewMachine(1))
	p := New(s, 4)
	lc := s.Local(nil)

	require.Equal(t, 4, p.ForceWrite(lc, []byte("abcdef")))
	require.Equal(t, 2, p.ForceWrite(lc, []byte("xy")))

	dst := make([]byte, 4)
	require.Equal(t, 4, p.Read(nil, dst, 4, 4, sched.NoWait))
	require.Equal(t, "efxy", string(dst))
}

func TestRoundTrip(t *testing.T) {
	_, s := startScheduler(t, 2)
	p := New(s, 16)

	src := make([]byte, 1000)
	for i := range src {
		src[i] = byte(i * 7)
	}

	var (
		dst  = make([]byte, 0, len(src))
		done atomic.Bool
	)

	spawn(t, s, 4, func(cur *sched.Task) {
		for off := 0; off < len(src); {
			end := off + 37
			if end > len(src) {
				end = len(src)
			}
			off += p.Write(cur, src[off:end], 1, end-off, sched.Forever)
		}
	})
	spawn(t, s, 4, func(cur *sched.Task) {
		buf := make([]byte, 50)
		for len(dst) < len(src) {
			n := p.Read(cur, buf, 1, len(buf), sched.Forever)
			dst = append(dst, buf[:n]...)
		}
		done.Store(true)
	})

	require.Eventually(t, done.Load, waitFor, time.Millisecond)
	require.True(t, bytes.Equal(src, dst), "bytes read differ from bytes written")
	require.Equal(t, 0, p.Len(nil))
}

func TestBlockedReaderWokenByForceWrite(t *testing.T) {
	_, s := startScheduler(t, 2)
	p := New(s, 8)

	var got atomic.Value
	spawn(t, s, 3, func(cur *sched.Task) {
		buf := make([]byte, 8)
		n := p.Read(cur, buf, 3, 8, sched.Forever)
		got.Store(string(buf[:n]))
	})
	require.Eventually(t, func() bool {
		readers, _ := p.Waiters(nil)
		return readers == 1
	}, waitFor, time.Millisecond)

	// Not enough for the reader yet.
	p.ForceWrite(s.Local(nil), []byte("ab"))
	readers, _ := p.Waiters(nil)
	require.Equal(t, 1, readers)

	p.ForceWrite(s.Local(nil), []byte("c"))
	require.Eventually(t, func() bool { return got.Load() != nil }, waitFor, time.Millisecond)
	require.Equal(t, "abc", got.Load())
}

func TestBlockedWriterWokenByReader(t *testing.T) {
	_, s := startScheduler(t, 1)
	p := New(s, 4)
	require.Equal(t, 4, p.Write(nil, []byte("abcd"), 4, 4, sched.NoWait))

	var written atomic.Int32
	written.Store(-1)
	spawn(t, s, 3, func(cur *sched.Task) {
		written.Store(int32(p.Write(cur, []byte("efg"), 2, 3, sched.Forever)))
	})
	require.Eventually(t, func() bool {
		_, writers := p.Waiters(nil)
		return writers == 1
	}, waitFor, time.Millisecond)

	dst := make([]byte, 4)
	require.Equal(t, 2, p.Read(nil, dst, 2, 2, sched.NoWait))
	require.Equal(t, "ab", string(dst[:2]))

	// The freed room is handed to the blocked writer before Read returns.
	require.Equal(t, 4, p.Len(nil))
	require.Eventually(t, func() bool { return written.Load() == 2 }, waitFor, time.Millisecond)

	require.Equal(t, 4, p.Read(nil, dst, 4, 4, sched.NoWait))
	require.Equal(t, "cdef", string(dst))
}

func TestReaderBehindLargerRequestIsServed(t *testing.T) {
	_, s := startScheduler(t, 2)
	p := New(s, 8)

	var big, small atomic.Value
	spawn(t, s, 3, func(cur *sched.Task) {
		buf := make([]byte, 8)
		n := p.Read(cur, buf, 8, 8, sched.Forever)
		big.Store(string(buf[:n]))
	})
	require.Eventually(t, func() bool {
		readers, _ := p.Waiters(nil)
		return readers == 1
	}, waitFor, time.Millisecond)

	spawn(t, s, 3, func(cur *sched.Task) {
		buf := make([]byte, 8)
		n := p.Read(cur, buf, 1, 8, sched.Forever)
		small.Store(string(buf[:n]))
	})
	require.Eventually(t, func() bool {
		readers, _ := p.Waiters(nil)
		return readers == 2
	}, waitFor, time.Millisecond)

	// The data goes to the second reader before Write returns.
	require.Equal(t, 4, p.Write(nil, []byte("abcd"), 4, 4, sched.NoWait))
	require.Equal(t, 0, p.Len(nil))
	readers, _ := p.Waiters(nil)
	require.Equal(t, 1, readers)
	require.Eventually(t, func() bool { return small.Load() != nil }, waitFor, time.Millisecond)
	require.Equal(t, "abcd", small.Load())

	dst := make([]byte, 8)
	require.Equal(t, 0, p.Read(nil, dst, 1, 8, sched.NoWait))
	require.Nil(t, big.Load())

	require.Equal(t, 8, p.Write(nil, []byte("01234567"), 8, 8, sched.NoWait))
	require.Eventually(t, func() bool { return big.Load() != nil }, waitFor, time.Millisecond)
	require.Equal(t, "01234567", big.Load())
}

func TestWriterBehindLargerRequestIsServed(t *testing.T) {
	_, s := startScheduler(t, 2)
	p := New(s, 4)
	require.Equal(t, 4, p.Write(nil, []byte("abcd"), 4, 4, sched.NoWait))

	var big, small atomic.Int32
	big.Store(-1)
	small.Store(-1)
	spawn(t, s, 3, func(cur *sched.Task) {
		big.Store(int32(p.Write(cur, []byte("WXYZ"), 4, 4, sched.Forever)))
	})
	require.Eventually(t, func() bool {
		_, writers := p.Waiters(nil)
		return writers == 1
	}, waitFor, time.Millisecond)

	spawn(t, s, 3, func(cur *sched.Task) {
		small.Store(int32(p.Write(cur, []byte("e"), 1, 1, sched.Forever)))
	})
	require.Eventually(t, func() bool {
		_, writers := p.Waiters(nil)
		return writers == 2
	}, waitFor, time.Millisecond)

	dst := make([]byte, 4)
	require.Equal(t, 2, p.Read(nil, dst, 2, 2, sched.NoWait))
	require.Equal(t, 3, p.Len(nil))
	_, writers := p.Waiters(nil)
	require.Equal(t, 1, writers)
	require.Eventually(t, func() bool { return small.Load() == 1 }, waitFor, time.Millisecond)
	require.Equal(t, int32(-1), big.Load())

	require.Equal(t, 3, p.Read(nil, dst, 3, 3, sched.NoWait))
	require.Equal(t, "cde", string(dst[:3]))
	require.Eventually(t, func() bool { return big.Load() == 4 }, waitFor, time.Millisecond)
	require.Equal(t, 4, p.Read(nil, dst, 4, 4, sched.NoWait))
	require.Equal(t, "WXYZ", string(dst))
}

func TestReadTimeout(t *testing.T) {
	m, s := startScheduler(t, 1)
	p := New(s, 4)

	var result atomic.Int32
	result.Store(-1)
	spawn(t, s, 3, func(cur *sched.Task) {
		buf := make([]byte, 4)
		result.Store(int32(p.Read(cur, buf, 1, 4, 3)))
	})

	require.Eventually(t, func() bool {
		m.Tick()
		return result.Load() >= 0
	}, waitFor, time.Millisecond)
	require.Equal(t, int32(0), result.Load())

	readers, writers := p.Waiters(nil)
	require.Zero(t, readers)
	require.Zero(t, writers)
}

func TestObserveFromTask(t *testing.T) {
	_, s := startScheduler(t, 1)
	p := New(s, 8)
	require.Equal(t, 3, p.Write(nil, []byte("abc"), 3, 3, sched.NoWait))

	var buffered, readers atomic.Int32
	buffered.Store(-1)
	spawn(t, s, 3, func(cur *sched.Task) {
		r, _ := p.Waiters(cur)
		readers.Store(int32(r))
		buffered.Store(int32(p.Len(cur)))
	})

	require.Eventually(t, func() bool { return buffered.Load() >= 0 }, waitFor, time.Millisecond)
	require.Equal(t, int32(3), buffered.Load())
	require.Zero(t, readers.Load())
}
