package sched

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/songziming/wheel-sub001/kernel"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, prios ...int) (*ReadyQueue, []*Task) {
	t.Helper()

	var (
		tab   = new(table)
		rq    = new(ReadyQueue)
		lc    = newOutsideLocal()
		tasks []*Task
	)
	tab.init()
	rq.init(tab)

	for i, prio := range prios {
		task := &Task{name: string(rune('a' + i)), prio: prio, prev: noSlot, next: noSlot}
		require.Nil(t, tab.alloc(lc, task))
		tasks = append(tasks, task)
	}
	return rq, tasks
}

func names(tasks []*Task) []string {
	var out []string
	for _, t := range tasks {
		out = append(out, t.name)
	}
	return out
}

func TestReadyQueuePicksMostUrgent(t *testing.T) {
	rq, tasks := newTestQueue(t, 5, 1, 9)
	require.Nil(t, rq.pick())
	require.Equal(t, PriorityLevels, rq.top())

	for _, task := range tasks {
		rq.push(task)
	}
	require.NoError(t, rq.check())
	require.Equal(t, tasks[1], rq.pick())
	require.Equal(t, 1, rq.top())
	require.Equal(t, 3, rq.load())
	require.Equal(t, uint32(1<<1|1<<5|1<<9), rq.bitmap.Load())

	rq.remove(tasks[1])
	require.Equal(t, tasks[0], rq.pick())
	rq.remove(tasks[0])
	require.Equal(t, tasks[2], rq.pick())
	rq.remove(tasks[2])
	require.Nil(t, rq.pick())
	require.Zero(t, rq.bitmap.Load())
	require.NoError(t, rq.check())
}

func TestReadyQueueRotate(t *testing.T) {
	rq, tasks := newTestQueue(t, 4, 4, 4, 2)
	for _, task := range tasks[:3] {
		rq.push(task)
	}

	// Only the head of a list is rotated.
	require.False(t, rq.rotate(tasks[1]))
	require.True(t, rq.rotate(tasks[0]))
	if diff := cmp.Diff([]string{"b", "c", "a"}, names(rq.tasks(4))); diff != "" {
		t.Fatalf("unexpected order after rotation (-want +got):\n%s", diff)
	}

	// A lone task stays where it is.
	rq.push(tasks[3])
	require.False(t, rq.rotate(tasks[3]))
	require.Equal(t, tasks[3], rq.pick())
	require.NoError(t, rq.check())
}

func TestReadyQueueInvariantUnderRandomOps(t *testing.T) {
	prios := make([]int, 64)
	rng := rand.New(rand.NewSource(42))
	for i := range prios {
		prios[i] = rng.Intn(PriorityLevels)
	}
	rq, tasks := newTestQueue(t, prios...)

	for i := 0; i < 5000; i++ {
		task := tasks[rng.Intn(len(tasks))]
		switch {
		case !task.queued:
			rq.push(task)
		case rng.Intn(3) == 0:
			rq.rotate(task)
		default:
			rq.remove(task)
		}
		require.NoError(t, rq.check(), "after op %d", i)

		if pick := rq.pick(); pick != nil {
			require.Equal(t, rq.top(), pick.prio)
		}
	}
}

func TestReadyQueueMisuse(t *testing.T) {
	rq, tasks := newTestQueue(t, 3)

	specs := []struct {
		exp *kernel.Error
		fn  func()
	}{
		{errNotQueued, func() { rq.remove(tasks[0]) }},
		{errDoubleQueue, func() { rq.push(tasks[0]); rq.push(tasks[0]) }},
	}

	for specIndex, spec := range specs {
		func() {
			defer func() {
				err, ok := recover().(*kernel.Error)
				require.True(t, ok, "[spec %d] expected a kernel error panic", specIndex)
				require.Equal(t, spec.exp, err, "[spec %d]", specIndex)
			}()
			spec.fn()
		}()
	}
}
