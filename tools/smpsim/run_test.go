package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/stretchr/testify/require"
)

func mustScenario(t *testing.T, input string) *scenario {
	t.Helper()

	sc, err := loadScenario(strings.NewReader(input))
	require.NoError(t, err)
	return sc
}

func quietConsole(t *testing.T) {
	t.Helper()

	prev := kfmt.GetOutputSink()
	kfmt.SetOutputSink(io.Discard)
	t.Cleanup(func() { kfmt.SetOutputSink(prev) })
}

func TestSimulateWorkload(t *testing.T) {
	quietConsole(t)

	sc := mustScenario(t, `
cpus = 2
duration = "20s"
time_slice = 2
log_level = "err"

[pipe]
capacity = 16

[[task]]
kind = "producer"
priority = 6
iterations = 20
bytes = 8
timeout = -1

[[task]]
kind = "consumer"
priority = 5
count = 2
iterations = 10
bytes = 8
timeout = -1

[[task]]
kind = "giver"
priority = 4
iterations = 6
units = 2
ticks = 1

[[task]]
kind = "taker"
priority = 3
count = 3
iterations = 2
units = 2
timeout = -1

[[task]]
kind = "sleeper"
iterations = 2
ticks = 2

[[task]]
kind = "spinner"
priority = 10
count = 2
iterations = 100
`)

	w, res, err := simulate(context.Background(), sc)
	require.NoError(t, err)

	st := &w.stats
	require.EqualValues(t, 160, st.bytesWritten.Load())
	require.EqualValues(t, 160, st.bytesRead.Load())
	require.EqualValues(t, 12, st.given.Load())
	require.EqualValues(t, 6, st.granted.Load())
	require.EqualValues(t, 2, st.sleeps.Load())
	require.EqualValues(t, 200, st.spins.Load())
	require.Zero(t, st.timedOut.Load())

	require.Len(t, res.stats.CPUs, 2)
	require.GreaterOrEqual(t, res.ticks, uint64(2))
}

func TestSimulateForcedWrites(t *testing.T) {
	quietConsole(t)

	sc := mustScenario(t, `
cpus = 1
log_level = "err"

[pipe]
capacity = 8
tick_bytes = 3

[[task]]
kind = "sleeper"
iterations = 3
ticks = 2
`)

	w, _, err := simulate(context.Background(), sc)
	require.NoError(t, err)
	require.Positive(t, w.stats.forced.Load())
	require.LessOrEqual(t, w.pipe.Len(nil), 8)
}

func TestSimulateIncomplete(t *testing.T) {
	quietConsole(t)

	sc := mustScenario(t, `
cpus = 1
duration = "50ms"
log_level = "err"

[[task]]
kind = "taker"
units = 1
timeout = -1
`)

	_, _, err := simulate(context.Background(), sc)
	require.Equal(t, errIncomplete, err)
}

func TestRunReport(t *testing.T) {
	quietConsole(t)

	sc := mustScenario(t, `
cpus = 2
log_level = "err"

[[task]]
kind = "spinner"
count = 2
iterations = 10
`)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), sc, &out))

	for _, exp := range []string{"cpus: 2", "SWITCHES", "DISPATCHES", "idle", "spins=20"} {
		require.Contains(t, out.String(), exp)
	}
}
