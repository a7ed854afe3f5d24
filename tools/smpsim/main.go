// Command smpsim boots the scheduler core on a hosted machine and runs the
// workload described by a TOML scenario, then prints per-CPU and per-task
// statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/hal"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/kmain"
	"github.com/songziming/wheel-sub001/kernel/sched"
)

var errIncomplete = errors.New("workload did not complete before the deadline")

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[smpsim] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	var (
		scenarioFile = flag.String("scenario", "", "path to the TOML scenario to run")
		cpus         = flag.Int("cpus", 0, "override the number of CPUs")
		logLevel     = flag.String("log-level", "", "override the log level")
		limit        = flag.Duration("duration", 0, "override the run deadline")
	)
	flag.Parse()

	if *scenarioFile == "" {
		exit(errors.New("missing -scenario"))
	}

	f, err := os.Open(*scenarioFile)
	if err != nil {
		exit(err)
	}
	sc, err := loadScenario(f)
	f.Close()
	if err != nil {
		exit(fmt.Errorf("%s: %w", *scenarioFile, err))
	}

	if *cpus != 0 {
		sc.CPUs = *cpus
	}
	if *logLevel != "" {
		sc.LogLevel = *logLevel
	}
	if *limit != 0 {
		sc.Duration.Duration = *limit
	}
	if err := sc.validate(); err != nil {
		exit(err)
	}

	kfmt.SetOutputSink(os.Stderr)
	if err := run(context.Background(), sc, os.Stdout); err != nil {
		exit(err)
	}
}

// result is what a finished run reports.
type result struct {
	stats   sched.Stats
	ticks   uint64
	elapsed time.Duration
}

// run boots a machine for sc, runs the workload to completion and writes the
// report to out.
func run(ctx context.Context, sc *scenario, out io.Writer) error {
	w, res, err := simulate(ctx, sc)
	if err != nil {
		return err
	}
	report(out, sc, w, res)
	return nil
}

func simulate(ctx context.Context, sc *scenario) (*workload, *result, error) {
	level, err := parseLevel(sc.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	kfmt.SetLevel(level)

	opts := []sched.Option{
		sched.WithTimerCPU(sc.TimerCPU),
		sched.WithLogger(kfmt.ModuleLogger("sched").Clone().Str("sim", "smpsim").Logger()),
	}
	if sc.TimeSlice > 0 {
		opts = append(opts, sched.WithTimeSlice(sc.TimeSlice))
	}

	w := newWorkload(sc)
	opts = append(opts, sched.WithTickHook(w.tickHook))

	m := hal.NewMachine(sc.CPUs)
	start := time.Now()
	s, kerr := kmain.Boot(m, w.bind, w.init, opts...)
	if kerr != nil {
		return nil, nil, kerr
	}

	ctx, cancel := context.WithTimeout(ctx, sc.Duration.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := m.Run(gctx, sc.Tick.Duration)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-w.done:
			return nil
		case <-gctx.Done():
			return errIncomplete
		}
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return w, &result{
		stats:   s.Stats(),
		ticks:   m.Ticks(),
		elapsed: time.Since(start),
	}, nil
}

func report(out io.Writer, sc *scenario, w *workload, res *result) {
	fmt.Fprintf(out, "cpus: %d  ticks: %d  elapsed: %s\n", sc.CPUs, res.ticks, res.elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "host features: %s\n\n", strings.Join(cpu.Features(), " "))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CPU\tSWITCHES\tTICKS\tLOAD")
	for _, c := range res.stats.CPUs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", c.CPU, c.Switches, c.Ticks, c.Load)
	}
	tw.Flush()
	fmt.Fprintln(out)

	fmt.Fprintln(tw, "TID\tTASK\tPRIO\tSTATE\tCPU\tDISPATCHES")
	for _, t := range res.stats.Tasks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\t%d\n", t.TID, t.Name, t.Priority, t.State, t.LastCPU, t.Dispatches)
	}
	tw.Flush()
	fmt.Fprintln(out)

	st := &w.stats
	fmt.Fprintf(out, "pipe: written=%d read=%d forced=%d\n", st.bytesWritten.Load(), st.bytesRead.Load(), st.forced.Load())
	fmt.Fprintf(out, "semaphore: given=%d granted=%d\n", st.given.Load(), st.granted.Load())
	fmt.Fprintf(out, "timeouts=%d sleeps=%d spins=%d\n", st.timedOut.Load(), st.sleeps.Load(), st.spins.Load())
}
