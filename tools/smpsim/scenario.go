package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/logiface"
)

// Task kinds understood by the simulator.
const (
	kindProducer = "producer"
	kindConsumer = "consumer"
	kindGiver    = "giver"
	kindTaker    = "taker"
	kindSleeper  = "sleeper"
	kindSpinner  = "spinner"
)

// duration decodes TOML strings such as "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// scenario describes a simulated machine and the workload run on it.
type scenario struct {
	CPUs      int      `toml:"cpus"`
	Tick      duration `toml:"tick"`
	Duration  duration `toml:"duration"`
	TimeSlice int      `toml:"time_slice"`
	TimerCPU  int      `toml:"timer_cpu"`
	LogLevel  string   `toml:"log_level"`

	Semaphore struct {
		Value int `toml:"value"`
		Limit int `toml:"limit"`
	} `toml:"semaphore"`

	Pipe struct {
		Capacity int `toml:"capacity"`

		// TickBytes bytes are force-written into the pipe from the
		// timer interrupt on every tick. Forced writes overwrite unread
		// data, so they cannot be combined with producer or consumer
		// tasks.
		TickBytes int `toml:"tick_bytes"`
	} `toml:"pipe"`

	Tasks []taskSpec `toml:"task"`
}

// taskSpec describes a group of identical tasks.
type taskSpec struct {
	Name       string `toml:"name"`
	Kind       string `toml:"kind"`
	Priority   int    `toml:"priority"`
	Count      int    `toml:"count"`
	Iterations int    `toml:"iterations"`
	Bytes      int    `toml:"bytes"`
	Units      int    `toml:"units"`
	Ticks      int    `toml:"ticks"`
	Timeout    int    `toml:"timeout"`
}

var errNoTasks = errors.New("scenario defines no tasks")

// loadScenario decodes a scenario, applies defaults and validates it.
func loadScenario(r io.Reader) (*scenario, error) {
	sc := &scenario{
		CPUs:     2,
		Tick:     duration{time.Millisecond},
		Duration: duration{10 * time.Second},
		LogLevel: "info",
	}
	sc.Semaphore.Limit = 16
	sc.Pipe.Capacity = 256

	md, err := toml.NewDecoder(r).Decode(sc)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("unknown scenario keys: %v", undecoded)
	}

	for i := range sc.Tasks {
		ts := &sc.Tasks[i]
		if ts.Count == 0 {
			ts.Count = 1
		}
		if ts.Iterations == 0 {
			ts.Iterations = 1
		}
		if ts.Name == "" {
			ts.Name = ts.Kind
		}
	}
	return sc, sc.validate()
}

func (sc *scenario) validate() error {
	switch {
	case sc.CPUs < 1 || sc.CPUs > 64:
		return fmt.Errorf("cpus must be in [1, 64]; got %d", sc.CPUs)
	case sc.Tick.Duration <= 0:
		return errors.New("tick must be positive")
	case sc.TimerCPU < 0 || sc.TimerCPU >= sc.CPUs:
		return fmt.Errorf("timer_cpu %d out of range", sc.TimerCPU)
	case sc.Semaphore.Limit <= 0 || sc.Semaphore.Value < 0 || sc.Semaphore.Value > sc.Semaphore.Limit:
		return errors.New("semaphore value must be in [0, limit] with a positive limit")
	case sc.Pipe.Capacity <= 0:
		return errors.New("pipe capacity must be positive")
	case sc.Pipe.TickBytes < 0:
		return errors.New("pipe tick_bytes must not be negative")
	case len(sc.Tasks) == 0:
		return errNoTasks
	}

	if _, err := parseLevel(sc.LogLevel); err != nil {
		return err
	}

	for _, ts := range sc.Tasks {
		if ts.Priority < 0 || ts.Priority > 31 {
			return fmt.Errorf("task %q: priority must be in [0, 31]", ts.Name)
		}
		if ts.Count < 0 || ts.Iterations < 0 {
			return fmt.Errorf("task %q: count and iterations must not be negative", ts.Name)
		}

		switch ts.Kind {
		case kindProducer, kindConsumer:
			if sc.Pipe.TickBytes > 0 {
				return fmt.Errorf("task %q: pipe tasks cannot run with tick_bytes", ts.Name)
			}
			if ts.Bytes <= 0 || ts.Bytes > sc.Pipe.Capacity {
				return fmt.Errorf("task %q: bytes must be in [1, pipe capacity]", ts.Name)
			}
		case kindGiver, kindTaker:
			if ts.Units <= 0 || ts.Units > sc.Semaphore.Limit {
				return fmt.Errorf("task %q: units must be in [1, semaphore limit]", ts.Name)
			}
		case kindSleeper:
			if ts.Ticks <= 0 {
				return fmt.Errorf("task %q: ticks must be positive", ts.Name)
			}
		case kindSpinner:
		default:
			return fmt.Errorf("task %q: unknown kind %q", ts.Name, ts.Kind)
		}
	}
	return nil
}

// parseLevel maps a level name as printed by logiface back to its value.
func parseLevel(name string) (logiface.Level, error) {
	for l := logiface.LevelDisabled; l <= logiface.LevelTrace; l++ {
		if l.String() == strings.ToLower(name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}
