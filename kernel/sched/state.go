package sched

import "strings"

// State is a bitmask of the reasons a task is not runnable. A task is
// runnable only when its state is Ready.
type State uint32

const (
	// Ready is the state of a runnable (or running) task.
	Ready State = 0

	// Pending is set while a task waits on a blocking resource.
	Pending State = 1 << (iota - 1)

	// Stopped is set by Suspend and cleared by Resume.
	Stopped

	// Waiting is set while a task sleeps.
	Waiting

	// Zombie is set on exit. It is never cleared.
	Zombie
)

var stateNames = []struct {
	bit  State
	name string
}{
	{Pending, "pending"},
	{Stopped, "stopped"},
	{Waiting, "waiting"},
	{Zombie, "zombie"},
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s == Ready {
		return "ready"
	}

	var names []string
	for _, n := range stateNames {
		if s&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}
