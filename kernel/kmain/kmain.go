// Package kmain brings the scheduler core up on a machine.
package kmain

import (
	"strings"

	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
	"github.com/songziming/wheel-sub001/kernel/sched"
)

// InitPriority is the priority of the first task.
const InitPriority = 8

var (
	errNoInit = &kernel.Error{Module: "kmain", Message: "no init function"}
)

// Boot creates the scheduler for arch, registers its state dump with the
// panic handler, starts every CPU and resumes an init task running initFn.
// setup, if not nil, runs before any CPU starts and may create the resources
// shared by the tasks. Boot returns once the CPUs are running.
func Boot(arch cpu.Arch, setup func(s *sched.Scheduler), initFn func(cur *sched.Task), opts ...sched.Option) (*sched.Scheduler, *kernel.Error) {
	if initFn == nil {
		return nil, errNoInit
	}

	log := kfmt.ModuleLogger("kmain")
	log.Info().
		Int("cpus", arch.CPUCount()).
		Str("features", strings.Join(cpu.Features(), ",")).
		Log("booting")

	s := sched.New(arch, opts...)
	kfmt.RegisterDiagnostic("sched", s.Dump)
	if setup != nil {
		setup(s)
	}

	initTask, err := s.Create("init", InitPriority, initFn)
	if err != nil {
		return nil, err
	}

	s.Start()
	s.Resume(nil, initTask)
	log.Debug().Uint64("tid", uint64(initTask.TID())).Log("init started")
	return s, nil
}
