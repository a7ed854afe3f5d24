package kfmt

import (
	"io"
	"sync"

	"github.com/songziming/wheel-sub001/kernel"
)

var (
	// cpuHaltFn is mocked by tests. Hosted builds have no halt instruction;
	// the Go panic raised once it returns takes the process down with a
	// nonzero exit status.
	cpuHaltFn = func() {}

	errSystemHalted = &kernel.Error{Module: "kfmt", Message: "system halted"}

	diagMu      sync.Mutex
	diagnostics []diagnostic
)

type diagnostic struct {
	name string
	dump func(io.Writer)
}

// RegisterDiagnostic registers a function that dumps subsystem state when
// the kernel panics. Each line written by dump is prefixed with the name. A
// later registration under the same name replaces the earlier one.
func RegisterDiagnostic(name string, dump func(io.Writer)) {
	diagMu.Lock()
	defer diagMu.Unlock()

	for i := range diagnostics {
		if diagnostics[i].name == name {
			diagnostics[i].dump = dump
			return
		}
	}
	diagnostics = append(diagnostics, diagnostic{name: name, dump: dump})
}

// Panic outputs the supplied error (if not nil) to the console, dumps the
// state of every registered subsystem and halts the CPU. Calls to Panic never
// return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: "rt", Message: t}
	case error:
		err = &kernel.Error{Module: "rt", Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}

	diagMu.Lock()
	dumps := append([]diagnostic(nil), diagnostics...)
	diagMu.Unlock()

	for _, d := range dumps {
		w := PrefixWriter{Sink: Console, Prefix: []byte("[" + d.name + "] ")}
		d.dump(&w)
	}

	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()

	if err == nil {
		err = errSystemHalted
	}
	panic(err)
}
