// Package kfmt provides the kernel console: an output sink that buffers early
// output, a structured logger writing to it and the Panic handler.
package kfmt

import (
	"fmt"
	"io"
	"sync"
)

var (
	// sinkMu serializes writes to the console. Output produced by several
	// CPUs is interleaved at write granularity.
	sinkMu sync.Mutex

	// earlyPrintBuffer is a ring buffer that stores console output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where console output is sent. If set to nil,
	// then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// Console is an io.Writer forwarding to the active output sink.
	Console io.Writer = consoleWriter{}
)

type consoleWriter struct{}

// Write implements io.Writer.
func (consoleWriter) Write(p []byte) (int, error) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}

// SetOutputSink sets the target for console output to w and copies any data
// accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current target for console output.
func GetOutputSink() io.Writer {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	return outputSink
}

// Printf formats according to a format specifier and writes to the console.
func Printf(format string, args ...interface{}) {
	fmt.Fprintf(Console, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
