package kfmt

import (
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var (
	// level holds the active logiface.Level. Events above it are dropped by
	// filterLevel so loggers created during package init follow SetLevel.
	level atomic.Int32

	rootLogger = stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(Console)),
		stumpy.L.WithLevel(logiface.LevelTrace),
		stumpy.L.WithModifier(logiface.NewModifierFunc(filterLevel)),
	).Logger()
)

func init() {
	level.Store(int32(logiface.LevelInformational))
}

func filterLevel(e *stumpy.Event) error {
	if e.Level() > logiface.Level(level.Load()) {
		return logiface.ErrDisabled
	}
	return nil
}

// SetLevel changes the level of every logger handed out by this package.
func SetLevel(l logiface.Level) {
	level.Store(int32(l))
}

// Level returns the active log level.
func Level() logiface.Level {
	return logiface.Level(level.Load())
}

// Logger returns the kernel logger. Events are encoded as JSON lines and
// written to the console.
func Logger() *logiface.Logger[logiface.Event] {
	return rootLogger
}

// ModuleLogger returns a logger that tags every event with the given module
// name.
func ModuleLogger(module string) *logiface.Logger[logiface.Event] {
	return rootLogger.Clone().Str("mod", module).Logger()
}
