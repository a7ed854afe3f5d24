package kernel

// Error describes a kernel error. Kernel errors are defined as package-level
// pointers to Error so they can be compared by identity and raised from code
// paths that must not allocate (interrupt handlers, spinlock holders).
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed with the module that raised it.
func (e *Error) String() string {
	if e.Module == "" {
		return e.Message
	}
	return "[" + e.Module + "] " + e.Message
}
