// Package kernel contains the types and helpers shared by every kernel
// subsystem: the common error type and the byte-fill/copy primitives used
// before a heap exists. Kept dependency-free so every other package can
// import it without risking a cycle; the boot trampoline's actual entry
// point lives in kernel/kmain, which imports everything else.
package kernel

// Error describes a kernel error. All kernel errors are defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that no heap allocator is available during early boot, so we
// cannot use errors.New.
type Error struct {
	// Module is where the error occurred.
	Module string

	// Message is the error text.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
