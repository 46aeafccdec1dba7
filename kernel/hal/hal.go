// Package hal wires whatever output sink the bootloader handoff provides
// into the kernel's formatting layers. The framebuffer terminal and font
// rasterization that would normally sit behind this sink are external
// collaborators (see spec's scope notes): this package only assumes a
// write_bytes([]byte) contract and forwards it to kfmt.
package hal

import (
	"io"

	"github.com/talonateox/vyper/kernel/kfmt"
)

// discardSink swallows all writes; it is installed until InitTerminal
// attaches a real sink so that calls to Printf never crash on a nil writer.
type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }

// ActiveTerminal is the currently active output sink. Until InitTerminal is
// called it discards everything written to it.
var ActiveTerminal io.Writer = discardSink{}

// InitTerminal installs sink as the active terminal and forwards it to kfmt
// so that Printf output (and any buffered early output) is flushed there.
func InitTerminal(sink io.Writer) {
	ActiveTerminal = sink
	kfmt.SetOutputSink(sink)
}
