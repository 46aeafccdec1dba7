// Package keyboard turns PS/2 scancodes into a blocking ASCII byte stream
// (spec §5: "scancodes in -> ASCII bytes in a ring buffer"; the scancode
// table itself is a supplemented feature pulled from original_source since
// the distilled spec treats it as an external collaborator's detail).
//
// No teacher equivalent exists (gopher-os has no input driver). The ring
// buffer reuses kernel/kfmt/ringbuf.go's fixed-size power-of-2 circular
// buffer shape; the scancode/shift/caps-lock state machine and the
// unshifted/shifted translation table are ported from
// original_source/vcore/src/drivers/keyboard.rs.
package keyboard

import (
	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/sync"
)

// bufferSize must be a power of 2, matching kfmt's ring buffer convention.
const bufferSize = 256

type ringBuffer struct {
	buffer [bufferSize]byte
	read   int
	write  int
}

func (rb *ringBuffer) push(c byte) {
	next := (rb.write + 1) & (bufferSize - 1)
	if next == rb.read {
		return // drop the byte: buffer full
	}
	rb.buffer[rb.write] = c
	rb.write = next
}

func (rb *ringBuffer) pop() (byte, bool) {
	if rb.read == rb.write {
		return 0, false
	}
	c := rb.buffer[rb.read]
	rb.read = (rb.read + 1) & (bufferSize - 1)
	return c, true
}

func (rb *ringBuffer) empty() bool {
	return rb.read == rb.write
}

const (
	scancodeRelease    = 0xF0
	scancodeLeftShift  = 0x12
	scancodeRightShift = 0x59
	scancodeCapsLock   = 0x58
)

type keyboard struct {
	lock sync.Spinlock

	buf ringBuffer

	shiftPressed bool
	capsLock     bool
	releaseNext  bool
}

var global keyboard

// scancodeTable maps a Set-2 make-code to its unshifted/shifted ASCII
// pair, ported verbatim (key-for-key) from
// original_source/vcore/src/drivers/keyboard.rs.
var scancodeTable = map[byte][2]byte{
	0x16: {'1', '!'},
	0x1E: {'2', '@'},
	0x26: {'3', '#'},
	0x25: {'4', '$'},
	0x2E: {'5', '%'},
	0x36: {'6', '^'},
	0x3D: {'7', '&'},
	0x3E: {'8', '*'},
	0x46: {'9', '('},
	0x45: {'0', ')'},
	0x4E: {'-', '_'},
	0x55: {'=', '+'},
	0x66: {8, 8},
	0x0D: {'\t', '\t'},

	0x15: {'q', 'Q'},
	0x1D: {'w', 'W'},
	0x24: {'e', 'E'},
	0x2D: {'r', 'R'},
	0x2C: {'t', 'T'},
	0x35: {'y', 'Y'},
	0x3C: {'u', 'U'},
	0x43: {'i', 'I'},
	0x44: {'o', 'O'},
	0x4D: {'p', 'P'},
	0x54: {'[', '{'},
	0x5B: {']', '}'},
	0x5A: {'\n', '\n'},

	0x1C: {'a', 'A'},
	0x1B: {'s', 'S'},
	0x23: {'d', 'D'},
	0x2B: {'f', 'F'},
	0x34: {'g', 'G'},
	0x33: {'h', 'H'},
	0x3B: {'j', 'J'},
	0x42: {'k', 'K'},
	0x4B: {'l', 'L'},
	0x4C: {';', ':'},
	0x52: {'\'', '"'},
	0x0E: {'`', '~'},
	0x5D: {'\\', '|'},

	0x1A: {'z', 'Z'},
	0x22: {'x', 'X'},
	0x21: {'c', 'C'},
	0x2A: {'v', 'V'},
	0x32: {'b', 'B'},
	0x31: {'n', 'N'},
	0x3A: {'m', 'M'},
	0x41: {',', '<'},
	0x49: {'.', '>'},
	0x4A: {'/', '?'},

	0x29: {' ', ' '},
}

func isLowerLetter(c byte) bool { return c >= 'a' && c <= 'z' }

func scancodeToASCII(scancode byte, shift, caps bool) (byte, bool) {
	pair, ok := scancodeTable[scancode]
	if !ok {
		return 0, false
	}

	unshifted, shifted := pair[0], pair[1]
	useShifted := shift
	if isLowerLetter(unshifted) {
		useShifted = shift != caps // xor
	}
	if useShifted {
		return shifted, true
	}
	return unshifted, true
}

// HandleScancode processes one byte off the keyboard controller's data
// port, updating shift/caps-lock state and pushing any resulting ASCII
// byte onto the ring buffer. Called from the keyboard IRQ handler
// (spec §5, keyboard IRQ vector).
func HandleScancode(scancode byte) {
	global.lock.Acquire()
	defer global.lock.Release()

	if scancode == scancodeRelease {
		global.releaseNext = true
		return
	}

	if global.releaseNext {
		global.releaseNext = false
		if scancode == scancodeLeftShift || scancode == scancodeRightShift {
			global.shiftPressed = false
		}
		return
	}

	switch scancode {
	case scancodeLeftShift, scancodeRightShift:
		global.shiftPressed = true
	case scancodeCapsLock:
		global.capsLock = !global.capsLock
	default:
		if c, ok := scancodeToASCII(scancode, global.shiftPressed, global.capsLock); ok {
			global.buf.push(c)
		}
	}
}

// ReadByte returns the next buffered ASCII byte without blocking.
func ReadByte() (byte, bool) {
	global.lock.Acquire()
	defer global.lock.Release()
	return global.buf.pop()
}

// HasInput reports whether a byte is available without consuming it.
func HasInput() bool {
	global.lock.Acquire()
	defer global.lock.Release()
	return !global.buf.empty()
}

// Read fills buf with buffered keyboard bytes, halting whenever no byte is
// buffered, and returns only once a newline has been copied (counted in
// the result) or buf is full -- the syscall 2 ("read", stdin blocks until
// newline or buffer full") contract from spec §4.7.
func Read(buf []byte) int {
	n := 0
	for n < len(buf) {
		c, ok := ReadByte()
		if !ok {
			cpu.HaltOnce()
			continue
		}
		buf[n] = c
		n++
		if c == '\n' {
			return n
		}
	}
	return n
}
