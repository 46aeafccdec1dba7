package keyboard

import "testing"

func resetGlobal() {
	global = keyboard{}
}

func TestScancodeToASCIIUnshifted(t *testing.T) {
	c, ok := scancodeToASCII(0x1C, false, false) // 'a'
	if !ok || c != 'a' {
		t.Fatalf("scancodeToASCII(a) = %q, %v, want 'a', true", c, ok)
	}
}

func TestScancodeToASCIIShiftedLetter(t *testing.T) {
	c, ok := scancodeToASCII(0x1C, true, false)
	if !ok || c != 'A' {
		t.Fatalf("scancodeToASCII(a, shift) = %q, %v, want 'A', true", c, ok)
	}
}

func TestScancodeToASCIICapsLockXorShift(t *testing.T) {
	// caps lock alone uppercases, caps+shift lowercases (xor), matching
	// the original's shift ^ caps rule.
	c, _ := scancodeToASCII(0x1C, false, true)
	if c != 'A' {
		t.Errorf("caps alone = %q, want 'A'", c)
	}
	c, _ = scancodeToASCII(0x1C, true, true)
	if c != 'a' {
		t.Errorf("caps+shift = %q, want 'a'", c)
	}
}

func TestScancodeToASCIICapsLockDoesNotAffectDigits(t *testing.T) {
	c, _ := scancodeToASCII(0x16, false, true) // '1'
	if c != '1' {
		t.Errorf("digit under caps lock = %q, want '1' (unaffected)", c)
	}
	c, _ = scancodeToASCII(0x16, true, true)
	if c != '!' {
		t.Errorf("shifted digit under caps lock = %q, want '!'", c)
	}
}

func TestScancodeToASCIIUnknown(t *testing.T) {
	if _, ok := scancodeToASCII(0xFF, false, false); ok {
		t.Error("expected unknown scancode to report ok=false")
	}
}

func TestHandleScancodePushesASCII(t *testing.T) {
	resetGlobal()
	HandleScancode(0x1C) // 'a'

	c, ok := ReadByte()
	if !ok || c != 'a' {
		t.Fatalf("ReadByte = %q, %v, want 'a', true", c, ok)
	}
}

func TestHandleScancodeShiftSequence(t *testing.T) {
	resetGlobal()

	HandleScancode(scancodeLeftShift)
	HandleScancode(0x1C) // shifted 'a' -> 'A'
	HandleScancode(scancodeRelease)
	HandleScancode(scancodeLeftShift)
	HandleScancode(0x1C) // shift released -> 'a'

	first, _ := ReadByte()
	second, _ := ReadByte()
	if first != 'A' || second != 'a' {
		t.Fatalf("got %q, %q, want 'A', 'a'", first, second)
	}
}

func TestHandleScancodeCapsLockToggles(t *testing.T) {
	resetGlobal()

	HandleScancode(scancodeCapsLock)
	HandleScancode(0x1C)
	HandleScancode(scancodeCapsLock)
	HandleScancode(0x1C)

	upper, _ := ReadByte()
	lower, _ := ReadByte()
	if upper != 'A' || lower != 'a' {
		t.Fatalf("got %q, %q, want 'A', 'a'", upper, lower)
	}
}

func TestHasInputReflectsBufferState(t *testing.T) {
	resetGlobal()
	if HasInput() {
		t.Fatal("expected empty buffer on reset")
	}
	HandleScancode(0x1C)
	if !HasInput() {
		t.Fatal("expected HasInput after a scancode was handled")
	}
	ReadByte()
	if HasInput() {
		t.Fatal("expected HasInput false after draining the buffer")
	}
}

func TestRingBufferWrapsAndDropsWhenFull(t *testing.T) {
	var rb ringBuffer
	for i := 0; i < bufferSize+10; i++ {
		rb.push(byte(i))
	}

	count := 0
	for {
		if _, ok := rb.pop(); !ok {
			break
		}
		count++
	}

	if count != bufferSize-1 {
		t.Fatalf("drained %d bytes, want %d (one slot always kept empty)", count, bufferSize-1)
	}
}
