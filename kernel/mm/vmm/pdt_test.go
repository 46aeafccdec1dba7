package vmm

import (
	"testing"

	"github.com/talonateox/vyper/kernel/mm"
)

func TestPageTableEntryFrameAndFlags(t *testing.T) {
	var e pageTableEntry

	f := mm.Frame(0x123)
	e.SetFrame(f)
	if got := e.Frame(); got != f {
		t.Fatalf("expected frame %v, got %v", f, got)
	}

	e.SetFlags(FlagPresent | FlagRW)
	if !e.HasFlags(FlagPresent) || !e.HasFlags(FlagRW) {
		t.Fatal("expected Present and RW flags to be set")
	}
	if e.HasFlags(FlagUser) {
		t.Fatal("did not expect User flag to be set")
	}

	e.ClearFlags(FlagRW)
	if e.HasFlags(FlagRW) {
		t.Fatal("expected RW flag to be cleared")
	}
	if got := e.Frame(); got != f {
		t.Fatalf("clearing flags must not disturb the frame; got %v, want %v", got, f)
	}
}

func TestIndex(t *testing.T) {
	specs := []struct {
		virt  uintptr
		level int
		want  uintptr
	}{
		{virt: 0x0000000000000000, level: 0, want: 0},
		{virt: 0xffff800000000000, level: 0, want: 256},
		{virt: 0x0000000000201000, level: 2, want: 1},
		{virt: 0x0000000000001000, level: 3, want: 1},
	}

	for _, spec := range specs {
		if got := index(spec.virt, spec.level); got != spec.want {
			t.Errorf("index(%#x, %d) = %d, want %d", spec.virt, spec.level, got, spec.want)
		}
	}
}
