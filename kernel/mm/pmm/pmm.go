// Package pmm implements the kernel's physical memory manager: a single
// bitmap over every physical frame below the highest address reported by
// the bootloader memory map (spec §4.1). This generalizes the teacher's
// multi-pool BitmapAllocator (kernel/mem/pmm/allocator/bitmap_allocator.go)
// down to the flat single-bitmap design spec.md's invariants call for.
package pmm

import (
	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/hal/boot"
	"github.com/talonateox/vyper/kernel/mm"
	"github.com/talonateox/vyper/kernel/sync"
)

var (
	errOutOfMemory = &kernel.Error{Module: "pmm", Message: "no free frames remaining"}

	// global is the singleton bitmap allocator used by the kernel once
	// Init has run.
	global BitmapAllocator
)

// BitmapAllocator tracks free/used physical frames with one bit per frame:
// bit set means the frame is in use. The whole allocator is guarded by a
// single spinlock (spec §4.1: "a single mutex guards the whole allocator").
type BitmapAllocator struct {
	lock sync.Spinlock

	bitmap    []uint64
	numFrames uint64
	freeCount uint64
}

// Init builds the bitmap sized to highest_physical_address/4096 bits,
// marks every byte of it all-ones (used) and clears the bit range for each
// usable region reported by the bootloader. The bitmap's own backing
// storage is not marked used in it. It registers itself as the active
// mm.FrameAllocator.
func Init() *kernel.Error {
	var highest uintptr
	boot.VisitMemRegions(func(e *boot.MemoryMapEntry) bool {
		if end := e.Base + e.Length; end > highest {
			highest = end
		}
		return true
	})

	numFrames := uint64(highest) >> mm.PageShift
	words := (numFrames + 63) / 64

	// The bitmap itself is backed by a plain Go slice allocated with
	// make; no physical frame range is set aside for it.
	bitmap := make([]uint64, words)
	for i := range bitmap {
		bitmap[i] = ^uint64(0)
	}

	global = BitmapAllocator{bitmap: bitmap, numFrames: numFrames}

	boot.VisitMemRegions(func(e *boot.MemoryMapEntry) bool {
		if e.Type != boot.MemUsable {
			return true
		}
		global.markRange(e.Base, e.Length, markFree)
		return true
	})

	// The frames under the bitmap slice's len(bitmap)*8 bytes are not
	// re-marked used: only the memory map's usable ranges are applied.
	mm.SetFrameAllocator(global.AllocFrame)
	mm.SetFrameDeallocator(global.FreeFrame)

	return nil
}

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

// markRange flags every frame covered by [base, base+length) according to
// how.
func (a *BitmapAllocator) markRange(base, length uintptr, how markAs) {
	startFrame := uint64(base) >> mm.PageShift
	endFrame := uint64(base+length) >> mm.PageShift
	for f := startFrame; f < endFrame && f < a.numFrames; f++ {
		word, bit := f/64, f%64
		wasSet := a.bitmap[word]&(1<<bit) != 0
		switch how {
		case markFree:
			if wasSet {
				a.bitmap[word] &^= 1 << bit
				a.freeCount++
			}
		case markReserved:
			if !wasSet {
				a.bitmap[word] |= 1 << bit
				a.freeCount--
			}
		}
	}
}

// AllocFrame performs a linear scan for the first clear bit, sets it and
// returns the corresponding physical frame. Returns errOutOfMemory if no
// frame is free.
func (a *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	for word := range a.bitmap {
		if a.bitmap[word] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			frameIndex := uint64(word)*64 + uint64(bit)
			if frameIndex >= a.numFrames {
				break
			}
			if a.bitmap[word]&(1<<uint(bit)) == 0 {
				a.bitmap[word] |= 1 << uint(bit)
				a.freeCount--
				return mm.Frame(frameIndex), nil
			}
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame clears the bit for frame if it is currently set, incrementing
// the free-page count. Freeing an already-free frame is silently ignored
// (spec §4.1: "defensive double-free").
func (a *BitmapAllocator) FreeFrame(f mm.Frame) {
	a.lock.Acquire()
	defer a.lock.Release()

	frameIndex := uint64(f)
	if frameIndex >= a.numFrames {
		return
	}

	word, bit := frameIndex/64, frameIndex%64
	if a.bitmap[word]&(1<<bit) == 0 {
		return
	}

	a.bitmap[word] &^= 1 << bit
	a.freeCount++
}

// FreePages returns the number of frames currently available for
// allocation.
func (a *BitmapAllocator) FreePages() uint64 {
	a.lock.Acquire()
	defer a.lock.Release()
	return a.freeCount
}

// AllocFrame allocates a physical frame using the global allocator.
func AllocFrame() (mm.Frame, *kernel.Error) { return global.AllocFrame() }

// FreeFrame returns a physical frame to the global allocator.
func FreeFrame(f mm.Frame) { global.FreeFrame(f) }

// FreePages returns the number of frames currently free in the global
// allocator.
func FreePages() uint64 { return global.FreePages() }
