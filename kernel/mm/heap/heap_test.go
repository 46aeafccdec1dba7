package heap

import (
	"testing"
	"unsafe"
)

// setupTestHeap bypasses Init's VMM mapping (there is no live page table in
// a unit test) and instead points the allocator at a plain Go-heap arena,
// exercising only the free-list bookkeeping.
func setupTestHeap(t *testing.T, size uint64) {
	t.Helper()
	arena := make([]byte, size)
	addr := uintptr(unsafe.Pointer(&arena[0]))

	initAddr = addr
	sizeBytes = size

	head := headerAt(addr)
	head.size = size - uint64(headerSize)
	head.next = nil
	freeList = head
}

func TestAllocReturnsDistinctNonOverlappingRegions(t *testing.T) {
	setupTestHeap(t, 4096)

	a, err := Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %s", err)
	}
	b, err := Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %s", err)
	}

	if a == b {
		t.Fatal("expected distinct addresses from successive Alloc calls")
	}
	if b >= a && b < a+64 {
		t.Fatal("allocations overlap")
	}
}

func TestAllocRoundsUpToEightByteAlignment(t *testing.T) {
	setupTestHeap(t, 4096)

	a, err := Alloc(1)
	if err != nil {
		t.Fatalf("Alloc failed: %s", err)
	}
	if a%8 != 0 {
		t.Fatalf("expected 8-byte aligned address, got %#x", a)
	}
}

func TestAllocExhaustion(t *testing.T) {
	setupTestHeap(t, 128)

	if _, err := Alloc(256); err == nil {
		t.Fatal("expected Alloc to fail when requested size exceeds the window")
	}
}

func TestFreeThenAllocReusesSpace(t *testing.T) {
	setupTestHeap(t, 256)

	a, err := Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %s", err)
	}

	if err := Free(a); err != nil {
		t.Fatalf("Free failed: %s", err)
	}

	b, err := Alloc(64)
	if err != nil {
		t.Fatalf("Alloc after Free failed: %s", err)
	}
	if a != b {
		t.Fatalf("expected Free'd block to be reused; got %#x, want %#x", b, a)
	}
}

func TestFreeRejectsForeignPointer(t *testing.T) {
	setupTestHeap(t, 256)

	if err := Free(initAddr - 8); err == nil {
		t.Fatal("expected Free to reject a pointer outside the heap window")
	}
}

func TestSizeKiB(t *testing.T) {
	setupTestHeap(t, 2048)
	if got := SizeKiB(); got != 2 {
		t.Fatalf("SizeKiB() = %d, want 2", got)
	}
}
