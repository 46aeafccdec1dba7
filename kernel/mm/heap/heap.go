// Package heap implements the kernel's dynamic allocator: a first-fit
// linked-list allocator over a fixed virtual window mapped by the VMM at
// init (spec §4.3). It generalizes the teacher's bump-reserve idiom
// (kernel/mm/vmm/addr_space.go's EarlyReserveRegion) with a real free-list
// so memory handed out by Alloc can later be returned by Free, matching
// original_source/vcore/src/mem/heap.rs's HEAP_START/HEAP_SIZE/init shape
// (there backed by the linked_list_allocator crate; here hand-rolled since
// no such crate exists for freestanding Go).
package heap

import (
	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/mm"
	"github.com/talonateox/vyper/kernel/mm/vmm"
	"github.com/talonateox/vyper/kernel/sync"
)

const (
	// windowStart is the kernel-half virtual address the heap window
	// begins at. PML4 index (windowStart>>39)&0x1ff must fall in 256..511
	// so it lands in the shared kernel half of every AddressSpace.
	windowStart = uintptr(0xffff808000000000)
	// windowSize is the heap's total virtual footprint (spec §4.3: "e.g.
	// 1 MiB").
	windowSize = 1024 * 1024
)

var (
	errOutOfMemory = &kernel.Error{Module: "heap", Message: "no free block large enough"}
	errBadPointer  = &kernel.Error{Module: "heap", Message: "pointer was not returned by Alloc"}

	lock      sync.Spinlock
	freeList  *blockHeader
	initAddr  uintptr
	sizeBytes uint64
)

// blockHeader precedes every free block in the list. Allocated blocks carry
// only their size, recovered by reading the header word immediately before
// the address returned to the caller.
type blockHeader struct {
	size uint64
	next *blockHeader
}

const headerSize = uintptr(16) // two 8-byte fields once laid out at addr

// Init maps windowSize bytes of writable, no-execute memory starting at
// windowStart into the kernel address space and initializes the free list
// to span the whole window as one block.
func Init(kernelSpace *vmm.AddressSpace) *kernel.Error {
	flags := vmm.FlagRW | vmm.FlagNoExecute

	pages := (uintptr(windowSize) + mm.PageSize - 1) / mm.PageSize
	for i := uintptr(0); i < pages; i++ {
		page := mm.PageFromAddress(windowStart + i*mm.PageSize)
		if _, err := kernelSpace.MapAlloc(page, flags); err != nil {
			return err
		}
	}

	initAddr = windowStart
	sizeBytes = uint64(windowSize)

	head := headerAt(windowStart)
	head.size = uint64(windowSize) - uint64(headerSize)
	head.next = nil
	freeList = head

	return nil
}

// SizeKiB returns the heap's total capacity in KiB, matching
// original_source/vcore/src/mem/heap.rs's size() helper.
func SizeKiB() uint64 {
	return sizeBytes / 1024
}

func headerAt(addr uintptr) *blockHeader {
	return (*blockHeader)(ptrAt(addr))
}

// Alloc reserves size bytes (rounded up to 8-byte alignment) from the heap
// window using a first-fit scan of the free list, splitting the chosen
// block if the remainder is large enough to hold another header plus at
// least 8 bytes.
func Alloc(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		size = 8
	}
	size = (size + 7) &^ 7

	lock.Acquire()
	defer lock.Release()

	var prev *blockHeader
	node := freeList
	for node != nil {
		if uintptr(node.size) >= size {
			addr := addrOf(node) + headerSize
			remaining := uintptr(node.size) - size

			if remaining >= headerSize+8 {
				splitAddr := addr + size
				split := headerAt(splitAddr)
				split.size = uint64(remaining - headerSize)
				split.next = node.next
				node.size = uint64(size)

				if prev == nil {
					freeList = split
				} else {
					prev.next = split
				}
			} else {
				if prev == nil {
					freeList = node.next
				} else {
					prev.next = node.next
				}
			}

			return addr, nil
		}
		prev = node
		node = node.next
	}

	return 0, errOutOfMemory
}

// Free returns a block previously obtained from Alloc to the free list. The
// freed block is inserted at the head of the list; adjacent blocks are not
// coalesced (matches the scope of a minimal kernel allocator: fragmentation
// is bounded by the 1 MiB window and the scheduler's allocation patterns
// are coarse-grained).
func Free(addr uintptr) *kernel.Error {
	if addr < initAddr+headerSize || addr >= initAddr+uintptr(sizeBytes) {
		return errBadPointer
	}

	lock.Acquire()
	defer lock.Release()

	header := headerAt(addr - headerSize)
	header.next = freeList
	freeList = header
	return nil
}
