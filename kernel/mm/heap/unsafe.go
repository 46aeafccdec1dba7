package heap

import "unsafe"

func ptrAt(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

func addrOf(b *blockHeader) uintptr {
	return uintptr(unsafe.Pointer(b))
}
