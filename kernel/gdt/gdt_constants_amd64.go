package gdt

// Selector indices, in GDT order. User data precedes user code (spec §4.4)
// so that a single STAR base selects both pairs correctly for SYSCALL and
// SYSRET: STAR[47:32] = KernelCS and SS=KernelCS+8=KernelDS for SYSCALL;
// STAR[63:48] = KernelDS and (that+16)|3 = UserCS, (that+8)|3 = UserDS for
// SYSRET. Cross-checked against original_source/vcore/src/cpu/syscall.rs's
// use of x86_64::registers::model_specific::Star, which encodes the same
// convention under the hood.
const (
	nullIndex = iota
	kernelCodeIndex
	kernelDataIndex
	userDataIndex
	userCodeIndex
	tssIndexLow
	tssIndexHigh // the TSS descriptor occupies two 8-byte slots
	entryCount
)

const (
	selectorSize = 8

	// KernelCS/KernelDS/UserCS/UserDS are the segment selectors installed
	// by Init, ready to load into CS/DS/SS or to hand to syscall MSR
	// setup. User selectors carry RPL=3.
	KernelCS = uint16(kernelCodeIndex * selectorSize)
	KernelDS = uint16(kernelDataIndex * selectorSize)
	UserDS   = uint16(userDataIndex*selectorSize) | 3
	UserCS   = uint16(userCodeIndex*selectorSize) | 3
	TSSSel   = uint16(tssIndexLow * selectorSize)
)

const (
	accessPresent  = 0x80
	accessDPL3     = 0x60
	accessSegment  = 0x10 // S bit: code/data, not a system descriptor
	accessExec     = 0x08
	accessRW       = 0x02
	accessTSSAvail = 0x09 // type=9: 64-bit TSS (available)

	kernelCodeAccess = accessPresent | accessSegment | accessExec | accessRW
	kernelDataAccess = accessPresent | accessSegment | accessRW
	userDataAccess   = accessPresent | accessDPL3 | accessSegment | accessRW
	userCodeAccess   = accessPresent | accessDPL3 | accessSegment | accessExec | accessRW
	tssAccess        = accessPresent | accessTSSAvail

	// Granularity nibble (high 4 bits of the granularity byte): G | D/B | L
	// | AVL. Code segments set L (long mode); data segments set D/B
	// instead, matching the conventional flat 64-bit GDT layout.
	codeGranularity = 0xA0 // G=1, L=1
	dataGranularity = 0xC0 // G=1, D/B=1
	tssGranularity  = 0x00

	limitHighNibble = 0x0F // flat segment: 20-bit limit, all set
)

// ist0StackSize is the size of the IST[0] stack used for double-fault
// (spec §4.4). Sized generously since double-fault has no room to recover
// from a further fault on a near-exhausted stack.
const ist0StackSize = 4096 * 4
