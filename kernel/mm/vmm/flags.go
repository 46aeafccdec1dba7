package vmm

// PageTableEntryFlag is a bitmask of flags recognized by a 4-level x86-64
// page-table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent marks the entry as present (installed).
	FlagPresent = PageTableEntryFlag(1 << 0)
	// FlagRW marks the page as writable; absent, the page is read-only.
	FlagRW = PageTableEntryFlag(1 << 1)
	// FlagUser allows ring-3 access to the page; absent, only ring 0 can
	// access it.
	FlagUser = PageTableEntryFlag(1 << 2)
	// FlagNoCache disables caching for the page (PCD); used for MMIO
	// windows like the LAPIC/IOAPIC registers (spec §4.4) where a stale
	// cached read would hide a device register update.
	FlagNoCache = PageTableEntryFlag(1 << 4)
	// FlagHugePage marks a PD or PDPT entry as a leaf (2MiB/1GiB) page.
	// This kernel never installs huge pages itself but recognizes the
	// flag on walks so it can reject attempts to descend through one.
	FlagHugePage = PageTableEntryFlag(1 << 7)
	// FlagNoExecute forbids instruction fetches from the page.
	FlagNoExecute = PageTableEntryFlag(1 << 63)
)
