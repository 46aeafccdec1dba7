// Package kmain wires every kernel subsystem together: the single Go
// symbol the boot trampoline calls. It lives in its own package, not in
// the root kernel package, because it is the one piece of code that needs
// to import every subsystem at once (PMM, VMM, heap, GDT/IDT, the mounted
// filesystems, the scheduler) while those subsystems only ever import the
// root kernel package for its Error type -- putting Kmain there would make
// kernel import its own importers.
//
// Grounded on gopher-os's kernel/kmain/kmain.go: same chained
// if err = X; err != nil { panic(err) } else if err = Y... init sequence,
// same "not expected to return" framing and kfmt.Panic guard against the
// compiler eliminating Kmain as dead code if it somehow does.
package kmain

import (
	"github.com/talonateox/vyper/device/ata"
	"github.com/talonateox/vyper/device/keyboard"
	vfs "github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/fs/fat32"
	"github.com/talonateox/vyper/fs/partition"
	"github.com/talonateox/vyper/fs/tasksfs"
	"github.com/talonateox/vyper/fs/tmpfs"
	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/apic"
	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/gate"
	"github.com/talonateox/vyper/kernel/gdt"
	"github.com/talonateox/vyper/kernel/kfmt"
	"github.com/talonateox/vyper/kernel/mm/heap"
	"github.com/talonateox/vyper/kernel/mm/pmm"
	"github.com/talonateox/vyper/kernel/mm/vmm"
	"github.com/talonateox/vyper/kernel/sched"
	"github.com/talonateox/vyper/kernel/syscall"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// initPath is where Kmain looks for the first user task once the root
	// filesystem is mounted. cmd/mkvyperimg always stamps a binary here,
	// real or placeholder, so an image built by that tool always has
	// something for SpawnELF to load.
	initPath = "/bin/shell"

	// userStackTop is the top of the user stack handed to the init task;
	// SpawnELF maps the stack pages below it in the task's own address
	// space.
	userStackTop uintptr = 0x7FFFFFFFF000
)

// keyboardDataPort is the PS/2 controller's data port, read once per
// keyboard IRQ to pick up the scancode that triggered it (spec §4.4).
const keyboardDataPort = 0x60

// installIRQHandlers registers the two interrupt handlers the scheduler
// and keyboard driver depend on (spec §4.4): the timer vector advances the
// scheduler's tick counter and calls Schedule, the keyboard vector reads
// one scancode off the PS/2 data port and feeds it to the keyboard driver.
// Both acknowledge with apic.EOI (the timer handler before it calls
// Schedule) rather than the legacy 8259 EOI, since
// apic.Init disables the PICs before either vector can fire.
func installIRQHandlers() {
	gate.HandleInterrupt(gate.Timer, 0, func(*gate.Registers) {
		sched.Tick()
		apic.EOI()
		sched.Schedule()
	})

	gate.HandleInterrupt(gate.Keyboard, 0, func(*gate.Registers) {
		scancode := cpu.Inb(keyboardDataPort)
		keyboard.HandleScancode(scancode)
		apic.EOI()
	})
}

// ataDevice adapts the package-level device/ata functions to the
// partition.BlockDevice interface fs/partition and fs/fat32 are written
// against, so the same FAT32 driver cmd/mkvyperimg exercises over a plain
// file runs here over the real ATA bus.
type ataDevice struct{}

func (ataDevice) ReadSector(lba uint32, buf *[partition.SectorSize]byte) *kernel.Error {
	return ata.ReadSector(lba, buf)
}

func (ataDevice) WriteSector(lba uint32, buf *[partition.SectorSize]byte) *kernel.Error {
	return ata.WriteSector(lba, buf)
}

// Kmain is the only Go symbol the boot trampoline calls. By the time it
// runs, the bootloader handshake is already done: boot.SetMemoryMap,
// boot.SetFramebufferInfo and boot.SetHHDMOffset have been called with
// whatever values Limine handed the trampoline, and the kernel's own PML4
// is already active in CR3. Kmain brings up every other subsystem in the
// order the boot sequence calls for: PMM, then VMM, then the heap, then
// the GDT/IDT, then the mounted filesystems, then the init task, then
// interrupts, then the scheduler loop.
//
// Kmain is not expected to return; if every init step succeeds it never
// reaches its end because Schedule runs forever once interrupts drive it.
//
//go:noinline
func Kmain() {
	kfmt.Printf("starting kernel\n")

	var err *kernel.Error
	if err = pmm.Init(); err != nil {
		kfmt.Panic(err)
	}

	vmm.InitKernelAddressSpace()
	kernelSpace, err := vmm.New()
	if err != nil {
		kfmt.Panic(err)
	}
	kernelSpace.Activate()

	if err = heap.Init(kernelSpace); err != nil {
		kfmt.Panic(err)
	}

	sel := gdt.Init()
	gate.Init()
	syscall.Init(sel)
	sched.Init()
	installIRQHandlers()

	if err := apic.Init(kernelSpace, uint8(gate.Timer), uint8(gate.Keyboard)); err != nil {
		kfmt.Panic(err)
	}

	mountFilesystems()
	spawnInit()

	cpu.EnableInterrupts()
	sched.Schedule()

	kfmt.Panic(errKmainReturned)
}

// mountFilesystems wires up the VFS mount table: tmpfs at /tmp for scratch
// space (spec §8 scenario 2: "TmpFs mounted at /tmp"), tasksfs at
// /live/tasks for the live process list (spec §8 scenario 1: "Readdir of
// /live/tasks returns exactly one entry"; §6 groups /live/* with /dev/* as
// the paths that are "not persisted"), and the first FAT32 partition the
// ATA disk's partition table names mounted at /, so the rest of boot can
// open paths under it. A missing disk or partition table is logged, not
// fatal -- tmpfs and tasksfs alone are still a usable VFS.
func mountFilesystems() {
	if err := vfs.Mount("/tmp", tmpfs.New()); err != nil {
		kfmt.Panic(err)
	}
	if err := vfs.Mount("/live/tasks", tasksfs.New()); err != nil {
		kfmt.Panic(err)
	}

	if err := ata.Init(); err != nil {
		kfmt.Printf("ata: %s (no root filesystem mounted)\n", err.Error())
		return
	}

	dev := ataDevice{}
	part, err := partition.FindFat32(dev)
	if err != nil {
		kfmt.Printf("partition: %s (no root filesystem mounted)\n", err.Error())
		return
	}

	root, ferr := fat32.New(dev, part.StartLBA)
	if ferr != nil {
		kfmt.Printf("fat32: %s (no root filesystem mounted)\n", ferr.Error())
		return
	}
	if err := vfs.Mount("/", root); err != nil {
		kfmt.Panic(err)
	}
}

// spawnInit loads initPath from the mounted root filesystem and hands it to
// the scheduler as the first user task. A missing or unloadable init binary
// is logged, not fatal: the kernel still reaches its scheduler loop and a
// later syscall-driven exec could take over from there.
func spawnInit() {
	h, err := vfs.Open(initPath, vfs.ORDONLY)
	if err != nil {
		kfmt.Printf("open %s: %s\n", initPath, err.Error())
		return
	}

	meta, err := h.Metadata()
	if err != nil {
		kfmt.Printf("stat %s: %s\n", initPath, err.Error())
		return
	}

	data := make([]byte, meta.Size)
	if _, err := h.Read(data); err != nil {
		kfmt.Printf("read %s: %s\n", initPath, err.Error())
		return
	}

	if _, err := sched.SpawnELF(initPath, data, userStackTop); err != nil {
		kfmt.Printf("spawn %s: %s\n", initPath, err.Error())
	}
}
