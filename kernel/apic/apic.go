// Package apic programs the Local APIC timer and the IOAPIC keyboard
// redirection spec §4.4 calls for: disable the legacy 8259 PICs, map the
// LAPIC/IOAPIC MMIO windows, calibrate the LAPIC timer against the PIT
// (channel 2, gated through port 0x61, over a 10 ms window per §4.4), then
// reprogram the LAPIC in periodic mode at that calibrated 10 ms rate.
//
// No teacher equivalent exists (gopher-os never reached a working timer);
// built from spec.md §4.4 literally, field-for-field against
// original_source/vcore/src/cpu/apic.rs (LAPIC/IOAPIC register offsets,
// the PIT_FREQ=1193182 divisor, the gate-and-poll calibration loop, and
// the IOAPIC redirection table packing). The Rust source maps the LAPIC
// and IOAPIC windows at fixed negative-offset virtual addresses before any
// page-table abstraction exists; this port instead goes through
// vmm.AddressSpace.Map the same way kernel/mm/heap maps its fixed window,
// since that handle already exists by the time Kmain reaches interrupt
// setup.
package apic

import (
	"unsafe"

	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/mm"
	"github.com/talonateox/vyper/kernel/mm/vmm"
)

const (
	lapicPhys uintptr = 0xFEE00000
	ioapicPhys uintptr = 0xFEC00000

	// lapicVirt/ioapicVirt are fixed kernel-half windows for the two MMIO
	// regions, chosen well clear of the heap window
	// (kernel/mm/heap.windowStart) so the two never overlap.
	lapicVirt  uintptr = 0xffff900000000000
	ioapicVirt uintptr = 0xffff900000001000

	regID        = 0x020
	regEOI       = 0x0B0
	regSpurious  = 0x0F0
	regTimerLVT  = 0x320
	regTimerInit = 0x380
	regTimerCur  = 0x390
	regTimerDiv  = 0x3E0

	ioRegSelect = 0x00
	ioRegData   = 0x10
	ioRedTblBase = 0x10

	spuriousVector = 0xFF

	// pitFreq is the PIT's fixed input clock in Hz.
	pitFreq = 1193182
	// calibrateMS is the PIT gate window used to measure ticks_per_ms
	// (spec §4.4: "the PIT is set to count down over a fixed interval
	// (e.g. 10 ms)").
	calibrateMS = 10
	// tickIntervalMS is the periodic rate the LAPIC timer is finally
	// programmed at (spec §4.4 / glossary "Tick": "~10 ms in this
	// kernel").
	tickIntervalMS = 10

	portPITCmd  = 0x43
	portPITCh2  = 0x42
	portPITGate = 0x61

	pitModeGate = 0b10110010
	gateEnable  = 0x01
	gateOutput  = 0x20

	// KeyboardIRQ is the legacy PIC IRQ line the PS/2 keyboard controller
	// raises; the IOAPIC redirects it to KeyboardVector.
	KeyboardIRQ = uint8(1)
)

var ticksPerMS uint32

func ptrAt(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

func lapicRead(offset uintptr) uint32 {
	return *(*uint32)(ptrAt(lapicVirt + offset))
}

func lapicWrite(offset uintptr, value uint32) {
	*(*uint32)(ptrAt(lapicVirt + offset)) = value
}

func ioapicWrite(reg uint32, value uint32) {
	*(*uint32)(ptrAt(ioapicVirt + ioRegSelect)) = reg
	*(*uint32)(ptrAt(ioapicVirt + ioRegData)) = value
}

// disablePIC remaps the legacy 8259 PICs out of the way and masks every
// line, the standard dance to keep them from ever firing a stray vector
// that collides with the IOAPIC's once both exist (original_source's
// disable_pic, ported verbatim).
func disablePIC() {
	const (
		pic1Cmd  = 0x20
		pic1Data = 0x21
		pic2Cmd  = 0xA0
		pic2Data = 0xA1
	)

	cpu.Outb(pic1Cmd, 0x11)
	cpu.Outb(pic2Cmd, 0x11)
	cpu.Outb(pic1Data, 0x20)
	cpu.Outb(pic2Data, 0x28)
	cpu.Outb(pic1Data, 4)
	cpu.Outb(pic2Data, 2)
	cpu.Outb(pic1Data, 0x01)
	cpu.Outb(pic2Data, 0x01)
	cpu.Outb(pic1Data, 0xFF)
	cpu.Outb(pic2Data, 0xFF)
}

// pitDivisor returns the PIT channel-2 reload value for a calibration
// window of ms milliseconds at the PIT's fixed input clock.
func pitDivisor(ms uint32) uint16 {
	return uint16((pitFreq / 1000) * ms)
}

// ticksFromElapsed derives ticks-per-ms from how many LAPIC timer counts
// elapsed (counting down from 0xFFFFFFFF) over a ms-millisecond PIT gate.
func ticksFromElapsed(startCount, endCount uint32, ms uint32) uint32 {
	return (startCount - endCount) / ms
}

// ioRedTblReg returns the IOAPIC redirection-table register pair's low
// register index for irq (spec §4.11/§4.4: "IOAPIC_REDTBL_BASE + irq*2").
func ioRedTblReg(irq uint8) uint32 {
	return uint32(ioRedTblBase) + uint32(irq)*2
}

// calibrate gates PIT channel 2 over calibrateMS milliseconds while the
// LAPIC timer counts down from its maximum, and derives ticksPerMS from
// how far it got.
func calibrate() {
	divisor := pitDivisor(calibrateMS)

	cpu.Outb(portPITCmd, pitModeGate)

	gate := cpu.Inb(portPITGate)
	cpu.Outb(portPITGate, gate|gateEnable)

	cpu.Outb(portPITCh2, uint8(divisor&0xFF))
	cpu.Outb(portPITCh2, uint8(divisor>>8))

	lapicWrite(regTimerDiv, 0x3)
	lapicWrite(regTimerInit, 0xFFFFFFFF)

	for cpu.Inb(portPITGate)&gateOutput == 0 {
	}

	endCount := lapicRead(regTimerCur)
	lapicWrite(regTimerInit, 0)

	ticksPerMS = ticksFromElapsed(0xFFFFFFFF, endCount, calibrateMS)
}

// Init maps the LAPIC and IOAPIC MMIO windows into kernelSpace, disables
// the legacy PIC, calibrates the LAPIC timer against the PIT, and leaves
// the LAPIC timer programmed in periodic mode at tickIntervalMS, delivering
// timerVector (spec §4.4). keyboardVector is the IDT vector the IOAPIC
// routes IRQ1 to.
func Init(kernelSpace *vmm.AddressSpace, timerVector, keyboardVector uint8) *kernel.Error {
	flags := vmm.FlagRW | vmm.FlagNoExecute | vmm.FlagNoCache

	if err := kernelSpace.Map(mm.PageFromAddress(lapicVirt), mm.FrameFromAddress(lapicPhys), flags); err != nil {
		return err
	}
	if err := kernelSpace.Map(mm.PageFromAddress(ioapicVirt), mm.FrameFromAddress(ioapicPhys), flags); err != nil {
		return err
	}

	disablePIC()

	lapicWrite(regSpurious, 0x100|spuriousVector)

	calibrate()

	ticks := ticksPerMS * tickIntervalMS
	lapicWrite(regTimerDiv, 0x3)
	lapicWrite(regTimerLVT, (1<<17)|uint32(timerVector))
	lapicWrite(regTimerInit, ticks)

	redTblReg := ioRedTblReg(KeyboardIRQ)
	ioapicWrite(redTblReg, uint32(keyboardVector))
	ioapicWrite(redTblReg+1, 0)

	return nil
}

// EOI signals end-of-interrupt to the Local APIC; every timer and keyboard
// handler must call this instead of the legacy 8259 EOI since disablePIC
// has already masked those controllers off (spec §4.4).
func EOI() {
	lapicWrite(regEOI, 0)
}

// TicksPerMS returns the value calibrate() derived, exposed for tests and
// diagnostics.
func TicksPerMS() uint32 {
	return ticksPerMS
}
